package routines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/agents"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/pkg/models"
)

// defaultPruneRating is the prune_content threshold when the payload does
// not set one: documents rated strictly below it are removed.
const defaultPruneRating = 1.0

// Actions executes the closed set of routine behaviors. Each behavior is
// safe to re-run; a duplicate fire produces a duplicate effect at worst,
// never a corrupt state.
type Actions struct {
	agents    agents.Store
	documents agents.DocumentStore
	jobs      jobs.Store
	queue     jobs.Queue
	diags     *observability.Diagnostics
	logger    *slog.Logger
}

// NewActions wires the action set to its collaborators.
func NewActions(
	agentStore agents.Store,
	documents agents.DocumentStore,
	jobStore jobs.Store,
	queue jobs.Queue,
	diags *observability.Diagnostics,
	logger *slog.Logger,
) *Actions {
	if logger == nil {
		logger = slog.Default()
	}
	if diags == nil {
		diags = observability.NewDiagnostics(0)
	}
	return &Actions{
		agents:    agentStore,
		documents: documents,
		jobs:      jobStore,
		queue:     queue,
		diags:     diags,
		logger:    logger.With("component", "routine_actions"),
	}
}

// Execute runs one routine's action and reports the outcome for its log
// row. Unknown actions are rejected, not ignored, so misconfiguration
// shows up in the fire log.
func (a *Actions) Execute(ctx context.Context, routine *models.Routine) (models.RoutineOutcome, string) {
	var err error
	var msg string

	switch routine.Action {
	case models.ActionSleep:
		msg, err = a.setState(ctx, routine, models.AgentSleeping)
	case models.ActionWake:
		msg, err = a.setState(ctx, routine, models.AgentAwake)
	case models.ActionEquipSkills:
		msg, err = a.equipSkills(ctx, routine)
	case models.ActionReflect:
		msg, err = a.reflect(ctx, routine)
	case models.ActionPruneContent:
		msg, err = a.pruneContent(ctx, routine)
	case models.ActionSupervisorReport:
		msg, err = a.supervisorReport(ctx, routine)
	case models.ActionGuardianTriage:
		msg, err = a.guardianTriage(ctx, routine)
	case models.ActionReportChain:
		msg, err = a.reportChain(ctx, routine)
	default:
		return models.RoutineRejected, fmt.Sprintf("unknown action %q", routine.Action)
	}

	if err != nil {
		var rej *rejection
		if errors.As(err, &rej) {
			return models.RoutineRejected, rej.reason
		}
		return models.RoutineError, err.Error()
	}
	return models.RoutineOK, msg
}

// rejection marks a configuration problem, distinct from an operational
// error.
type rejection struct {
	reason string
}

func (r *rejection) Error() string { return r.reason }

func reject(format string, args ...any) error {
	return &rejection{reason: fmt.Sprintf(format, args...)}
}

type statePayload struct {
	ResetContext bool `json:"reset_context"`
}

func (a *Actions) setState(ctx context.Context, routine *models.Routine, state models.AgentState) (string, error) {
	var payload statePayload
	if err := decodePayload(routine.Payload, &payload); err != nil {
		return "", err
	}
	if err := a.agents.SetState(ctx, routine.AgentID, state, payload.ResetContext); err != nil {
		return "", fmt.Errorf("set state: %w", err)
	}
	msg := fmt.Sprintf("agent %s now %s", routine.AgentID, state)
	if payload.ResetContext {
		msg += ", context reset"
	}
	return msg, nil
}

type equipPayload struct {
	Skills []string `json:"skills"`
}

func (a *Actions) equipSkills(ctx context.Context, routine *models.Routine) (string, error) {
	var payload equipPayload
	if err := decodePayload(routine.Payload, &payload); err != nil {
		return "", err
	}
	if len(payload.Skills) == 0 {
		return "", reject("equip_skills payload names no skills")
	}
	if err := a.agents.EquipSkills(ctx, routine.AgentID, payload.Skills); err != nil {
		return "", fmt.Errorf("equip skills: %w", err)
	}
	return fmt.Sprintf("equipped %s", strings.Join(payload.Skills, ", ")), nil
}

type reflectPayload struct {
	Topic  string  `json:"topic,omitempty"`
	Rating float64 `json:"rating,omitempty"`
}

// reflect composes a self-reflection document from the agent's current
// snapshot, persists it, and equips it as a skill so the next turn can
// recall it.
func (a *Actions) reflect(ctx context.Context, routine *models.Routine) (string, error) {
	var payload reflectPayload
	if err := decodePayload(routine.Payload, &payload); err != nil {
		return "", err
	}
	agentSnap, err := a.agents.Get(ctx, routine.AgentID)
	if err != nil {
		return "", fmt.Errorf("load agent: %w", err)
	}

	now := time.Now().UTC()
	title := "reflection-" + now.Format("2006-01-02")
	doc := &agents.Document{
		ID:      uuid.NewString(),
		AgentID: agentSnap.ID,
		Kind:    agents.DocReflection,
		Title:   title,
		Content: composeReflection(agentSnap, payload.Topic, now),
		Rating:  payload.Rating,
	}
	if err := a.documents.Put(ctx, doc); err != nil {
		return "", fmt.Errorf("store reflection: %w", err)
	}
	if err := a.agents.EquipSkills(ctx, agentSnap.ID, []string{title}); err != nil {
		return "", fmt.Errorf("equip reflection: %w", err)
	}
	return fmt.Sprintf("wrote and equipped %s", title), nil
}

func composeReflection(agentSnap *models.Agent, topic string, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reflection for %s (%s) on %s.\n", agentSnap.Name, agentSnap.Role, now.Format("2006-01-02"))
	if topic != "" {
		fmt.Fprintf(&b, "Focus: %s.\n", topic)
	}
	fmt.Fprintf(&b, "Groups: %d, sessions: %d, equipped skills: %d.\n",
		agentSnap.GroupCount, agentSnap.SessionCount, len(agentSnap.EquippedSkills))
	return b.String()
}

type prunePayload struct {
	MinRating *float64 `json:"min_rating,omitempty"`
}

func (a *Actions) pruneContent(ctx context.Context, routine *models.Routine) (string, error) {
	var payload prunePayload
	if err := decodePayload(routine.Payload, &payload); err != nil {
		return "", err
	}
	threshold := defaultPruneRating
	if payload.MinRating != nil {
		threshold = *payload.MinRating
	}
	pruned, err := a.documents.PruneBelowRating(ctx, routine.AgentID, threshold)
	if err != nil {
		return "", fmt.Errorf("prune content: %w", err)
	}
	return fmt.Sprintf("pruned %d documents below %.1f", pruned, threshold), nil
}

// supervisorReport composes a daily operational report from the recent
// diagnostics and persists it as a document on the supervisor.
func (a *Actions) supervisorReport(ctx context.Context, routine *models.Routine) (string, error) {
	recent := a.diags.Recent(50)
	now := time.Now().UTC()

	var b strings.Builder
	fmt.Fprintf(&b, "Daily report %s.\n", now.Format("2006-01-02"))
	if len(recent) == 0 {
		b.WriteString("No failures recorded.\n")
	}
	for _, rec := range recent {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", rec.Kind, rec.JobID, rec.Message)
	}

	title := "report-" + now.Format("2006-01-02")
	doc := &agents.Document{
		ID:      uuid.NewString(),
		AgentID: routine.AgentID,
		Kind:    agents.DocReport,
		Title:   title,
		Content: b.String(),
		Rating:  defaultPruneRating,
	}
	if err := a.documents.Put(ctx, doc); err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	return fmt.Sprintf("wrote %s covering %d failures", title, len(recent)), nil
}

// guardianTriage scans recent failures and, when any exist, enqueues a
// remediation job for the guardian agent through the same queue as every
// other job.
func (a *Actions) guardianTriage(ctx context.Context, routine *models.Routine) (string, error) {
	var failed []observability.Diagnostic
	for _, rec := range a.diags.Recent(50) {
		if rec.Kind == observability.DiagJobFailed {
			failed = append(failed, rec)
		}
	}
	if len(failed) == 0 {
		return "no failures to triage", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Triage %d failed jobs and propose remediation:\n", len(failed))
	for _, rec := range failed {
		fmt.Fprintf(&b, "- job %s (agent %s): %s\n", rec.JobID, rec.AgentID, rec.Message)
	}

	jobID, err := a.enqueueJob(ctx, routine.AgentID, b.String())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("enqueued remediation job %s for %d failures", jobID, len(failed)), nil
}

type reportChainPayload struct {
	// ReportTo is the next agent up the chain: a worker reports to its
	// group owner, the owner to the project lead, the lead to the
	// supervisor.
	ReportTo string `json:"report_to"`
}

// reportChain composes a status line for this agent and enqueues a job on
// the next agent up the chain carrying it.
func (a *Actions) reportChain(ctx context.Context, routine *models.Routine) (string, error) {
	var payload reportChainPayload
	if err := decodePayload(routine.Payload, &payload); err != nil {
		return "", err
	}
	if payload.ReportTo == "" {
		return "", reject("report_chain payload names no report_to agent")
	}
	target, err := a.agents.Get(ctx, payload.ReportTo)
	if err != nil {
		return "", fmt.Errorf("load report target: %w", err)
	}

	reporter, err := a.agents.Get(ctx, routine.AgentID)
	if err != nil {
		return "", fmt.Errorf("load agent: %w", err)
	}
	text := fmt.Sprintf(
		"Status report from %s (%s): state %s, %d groups, %d sessions, %d skills equipped. Summarize and pass upward if you report to someone.",
		reporter.Name, reporter.Role, reporter.State,
		reporter.GroupCount, reporter.SessionCount, len(reporter.EquippedSkills),
	)

	jobID, err := a.enqueueJob(ctx, target.ID, text)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("report delivered to %s as job %s", target.ID, jobID), nil
}

// enqueueJob creates a batch job for an agent and hands it to the queue.
func (a *Actions) enqueueJob(ctx context.Context, agentID, text string) (string, error) {
	input, err := json.Marshal(models.JobInput{Text: text})
	if err != nil {
		return "", fmt.Errorf("encode job input: %w", err)
	}
	job := &models.Job{
		ID:      uuid.NewString(),
		AgentID: agentID,
		Kind:    models.JobKindBatch,
		Status:  models.JobQueued,
		Input:   input,
	}
	if err := a.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := a.queue.Enqueue(ctx, job.Kind, jobs.Message{JobID: job.ID}); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return job.ID, nil
}

func decodePayload(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return reject("malformed payload: %v", err)
	}
	return nil
}
