// Package policy computes the permitted tool set for a job from a
// point-in-time agent snapshot. Grants and role flags are re-read per job,
// so role changes take effect on the agent's next run.
package policy

import (
	"sort"

	"github.com/loomworks/loom/pkg/models"
)

// Mandatory tool lists contributed by agent-state predicates.
var (
	// GroupTools are granted to any agent participating in a group.
	GroupTools = []string{"group_send", "group_read"}

	// SkillTools are granted to any agent with equipped skills.
	SkillTools = []string{"file_inspect", "shell_restricted"}

	// SessionTools are granted to any agent with existing sessions.
	SessionTools = []string{"memory_recall", "memory_store"}

	// SupervisorTools are granted to supervisor-role agents.
	SupervisorTools = []string{"dispatch_job", "send_mail", "read_team_logs"}

	// GuardianTools are granted to guardian-role agents.
	GuardianTools = []string{"read_logs", "apply_patch", "dispatch_job"}

	// ProjectLeadTools are granted to project-lead agents.
	ProjectLeadTools = []string{"send_mail", "read_team_logs"}
)

// Predicate inspects an agent snapshot and contributes a fixed tool list
// when it holds. Each predicate is independently testable.
type Predicate struct {
	Name  string
	Holds func(*models.Agent) bool
	Tools []string
}

// DefaultPredicates is the role and state predicate set applied to every
// job in order.
var DefaultPredicates = []Predicate{
	{
		Name:  "in_groups",
		Holds: func(a *models.Agent) bool { return a.InGroups() },
		Tools: GroupTools,
	},
	{
		Name:  "has_skills",
		Holds: func(a *models.Agent) bool { return a.HasSkills() },
		Tools: SkillTools,
	},
	{
		Name:  "has_sessions",
		Holds: func(a *models.Agent) bool { return a.HasSessions() },
		Tools: SessionTools,
	},
	{
		Name:  "is_supervisor",
		Holds: func(a *models.Agent) bool { return a.Role == models.RoleSupervisor },
		Tools: SupervisorTools,
	},
	{
		Name:  "is_guardian",
		Holds: func(a *models.Agent) bool { return a.Role == models.RoleGuardian },
		Tools: GuardianTools,
	},
	{
		Name:  "is_project_lead",
		Holds: func(a *models.Agent) bool { return a.Role == models.RoleProjectLead },
		Tools: ProjectLeadTools,
	},
}

// Resolve returns the permitted tool set for one job: the agent's explicit
// grants unioned with every holding predicate's contribution. The result is
// deduplicated and sorted, so equal snapshots resolve to equal sets.
func Resolve(agent *models.Agent) []string {
	if agent == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string

	add := func(tools []string) {
		for _, tool := range tools {
			if tool == "" || seen[tool] {
				continue
			}
			seen[tool] = true
			out = append(out, tool)
		}
	}

	add(agent.GrantedTools)
	for _, pred := range DefaultPredicates {
		if pred.Holds(agent) {
			add(pred.Tools)
		}
	}

	sort.Strings(out)
	return out
}

// Allowed reports whether a tool is in the resolved set.
func Allowed(set []string, tool string) bool {
	for _, t := range set {
		if t == tool {
			return true
		}
	}
	return false
}
