package observability

import (
	"sync"
	"time"
)

// DiagnosticKind categorizes a diagnostic record.
type DiagnosticKind string

const (
	DiagJobFailed      DiagnosticKind = "job.failed"
	DiagRoutineError   DiagnosticKind = "routine.error"
	DiagQueueDeadLetter DiagnosticKind = "queue.dead_letter"
)

// Diagnostic is one structured record of an operational failure, kept for
// operator visibility separate from the user-facing job error string.
type Diagnostic struct {
	Kind      DiagnosticKind `json:"kind"`
	JobID     string         `json:"job_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	RoutineID string         `json:"routine_id,omitempty"`
	Message   string         `json:"message"`
	Detail    string         `json:"detail,omitempty"`
	Time      time.Time      `json:"time"`
}

// Diagnostics is a bounded in-memory ring of diagnostic records.
type Diagnostics struct {
	mu      sync.Mutex
	records []Diagnostic
	max     int
}

// NewDiagnostics creates a diagnostics sink retaining up to max records.
func NewDiagnostics(max int) *Diagnostics {
	if max <= 0 {
		max = 256
	}
	return &Diagnostics{max: max}
}

// Record appends a diagnostic, evicting the oldest when full.
func (d *Diagnostics) Record(rec Diagnostic) {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, rec)
	if len(d.records) > d.max {
		d.records = d.records[len(d.records)-d.max:]
	}
}

// Recent returns up to n most recent diagnostics, newest last.
func (d *Diagnostics) Recent(n int) []Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 || n > len(d.records) {
		n = len(d.records)
	}
	out := make([]Diagnostic, n)
	copy(out, d.records[len(d.records)-n:])
	return out
}
