package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects engine-level Prometheus metrics.
type Metrics struct {
	// JobsProcessed counts completed jobs.
	// Labels: kind (interactive|batch), status (succeeded|failed|canceled)
	JobsProcessed *prometheus.CounterVec

	// JobDuration measures job wall time in seconds.
	// Labels: kind
	JobDuration *prometheus.HistogramVec

	// EventsAppended counts events written to the durable log.
	// Labels: type
	EventsAppended *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (ok|error)
	ToolExecutions *prometheus.CounterVec

	// RoutineFires counts routine fires by outcome.
	// Labels: action, outcome (ok|rejected|error)
	RoutineFires *prometheus.CounterVec

	// QueueDepth is the current number of queued messages per pool.
	// Labels: kind
	QueueDepth *prometheus.GaugeVec
}

// NewMetrics creates and registers engine metrics on the given registerer.
// A nil registerer leaves the collectors unregistered (useful in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_jobs_processed_total",
			Help: "Completed jobs by kind and terminal status.",
		}, []string{"kind", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_job_duration_seconds",
			Help:    "Job wall time in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
		EventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_events_appended_total",
			Help: "Events appended to the durable run log.",
		}, []string{"type"}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_tool_executions_total",
			Help: "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),
		RoutineFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_routine_fires_total",
			Help: "Routine fires by action and outcome.",
		}, []string{"action", "outcome"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loom_queue_depth",
			Help: "Messages currently queued per worker pool.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.JobsProcessed, m.JobDuration, m.EventsAppended,
			m.ToolExecutions, m.RoutineFires, m.QueueDepth,
		)
	}
	return m
}
