package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Transition metrics
	TransitionsTotal   *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	TransitionErrors   *prometheus.CounterVec
	ConflictRetries    prometheus.Counter
	IdempotentReplays  prometheus.Counter

	// Condition evaluator metrics
	ConditionWarnings prometheus.Counter

	// Authorization metrics
	DenialsTotal *prometheus.CounterVec

	// Timer metrics
	TimersScheduled prometheus.Counter
	TimersCancelled prometheus.Counter
	TimersFired     prometheus.Counter
	TimersStale     prometheus.Counter

	// Escalation metrics
	EscalationsTotal *prometheus.CounterVec

	// Event bus metrics
	EventsPublished      *prometheus.CounterVec
	EventHandlerFailures *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// NewMetrics creates and registers Prometheus metrics. Registration happens
// once per process; subsequent calls return the same instance.
func NewMetrics() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			TransitionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_transitions_total",
					Help: "Total number of transition attempts",
				},
				[]string{"tenant_id", "result"},
			),

			TransitionDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "engine_transition_duration_seconds",
					Help:    "Duration of transition execution",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"result"},
			),

			TransitionErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_transition_errors_total",
					Help: "Total number of transition errors",
				},
				[]string{"error_type"},
			),

			ConflictRetries: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "engine_conflict_retries_total",
					Help: "Total number of compare-and-swap retries",
				},
			),

			IdempotentReplays: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "engine_idempotent_replays_total",
					Help: "Total number of transitions answered from the idempotency cache",
				},
			),

			ConditionWarnings: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "engine_condition_warnings_total",
					Help: "Total number of non-fatal condition evaluation warnings",
				},
			),

			DenialsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_authorization_denials_total",
					Help: "Total number of authorization denials",
				},
				[]string{"tenant_id", "reason"},
			),

			TimersScheduled: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "engine_sla_timers_scheduled_total",
					Help: "Total number of SLA timers scheduled",
				},
			),

			TimersCancelled: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "engine_sla_timers_cancelled_total",
					Help: "Total number of SLA timers cancelled",
				},
			),

			TimersFired: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "engine_sla_timers_fired_total",
					Help: "Total number of SLA timers fired",
				},
			),

			TimersStale: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "engine_sla_timers_stale_total",
					Help: "Total number of SLA timers discarded as stale",
				},
			),

			EscalationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_escalations_total",
					Help: "Total number of escalation rules applied",
				},
				[]string{"tenant_id", "action"},
			),

			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_events_published_total",
					Help: "Total number of domain events published",
				},
				[]string{"type"},
			),

			EventHandlerFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_event_handler_failures_total",
					Help: "Total number of event handler failures after retries",
				},
				[]string{"handler"},
			),
		}
	})
	return instance
}
