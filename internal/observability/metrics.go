package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain counters. Label values are drawn from closed enumerations so
// cardinality stays bounded.
var (
	// WebhookDispositions counts deliveries by event kind and disposition
	// (accepted_new, accepted_duplicate, rejected_invalid, ignored, failed).
	WebhookDispositions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook deliveries by event kind and disposition.",
		},
		[]string{"kind", "disposition"},
	)

	// DispatchAttempts counts email dispatch attempts by template and outcome.
	DispatchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_dispatch_attempts_total",
			Help: "Email dispatch attempts by template and outcome.",
		},
		[]string{"email_type", "outcome"},
	)

	// AlertEvaluations counts alert evaluations by type and result
	// (raised, suppressed).
	AlertEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_evaluations_total",
			Help: "Alert evaluations by alert type and result.",
		},
		[]string{"alert_type", "result"},
	)

	// AlertDeliveries counts notification channel outcomes.
	AlertDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_deliveries_total",
			Help: "Alert notification deliveries by status.",
		},
		[]string{"status"},
	)

	// TerminalAnomalies counts terminal events that disagreed with an
	// already-closed call.
	TerminalAnomalies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_terminal_anomalies_total",
			Help: "Conflicting terminal events received for already-closed calls.",
		},
	)

	// BackgroundDropped counts side effects rejected because the runner was full or stopped.
	BackgroundDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "background_tasks_dropped_total",
			Help: "Background side effects dropped because the runner was saturated or stopped.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		WebhookDispositions,
		DispatchAttempts,
		AlertEvaluations,
		AlertDeliveries,
		TerminalAnomalies,
		BackgroundDropped,
	)
}
