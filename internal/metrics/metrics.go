package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hrguard_events_received_total",
		Help: "Total number of audit events handed to the detection workflow.",
	})

	EventsFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hrguard_events_filtered_total",
		Help: "Audit events skipped before rule evaluation, labelled by reason.",
	}, []string{"reason"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hrguard_events_dropped_total",
		Help: "Total number of audit events rejected due to a full worker queue.",
	})

	FindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hrguard_findings_total",
		Help: "Rule matches, labelled by rule ID and severity.",
	}, []string{"rule_id", "severity"})

	Consolidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hrguard_consolidations_total",
		Help: "Consolidation decisions, labelled by outcome (created, merged, suppressed).",
	}, []string{"outcome"})

	WorkflowFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hrguard_workflow_failures_total",
		Help: "Incident workflow executions that failed and were handed to the retry queue.",
	})

	RetryEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hrguard_retry_enqueued_total",
		Help: "Retry queue records created.",
	})

	RetryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hrguard_retry_outcomes_total",
		Help: "Retry replay outcomes, labelled by outcome (processed, rescheduled, dead_lettered).",
	}, []string{"outcome"})

	DeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hrguard_dead_lettered_total",
		Help: "Retry records moved to the dead-letter store, labelled by reason.",
	}, []string{"reason"})

	Drains = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hrguard_retry_drains_total",
		Help: "Retry drain passes actually executed, labelled by trigger reason.",
	}, []string{"reason"})

	StateErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hrguard_state_errors_total",
		Help: "Counter/cooldown backend errors, labelled by store and operation.",
	}, []string{"store", "op"})

	AlertDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hrguard_alert_deliveries_total",
		Help: "Alert channel deliveries, labelled by channel and status.",
	}, []string{"channel", "status"})

	EventProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hrguard_event_processing_duration_ms",
		Help:    "End-to-end detection workflow latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hrguard_queue_utilization_ratio",
		Help: "Current event queue utilization (0 to 1).",
	})
)
