package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "karma_events_enqueued_total",
		Help: "Total number of events placed on the processing queue.",
	})

	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karma_events_processed_total",
		Help: "Total number of events run through the pipeline, labelled by event type and status.",
	}, []string{"type", "status"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "karma_events_dropped_total",
		Help: "Total number of events rejected due to a full queue.",
	})

	FlagsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karma_audit_flags_total",
		Help: "Degraded pipeline stages recorded on audit records, labelled by flag.",
	}, []string{"flag"})

	PlansRecommended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karma_plans_recommended_total",
		Help: "Atonement plans proposed, labelled by pillar.",
	}, []string{"pillar"})

	PlansCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karma_plans_completed_total",
		Help: "Atonement plans completed, labelled by pillar.",
	}, []string{"pillar"})

	DebtOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karma_debt_operations_total",
		Help: "Debt repayments and transfers committed, labelled by operation.",
	}, []string{"op"})

	PolicyReward =promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "karma_policy_reward",
		Help:    "Reward fed into the recommender on plan completion.",
		Buckets: []float64{-1, -0.5, -0.25, 0, 0.25, 0.5, 0.75, 1},
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "karma_stage_duration_ms",
		Help:    "Per-stage pipeline latency in milliseconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 1000},
	}, []string{"stage"})

	EventProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "karma_event_processing_duration_ms",
		Help:    "End-to-end event processing latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "karma_queue_utilization_ratio",
		Help: "Current event queue utilization (0–1).",
	})

	StoreRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karma_store_retries_total",
		Help: "Store calls retried after a transient failure, labelled by operation.",
	}, []string{"op"})

	PersistenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karma_persistence_errors_total",
		Help: "Store failures surfaced to callers after the retry budget, labelled by operation.",
	}, []string{"op"})

	AuditMirrorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "karma_audit_mirror_errors_total",
		Help: "Audit records the stream mirror failed to publish.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karma_http_requests_total",
		Help: "HTTP requests served, labelled by route pattern and status code.",
	}, []string{"route", "code"})
)
