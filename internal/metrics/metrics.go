package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "automation_events_received_total",
		Help: "Total number of events accepted for dispatch.",
	})

	EventsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "automation_events_invalid_total",
		Help: "Total number of events rejected by validation.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "automation_events_dropped_total",
		Help: "Total number of executions rejected due to a full queue.",
	})

	AutomationsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_matches_total",
		Help: "Total number of automation matches, labelled by automation ID.",
	}, []string{"automation_id"})

	ExecutionsDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "automation_executions_deduped_total",
		Help: "Total number of re-delivered events skipped by idempotency.",
	})

	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_actions_executed_total",
		Help: "Total number of actions executed, labelled by type and status.",
	}, []string{"action_type", "status"})

	ActionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "automation_action_retries_total",
		Help: "Total number of scheduled action retries.",
	})

	ExecutionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_executions_completed_total",
		Help: "Total number of execution records reaching a terminal status.",
	}, []string{"status"})

	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "automation_dispatch_duration_ms",
		Help:    "Event dispatch latency (matching and enqueueing) in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "automation_queue_utilization_ratio",
		Help: "Current execution queue utilization (0–1).",
	})
)
