// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Workflow execution metrics.
var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketflow_workflow_executions_total",
			Help: "Workflow executions by terminal status.",
		},
		[]string{"trigger_type", "source", "status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketflow_workflow_execution_duration_seconds",
			Help:    "Wall time of a workflow execution.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"trigger_type"},
	)

	RunsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketflow_workflow_runs_skipped_total",
			Help: "Workflow runs not started, by reason.",
		},
		[]string{"reason"},
	)

	VersionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketflow_workflow_version_conflicts_total",
			Help: "Concurrent workflow writes detected while persisting a run.",
		},
	)
)

// Dispatch metrics.
var (
	DispatchTargetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketflow_dispatch_targets_total",
			Help: "Per-target action outcomes.",
		},
		[]string{"action_type", "outcome"},
	)

	TargetsResolved = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketflow_targets_resolved",
			Help:    "Number of customers selected by the filter pipeline.",
			Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000},
		},
		[]string{"trigger_type"},
	)
)

// Trigger and scheduling metrics.
var (
	TriggerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketflow_trigger_events_total",
			Help: "Domain events evaluated against workflows.",
		},
		[]string{"event_type"},
	)

	TriggerMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketflow_trigger_matches_total",
			Help: "Workflows fired by a domain event.",
		},
		[]string{"trigger_type"},
	)

	SchedulerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketflow_scheduler_runs_total",
			Help: "Scheduler cadences executed.",
		},
		[]string{"cadence"},
	)
)

// Event bus metrics. Outcome is delivered, dropped or retried.
var BusMessagesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "marketflow_bus_messages_total",
		Help: "Messages consumed from the event bus by outcome.",
	},
	[]string{"event_type", "outcome"},
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
