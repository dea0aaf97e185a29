// Package metrics defines the Prometheus instrumentation for the sync
// engine. All collectors are registered on the default registry and served
// by the httpapi package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsProcessed counts operations that reached completed, per kind.
	OperationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_operations_processed_total",
			Help: "Total number of queue operations completed successfully",
		},
		[]string{"kind"},
	)

	// OperationsFailed counts operations that were dead-lettered, per kind
	// and terminal error kind.
	OperationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_operations_failed_total",
			Help: "Total number of queue operations moved to the dead-letter set",
		},
		[]string{"kind", "error_kind"},
	)

	// OperationsRetried counts retry schedules, per kind.
	OperationsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_operations_retried_total",
			Help: "Total number of queue operation retry attempts scheduled",
		},
		[]string{"kind"},
	)

	// OperationsSkipped counts operations resolved away by conflict policy.
	OperationsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_operations_skipped_total",
			Help: "Total number of queue operations skipped by conflict resolution",
		},
		[]string{"kind", "resolution"},
	)

	// QueueDepth tracks the number of stored operations per status.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailsync_queue_depth",
			Help: "Number of stored queue operations by status",
		},
		[]string{"status"},
	)

	// OperationsInFlight tracks currently executing operations.
	OperationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsync_operations_in_flight",
			Help: "Number of queue operations currently executing",
		},
	)

	// HealthScore is the weighted system health score in [0,1].
	HealthScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsync_health_score",
			Help: "Weighted system health score between 0 and 1",
		},
	)

	// ComponentHealth reports per-component health (1 healthy, 0.5 degraded,
	// 0.3 offline, 0 unhealthy).
	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailsync_component_health",
			Help: "Per-component health value",
		},
		[]string{"component"},
	)

	// RecoveryActions counts recovery ladder executions per error kind and rung.
	RecoveryActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_recovery_actions_total",
			Help: "Total number of recovery actions attempted",
		},
		[]string{"error_kind", "rung", "result"},
	)

	// SyncRuns counts incremental sync passes per owner and result.
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_sync_runs_total",
			Help: "Total number of incremental sync passes",
		},
		[]string{"owner", "result"},
	)

	// SyncRecordsMerged counts remote records merged locally, per change type.
	SyncRecordsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_sync_records_merged_total",
			Help: "Total number of remote records merged into the local store",
		},
		[]string{"change"},
	)

	// SyncDuration measures incremental sync pass duration.
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailsync_sync_duration_seconds",
			Help:    "Incremental sync pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
