package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImportRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_import_rows_total",
		Help: "Statement rows seen by the importer, by outcome.",
	}, []string{"outcome"})

	LifecycleMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_lifecycle_mutations_total",
		Help: "Single-record lifecycle mutations, by action and outcome.",
	}, []string{"action", "outcome"})

	BulkItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_bulk_items_total",
		Help: "Records processed by bulk operations, by operation and outcome.",
	}, []string{"operation", "outcome"})

	SyncJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_sync_jobs_total",
		Help: "External sync jobs, by final status.",
	}, []string{"status"})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconciliation_sync_duration_seconds",
		Help:    "Wall time of external sync jobs.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
)
