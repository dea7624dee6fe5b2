package rebuild

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rebuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lakesync_rebuild_duration_seconds",
		Help:    "Duration of reconciliation passes.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"operation", "status"})

	rebuildFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakesync_rebuild_files_total",
		Help: "Catalog records changed by reconciliation.",
	}, []string{"operation"}) // created, updated, deleted

	rebuildAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakesync_rebuild_attempts_total",
		Help: "Reconciliation attempts by outcome.",
	}, []string{"status"}) // success, failure, config_error

	sourcesDirtiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lakesync_sources_dirtied_total",
		Help: "Sources newly flagged for re-aggregation.",
	})

	deletedFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakesync_deleted_files_total",
		Help: "Files processed by admin deletion.",
	}, []string{"result"}) // deleted, failed
)
