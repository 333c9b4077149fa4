// Package metrics exposes the contributor rewards service metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "doublezero_contributor_rewards_build_info",
			Help: "Build information of the contributor rewards worker",
		},
		[]string{"version", "commit", "date"},
	)

	SchedulerSuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doublezero_contributor_rewards_scheduler_success_total",
		Help: "Number of successful scheduler runs",
	})

	SchedulerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doublezero_contributor_rewards_scheduler_failure_total",
		Help: "Number of failed scheduler runs",
	})

	SnapshotsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doublezero_contributor_rewards_snapshots_created_total",
		Help: "Number of epoch snapshots created",
	})

	SnapshotFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doublezero_contributor_rewards_snapshot_failures_total",
		Help: "Number of snapshot creation failures",
	})

	SnapshotSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "doublezero_contributor_rewards_snapshot_size_bytes",
		Help: "Size of the most recent snapshot in bytes",
	})

	EpochsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doublezero_contributor_rewards_epochs_processed_total",
		Help: "Number of epochs fully processed",
	})

	CurrentEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "doublezero_contributor_rewards_current_epoch",
		Help: "Target epoch currently being processed",
	})

	LastSuccessfulEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "doublezero_contributor_rewards_last_successful_epoch",
		Help: "Last epoch processed successfully",
	})

	LastSnapshotEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "doublezero_contributor_rewards_last_snapshot_epoch",
		Help: "Last epoch a snapshot was created for",
	})

	ShapleyComputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doublezero_contributor_rewards_shapley_computations_total",
		Help: "Per-city Shapley computations",
	}, []string{"city"})

	ShapleyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "doublezero_contributor_rewards_shapley_duration_seconds",
		Help:    "Wall-clock duration of the full Shapley computation",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
