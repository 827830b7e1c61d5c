package metrics

import (
	"mercator-hq/sweeper/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// DeletionMetrics tracks messages moving through the retention pipeline.
//
// Metrics:
//   - sweeper_retention_messages_registered_total: messages stored for deletion by source
//   - sweeper_retention_messages_deleted_total: messages confirmed gone by method
//   - sweeper_retention_delete_failures_total: messages left for a retry by reason
//   - sweeper_retention_sink_rejections_total: bulk requests refused by the platform
//   - sweeper_retention_pending_messages: messages awaiting deletion
type DeletionMetrics struct {
	registered *prometheus.CounterVec
	deleted    *prometheus.CounterVec
	failures   *prometheus.CounterVec
	rejections *prometheus.CounterVec
	pending    prometheus.Gauge
}

// NewDeletionMetrics creates and registers deletion metrics with the provided registry.
func NewDeletionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DeletionMetrics {
	dm := &DeletionMetrics{
		registered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "messages_registered_total",
				Help:      "Total number of messages stored for deletion",
			},
			[]string{"source"},
		),

		deleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "messages_deleted_total",
				Help:      "Total number of messages confirmed deleted",
			},
			[]string{"method"},
		),

		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "delete_failures_total",
				Help:      "Total number of message deletions left for a later cycle",
			},
			[]string{"reason"},
		),

		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "sink_rejections_total",
				Help:      "Total number of bulk delete requests refused by the platform",
			},
			[]string{"reason"},
		),

		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "pending_messages",
				Help:      "Number of messages awaiting deletion",
			},
		),
	}

	registry.MustRegister(
		dm.registered,
		dm.deleted,
		dm.failures,
		dm.rejections,
		dm.pending,
	)

	return dm
}
