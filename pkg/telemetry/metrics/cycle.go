package metrics

import (
	"mercator-hq/sweeper/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// CycleMetrics tracks the background loops: expiry cycles, history scans,
// and the audit writer.
type CycleMetrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	scans         *prometheus.CounterVec
	scanDuration  prometheus.Histogram
	auditDropped  prometheus.Counter
	channels      prometheus.Gauge
}

// NewCycleMetrics creates and registers cycle metrics with the provided registry.
func NewCycleMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CycleMetrics {
	cm := &CycleMetrics{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "monitor_cycles_total",
				Help:      "Total number of expiry monitor cycles by result",
			},
			[]string{"result"},
		),

		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "monitor_cycle_duration_seconds",
				Help:      "Duration of expiry monitor cycles in seconds",
				Buckets:   cfg.CycleDurationBuckets,
			},
			[]string{"result"},
		),

		scans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "channel_scans_total",
				Help:      "Total number of channel history scans by result",
			},
			[]string{"result"},
		),

		scanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "channel_scan_duration_seconds",
				Help:      "Duration of channel history scans in seconds",
				Buckets:   cfg.CycleDurationBuckets,
			},
		),

		auditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "audit_dropped_total",
				Help:      "Total number of audit entries dropped because the buffer was full",
			},
		),

		channels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "channels",
				Help:      "Number of channels with a retention policy",
			},
		),
	}

	registry.MustRegister(
		cm.cycles,
		cm.cycleDuration,
		cm.scans,
		cm.scanDuration,
		cm.auditDropped,
		cm.channels,
	)

	return cm
}
