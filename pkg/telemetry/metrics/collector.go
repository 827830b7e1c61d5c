package metrics

import (
	"time"

	"mercator-hq/sweeper/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every Prometheus metric sweeper exports.
//
// A nil *Collector, or one built with Enabled=false, accepts every Record
// call and does nothing, so components can take one unconditionally.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	deletion *DeletionMetrics
	cycle    *CycleMetrics
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a fresh registry is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{Enabled: true, Namespace: "sweeper"}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg == nil {
		cfg = &config.MetricsConfig{Enabled: true}
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.CycleDurationBuckets) == 0 {
		cfg.CycleDurationBuckets = append([]float64(nil), config.DefaultCycleDurationBuckets...)
	}

	return &Collector{
		config:   cfg,
		registry: registry,
		deletion: NewDeletionMetrics(cfg, registry),
		cycle:    NewCycleMetrics(cfg, registry),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordRegistered counts a message that entered the retention store.
//
// Parameters:
//   - source: where the message was observed ("live" or "backfill")
func (c *Collector) RecordRegistered(source string) {
	if !c.enabled() {
		return
	}
	c.deletion.registered.WithLabelValues(source).Inc()
}

// RecordDeleted counts messages confirmed gone.
//
// Parameters:
//   - method: "bulk" or "single"
//   - n: number of messages
func (c *Collector) RecordDeleted(method string, n int) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.deletion.deleted.WithLabelValues(method).Add(float64(n))
}

// RecordDeleteFailure counts a message that could not be deleted this cycle.
// reason is one of "unreachable", "transient", or "store".
func (c *Collector) RecordDeleteFailure(reason string) {
	if !c.enabled() {
		return
	}
	c.deletion.failures.WithLabelValues(reason).Inc()
}

// RecordSinkRejection counts bulk requests refused by the platform.
func (c *Collector) RecordSinkRejection(reason string) {
	if !c.enabled() {
		return
	}
	c.deletion.rejections.WithLabelValues(reason).Inc()
}

// SetPending updates the number of messages awaiting deletion.
func (c *Collector) SetPending(n int) {
	if !c.enabled() {
		return
	}
	c.deletion.pending.Set(float64(n))
}

// RecordCycle records one expiry monitor cycle.
//
// Parameters:
//   - result: "idle", "ok", "partial", or "error"
//   - d: cycle duration
func (c *Collector) RecordCycle(result string, d time.Duration) {
	if !c.enabled() {
		return
	}
	c.cycle.cycles.WithLabelValues(result).Inc()
	c.cycle.cycleDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordScan records one channel history scan.
func (c *Collector) RecordScan(result string, d time.Duration) {
	if !c.enabled() {
		return
	}
	c.cycle.scans.WithLabelValues(result).Inc()
	c.cycle.scanDuration.Observe(d.Seconds())
}

// RecordAuditDropped counts an audit entry dropped because the buffer was full.
func (c *Collector) RecordAuditDropped() {
	if !c.enabled() {
		return
	}
	c.cycle.auditDropped.Inc()
}

// SetChannels updates the number of channels with an active policy.
func (c *Collector) SetChannels(n int) {
	if !c.enabled() {
		return
	}
	c.cycle.channels.Set(float64(n))
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
