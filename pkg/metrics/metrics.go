// Package metrics provides Prometheus-compatible metrics for rampart run monitoring.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/rampart/pkg/guard"
)

// MetricType defines the type of a metric.
type MetricType string

const (
	// TypeCounter is a monotonically increasing counter.
	TypeCounter MetricType = "counter"
	// TypeGauge is a value that can go up and down.
	TypeGauge MetricType = "gauge"
	// TypeHistogram is a histogram with configurable buckets.
	TypeHistogram MetricType = "histogram"
)

// Counter is a thread-safe counter metric.
type Counter struct {
	name  string
	help  string
	value atomic.Uint64
}

// NewCounter creates a new counter metric.
func NewCounter(name, help string) *Counter {
	return &Counter{
		name: name,
		help: help,
	}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(delta uint64) {
	c.value.Add(delta)
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	return c.value.Load()
}

// Name returns the metric name.
func (c *Counter) Name() string {
	return c.name
}

// Help returns the metric help text.
func (c *Counter) Help() string {
	return c.help
}

// Type returns the metric type.
func (c *Counter) Type() MetricType {
	return TypeCounter
}

// Gauge is a thread-safe gauge metric.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

// NewGauge creates a new gauge metric.
func NewGauge(name, help string) *Gauge {
	return &Gauge{
		name: name,
		help: help,
	}
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(value int64) {
	g.value.Store(value)
}

// SetUint64 sets the gauge to the given unsigned value.
func (g *Gauge) SetUint64(value uint64) {
	g.value.Store(int64(value))
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.value.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.value.Add(-1)
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(delta int64) {
	g.value.Add(delta)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return g.value.Load()
}

// Name returns the metric name.
func (g *Gauge) Name() string {
	return g.name
}

// Help returns the metric help text.
func (g *Gauge) Help() string {
	return g.help
}

// Type returns the metric type.
func (g *Gauge) Type() MetricType {
	return TypeGauge
}

// Histogram is a thread-safe histogram metric. Bucket counts are
// cumulative: a value lands in every bucket whose upper bound it fits.
type Histogram struct {
	mu      sync.RWMutex
	name    string
	help    string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// DefaultHistogramBuckets are the default buckets for histograms.
var DefaultHistogramBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

// NewHistogram creates a new histogram metric with the given buckets.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	if len(buckets) == 0 {
		buckets = DefaultHistogramBuckets
	}
	// Sort buckets
	sortedBuckets := make([]float64, len(buckets))
	copy(sortedBuckets, buckets)
	sort.Float64s(sortedBuckets)

	return &Histogram{
		name:    name,
		help:    help,
		buckets: sortedBuckets,
		counts:  make([]uint64, len(sortedBuckets)),
	}
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += value
	h.count++

	for i, bucket := range h.buckets {
		if value <= bucket {
			h.counts[i]++
		}
	}
}

// ObserveDuration records a duration in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Name returns the metric name.
func (h *Histogram) Name() string {
	return h.name
}

// Help returns the metric help text.
func (h *Histogram) Help() string {
	return h.help
}

// Type returns the metric type.
func (h *Histogram) Type() MetricType {
	return TypeHistogram
}

// Snapshot returns a snapshot of the histogram.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := HistogramSnapshot{
		Buckets: make([]HistogramBucket, len(h.buckets)),
		Sum:     h.sum,
		Count:   h.count,
	}

	for i, bucket := range h.buckets {
		snap.Buckets[i] = HistogramBucket{
			UpperBound: bucket,
			Count:      h.counts[i],
		}
	}

	return snap
}

// HistogramSnapshot is a point-in-time snapshot of a histogram.
type HistogramSnapshot struct {
	Buckets []HistogramBucket
	Sum     float64
	Count   uint64
}

// HistogramBucket represents a single bucket in a histogram.
type HistogramBucket struct {
	UpperBound float64
	Count      uint64
}

// Metric is the interface for all metrics.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
}

// Metrics holds all metrics for a rampart run.
type Metrics struct {
	mu      sync.RWMutex
	metrics map[string]Metric

	// Counters
	OpsTotal         *Counter
	ViolationsTotal  *Counter
	TryErrorsTotal   *Counter
	UnexpectedFaults *Counter

	// Per-kind violation counters
	OverflowViolations    *Counter
	OOBReadViolations     *Counter
	IntOverflowViolations *Counter
	NilPointerViolations  *Counter

	// Gauges
	AuditClasses      *Gauge
	AuditObservations *Gauge
	ArenaBytesInUse   *Gauge
	StoreSizeBytes    *Gauge
	MemoryBytes       *Gauge
	Goroutines        *Gauge

	// Histograms
	BatchDuration *Histogram
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics() *Metrics {
	m := &Metrics{
		metrics: make(map[string]Metric),

		// Counters
		OpsTotal:         NewCounter("rampart_ops_total", "Total number of guarded operations executed"),
		ViolationsTotal:  NewCounter("rampart_violations_total", "Total number of violations caught"),
		TryErrorsTotal:   NewCounter("rampart_try_errors_total", "Total number of non-zero try-family result codes"),
		UnexpectedFaults: NewCounter("rampart_unexpected_faults_total", "Total number of faults that did not match the injected expectation"),

		// Per-kind violation counters
		OverflowViolations:    NewCounter("rampart_violations_buffer_overflow_total", "Violations classified as buffer overflow"),
		OOBReadViolations:     NewCounter("rampart_violations_oob_read_total", "Violations classified as out-of-bounds read"),
		IntOverflowViolations: NewCounter("rampart_violations_integer_overflow_total", "Violations classified as integer overflow"),
		NilPointerViolations:  NewCounter("rampart_violations_nil_pointer_total", "Violations classified as nil pointer"),

		// Gauges
		AuditClasses:      NewGauge("rampart_audit_classes", "Number of distinct violation classes recorded"),
		AuditObservations: NewGauge("rampart_audit_observations", "Total number of violation observations recorded"),
		ArenaBytesInUse:   NewGauge("rampart_arena_bytes_in_use", "Bytes currently allocated out of the arena"),
		StoreSizeBytes:    NewGauge("rampart_store_size_bytes", "Audit store size on disk in bytes"),
		MemoryBytes:       NewGauge("rampart_memory_bytes", "Memory usage in bytes"),
		Goroutines:        NewGauge("rampart_goroutines", "Number of active goroutines"),

		// Histograms
		BatchDuration: NewHistogram(
			"rampart_batch_duration_seconds",
			"Scenario batch duration in seconds",
			[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		),
	}

	// Register all metrics
	m.register(m.OpsTotal)
	m.register(m.ViolationsTotal)
	m.register(m.TryErrorsTotal)
	m.register(m.UnexpectedFaults)
	m.register(m.OverflowViolations)
	m.register(m.OOBReadViolations)
	m.register(m.IntOverflowViolations)
	m.register(m.NilPointerViolations)
	m.register(m.AuditClasses)
	m.register(m.AuditObservations)
	m.register(m.ArenaBytesInUse)
	m.register(m.StoreSizeBytes)
	m.register(m.MemoryBytes)
	m.register(m.Goroutines)
	m.register(m.BatchDuration)

	return m
}

// register adds a metric to the internal registry.
func (m *Metrics) register(metric Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[metric.Name()] = metric
}

// Get returns a metric by name.
func (m *Metrics) Get(name string) Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics[name]
}

// All returns all registered metrics.
func (m *Metrics) All() map[string]Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]Metric, len(m.metrics))
	for k, v := range m.metrics {
		result[k] = v
	}
	return result
}

// Format formats all metrics in Prometheus text format.
func (m *Metrics) Format() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sb strings.Builder

	// Sort metric names for consistent output
	names := make([]string, 0, len(m.metrics))
	for name := range m.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		metric := m.metrics[name]
		sb.WriteString(formatMetric(metric))
		sb.WriteString("\n")
	}

	return sb.String()
}

// formatMetric formats a single metric in Prometheus text format.
func formatMetric(metric Metric) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", metric.Name(), metric.Help()))
	sb.WriteString(fmt.Sprintf("# TYPE %s %s\n", metric.Name(), metric.Type()))

	switch m := metric.(type) {
	case *Counter:
		sb.WriteString(fmt.Sprintf("%s %d\n", m.Name(), m.Value()))
	case *Gauge:
		sb.WriteString(fmt.Sprintf("%s %d\n", m.Name(), m.Value()))
	case *Histogram:
		// Bucket counts are already cumulative.
		snap := m.Snapshot()
		for _, bucket := range snap.Buckets {
			sb.WriteString(fmt.Sprintf("%s_bucket{le=\"%.3f\"} %d\n", m.Name(), bucket.UpperBound, bucket.Count))
		}
		sb.WriteString(fmt.Sprintf("%s_bucket{le=\"+Inf\"} %d\n", m.Name(), snap.Count))
		sb.WriteString(fmt.Sprintf("%s_sum %.6f\n", m.Name(), snap.Sum))
		sb.WriteString(fmt.Sprintf("%s_count %d\n", m.Name(), snap.Count))
	}

	return sb.String()
}

// RecordViolation records a caught violation of the given kind.
func (m *Metrics) RecordViolation(kind guard.Kind) {
	m.ViolationsTotal.Inc()

	switch kind {
	case guard.KindBufferOverflow:
		m.OverflowViolations.Inc()
	case guard.KindOutOfBoundsRead:
		m.OOBReadViolations.Inc()
	case guard.KindIntegerOverflow:
		m.IntOverflowViolations.Inc()
	case guard.KindNilPointer:
		m.NilPointerViolations.Inc()
	}
}

// RecordBatch records metrics for one completed scenario batch.
func (m *Metrics) RecordBatch(ops uint64, tryErrors uint64, duration time.Duration) {
	m.OpsTotal.Add(ops)
	m.TryErrorsTotal.Add(tryErrors)
	m.BatchDuration.ObserveDuration(duration)
}

// UpdateAuditStats updates the audit store gauges.
func (m *Metrics) UpdateAuditStats(classes uint64, observations uint64) {
	m.AuditClasses.SetUint64(classes)
	m.AuditObservations.SetUint64(observations)
}

// Global default metrics instance.
var defaultMetrics *Metrics
var defaultMetricsOnce sync.Once

// DefaultMetrics returns the global default metrics instance.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}
