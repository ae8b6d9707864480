package metrics

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is an interface for metrics collectors.
type Collector interface {
	// Collect collects metrics.
	Collect()
	// Start starts the collector.
	Start(ctx context.Context)
	// Stop stops the collector.
	Stop()
}

// RuntimeCollector collects Go runtime statistics.
type RuntimeCollector struct {
	metrics  *Metrics
	interval time.Duration
	running  atomic.Bool
	stopCh   chan struct{}

	// Additional runtime metrics
	HeapAlloc     *Gauge
	HeapInuse     *Gauge
	HeapObjects   *Gauge
	StackInuse    *Gauge
	GCPauseNs     *Gauge
	NumGC         *Gauge
	LastGCPauseNs *Gauge
}

// NewRuntimeCollector creates a new runtime collector.
func NewRuntimeCollector(m *Metrics, interval time.Duration) *RuntimeCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	rc := &RuntimeCollector{
		metrics:  m,
		interval: interval,
		stopCh:   make(chan struct{}),

		HeapAlloc:     NewGauge("rampart_runtime_heap_alloc_bytes", "Heap allocation in bytes"),
		HeapInuse:     NewGauge("rampart_runtime_heap_inuse_bytes", "Heap in use in bytes"),
		HeapObjects:   NewGauge("rampart_runtime_heap_objects", "Number of allocated heap objects"),
		StackInuse:    NewGauge("rampart_runtime_stack_inuse_bytes", "Stack in use in bytes"),
		GCPauseNs:     NewGauge("rampart_runtime_gc_pause_total_ns", "Total GC pause time in nanoseconds"),
		NumGC:         NewGauge("rampart_runtime_gc_completed_cycles", "Number of completed GC cycles"),
		LastGCPauseNs: NewGauge("rampart_runtime_gc_last_pause_ns", "Last GC pause duration in nanoseconds"),
	}

	return rc
}

// Collect collects runtime metrics.
func (rc *RuntimeCollector) Collect() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// Update core metrics
	if rc.metrics != nil {
		rc.metrics.MemoryBytes.SetUint64(memStats.Alloc)
		rc.metrics.Goroutines.SetUint64(uint64(runtime.NumGoroutine()))
	}

	// Update additional metrics
	rc.HeapAlloc.SetUint64(memStats.HeapAlloc)
	rc.HeapInuse.SetUint64(memStats.HeapInuse)
	rc.HeapObjects.SetUint64(memStats.HeapObjects)
	rc.StackInuse.SetUint64(memStats.StackInuse)
	rc.GCPauseNs.SetUint64(memStats.PauseTotalNs)
	rc.NumGC.SetUint64(uint64(memStats.NumGC))

	// Get last GC pause time
	if memStats.NumGC > 0 {
		lastPauseIdx := (memStats.NumGC + 255) % 256
		rc.LastGCPauseNs.SetUint64(memStats.PauseNs[lastPauseIdx])
	}
}

// Start starts periodic collection.
func (rc *RuntimeCollector) Start(ctx context.Context) {
	if rc.running.Swap(true) {
		return // Already running
	}

	go func() {
		ticker := time.NewTicker(rc.interval)
		defer ticker.Stop()

		// Collect immediately
		rc.Collect()

		for {
			select {
			case <-ctx.Done():
				rc.running.Store(false)
				return
			case <-rc.stopCh:
				rc.running.Store(false)
				return
			case <-ticker.C:
				rc.Collect()
			}
		}
	}()
}

// Stop stops the collector.
func (rc *RuntimeCollector) Stop() {
	if rc.running.Load() {
		close(rc.stopCh)
	}
}

// AdditionalMetrics returns additional runtime metrics for registration.
func (rc *RuntimeCollector) AdditionalMetrics() []Metric {
	return []Metric{
		rc.HeapAlloc,
		rc.HeapInuse,
		rc.HeapObjects,
		rc.StackInuse,
		rc.GCPauseNs,
		rc.NumGC,
		rc.LastGCPauseNs,
	}
}

// AuditStatsProvider is an interface for providing audit store statistics.
type AuditStatsProvider interface {
	// Count returns the number of distinct violation classes.
	Count() uint64
	// Total returns the number of observations across all classes.
	Total() uint64
}

// StoreCollector collects audit store statistics.
type StoreCollector struct {
	mu       sync.RWMutex
	metrics  *Metrics
	provider AuditStatsProvider
	dataDir  string
	interval time.Duration
	running  atomic.Bool
	stopCh   chan struct{}

	// Additional store metrics
	ObserveLatency *Histogram
}

// NewStoreCollector creates a new audit store collector. dataDir may be
// empty for stores with no on-disk footprint.
func NewStoreCollector(m *Metrics, provider AuditStatsProvider, dataDir string, interval time.Duration) *StoreCollector {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &StoreCollector{
		metrics:  m,
		provider: provider,
		dataDir:  dataDir,
		interval: interval,
		stopCh:   make(chan struct{}),

		ObserveLatency: NewHistogram("rampart_store_observe_latency_seconds", "Audit store observe latency in seconds", nil),
	}
}

// Collect collects store metrics.
func (sc *StoreCollector) Collect() {
	sc.mu.RLock()
	provider := sc.provider
	sc.mu.RUnlock()

	if provider != nil && sc.metrics != nil {
		sc.metrics.UpdateAuditStats(provider.Count(), provider.Total())
	}

	// Calculate on-disk size if a data directory is configured
	if sc.dataDir != "" && sc.metrics != nil {
		size := sc.calculateDirSize(sc.dataDir)
		if size > 0 {
			sc.metrics.StoreSizeBytes.Set(size)
		}
	}
}

// calculateDirSize calculates the total size of files in a directory.
func (sc *StoreCollector) calculateDirSize(path string) int64 {
	var size int64

	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})

	if err != nil {
		return 0
	}

	return size
}

// Start starts periodic collection.
func (sc *StoreCollector) Start(ctx context.Context) {
	if sc.running.Swap(true) {
		return // Already running
	}

	go func() {
		ticker := time.NewTicker(sc.interval)
		defer ticker.Stop()

		// Collect immediately
		sc.Collect()

		for {
			select {
			case <-ctx.Done():
				sc.running.Store(false)
				return
			case <-sc.stopCh:
				sc.running.Store(false)
				return
			case <-ticker.C:
				sc.Collect()
			}
		}
	}()
}

// Stop stops the collector.
func (sc *StoreCollector) Stop() {
	if sc.running.Load() {
		close(sc.stopCh)
	}
}

// SetProvider sets the audit stats provider.
func (sc *StoreCollector) SetProvider(provider AuditStatsProvider) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.provider = provider
}

// RecordObserveLatency records one audit store observe latency.
func (sc *StoreCollector) RecordObserveLatency(d time.Duration) {
	sc.ObserveLatency.ObserveDuration(d)
}

// AdditionalMetrics returns additional store metrics for registration.
func (sc *StoreCollector) AdditionalMetrics() []Metric {
	return []Metric{
		sc.ObserveLatency,
	}
}

// ArenaCollector collects arena usage.
type ArenaCollector struct {
	mu       sync.RWMutex
	metrics  *Metrics
	getInUse func() uint64
	interval time.Duration
	running  atomic.Bool
	stopCh   chan struct{}
}

// NewArenaCollector creates a new arena collector.
func NewArenaCollector(m *Metrics, getInUse func() uint64, interval time.Duration) *ArenaCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &ArenaCollector{
		metrics:  m,
		getInUse: getInUse,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Collect collects arena metrics.
func (ac *ArenaCollector) Collect() {
	ac.mu.RLock()
	getInUse := ac.getInUse
	ac.mu.RUnlock()

	if getInUse == nil || ac.metrics == nil {
		return
	}

	ac.metrics.ArenaBytesInUse.SetUint64(getInUse())
}

// Start starts periodic collection.
func (ac *ArenaCollector) Start(ctx context.Context) {
	if ac.running.Swap(true) {
		return // Already running
	}

	go func() {
		ticker := time.NewTicker(ac.interval)
		defer ticker.Stop()

		// Collect immediately
		ac.Collect()

		for {
			select {
			case <-ctx.Done():
				ac.running.Store(false)
				return
			case <-ac.stopCh:
				ac.running.Store(false)
				return
			case <-ticker.C:
				ac.Collect()
			}
		}
	}()
}

// Stop stops the collector.
func (ac *ArenaCollector) Stop() {
	if ac.running.Load() {
		close(ac.stopCh)
	}
}

// SetProvider sets the function that reports arena bytes in use.
func (ac *ArenaCollector) SetProvider(fn func() uint64) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.getInUse = fn
}

// CollectorManager manages multiple collectors.
type CollectorManager struct {
	mu         sync.RWMutex
	collectors []Collector
	ctx        context.Context
	cancel     context.CancelFunc
	running    bool
}

// NewCollectorManager creates a new collector manager.
func NewCollectorManager() *CollectorManager {
	return &CollectorManager{
		collectors: make([]Collector, 0),
	}
}

// Add adds a collector to the manager.
func (cm *CollectorManager) Add(c Collector) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.collectors = append(cm.collectors, c)
}

// Start starts all collectors.
func (cm *CollectorManager) Start() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.running {
		return
	}

	cm.ctx, cm.cancel = context.WithCancel(context.Background())
	cm.running = true

	for _, c := range cm.collectors {
		c.Start(cm.ctx)
	}
}

// Stop stops all collectors.
func (cm *CollectorManager) Stop() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.running {
		return
	}

	cm.cancel()
	cm.running = false

	for _, c := range cm.collectors {
		c.Stop()
	}
}

// CollectAll triggers collection on all collectors.
func (cm *CollectorManager) CollectAll() {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, c := range cm.collectors {
		c.Collect()
	}
}
