// Package metrics provides Prometheus metrics for triestore
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for one open index.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Page cache metrics
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter

	// Page manager metrics
	PagesCreatedTotal     prometheus.Counter
	PagesInvalidatedTotal prometheus.Counter
	FileGrowthsTotal      prometheus.Counter
	FlushDuration         prometheus.Histogram
	PageSplitsTotal       prometheus.Counter
	PageMergesTotal       prometheus.Counter

	// Transaction log metrics
	LogCommitsTotal   prometheus.Counter
	LogRollbacksTotal *prometheus.CounterVec

	// Index operation metrics
	IndexOperationsTotal   *prometheus.CounterVec
	IndexOperationDuration *prometheus.HistogramVec
	IndexedItems           prometheus.Gauge
	ResidentNodes          prometheus.Gauge
}

// NewMetrics creates all collectors and registers them on reg.
// A nil reg registers on a fresh private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{}

	// Page cache metrics
	m.CacheHitsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "triestore_page_cache_hits_total",
		Help: "Total number of decoded pages served from the page cache",
	})
	m.CacheMissesTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "triestore_page_cache_misses_total",
		Help: "Total number of page lookups that missed the page cache",
	})
	m.CacheEvictionsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "triestore_page_cache_evictions_total",
		Help: "Total number of pages evicted from the page cache",
	})

	// Page manager metrics
	m.PagesCreatedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "triestore_pages_created_total",
		Help: "Total number of pages spliced into a chain",
	})
	m.PagesInvalidatedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "triestore_pages_invalidated_total",
		Help: "Total number of emptied pages returned to the free list",
	})
	m.FileGrowthsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "triestore_file_growths_total",
		Help: "Total number of times the index file was extended",
	})
	m.FlushDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "triestore_flush_duration_seconds",
		Help:    "Duration of buffered page flushes in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
	m.PageSplitsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "triestore_page_splits_total",
		Help: "Total number of page splits performed by the entry manager",
	})
	m.PageMergesTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "triestore_page_merges_total",
		Help: "Total number of neighbouring pages coalesced by the entry manager",
	})

	// Transaction log metrics
	m.LogCommitsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "triestore_txlog_commits_total",
		Help: "Total number of committed transaction log batches",
	})
	m.LogRollbacksTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "triestore_txlog_rollbacks_total",
		Help: "Total number of rollbacks performed at open",
	}, []string{"kind"})

	// Index operation metrics
	m.IndexOperationsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "triestore_index_operations_total",
		Help: "Total number of index operations",
	}, []string{"operation", "status"})
	m.IndexOperationDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triestore_index_operation_duration_seconds",
		Help:    "Duration of index operations in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation"})
	m.IndexedItems = factory.NewGauge(prometheus.GaugeOpts{
		Name: "triestore_indexed_items",
		Help: "Current number of indexed items",
	})
	m.ResidentNodes = factory.NewGauge(prometheus.GaugeOpts{
		Name: "triestore_resident_nodes",
		Help: "Number of trie nodes currently held in memory",
	})

	return m
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHitsTotal.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMissesTotal.Inc()
	}
}

func (m *Metrics) CacheEviction() {
	if m != nil {
		m.CacheEvictionsTotal.Inc()
	}
}

func (m *Metrics) PageCreated() {
	if m != nil {
		m.PagesCreatedTotal.Inc()
	}
}

func (m *Metrics) PageInvalidated() {
	if m != nil {
		m.PagesInvalidatedTotal.Inc()
	}
}

func (m *Metrics) FileGrown() {
	if m != nil {
		m.FileGrowthsTotal.Inc()
	}
}

func (m *Metrics) PageSplit() {
	if m != nil {
		m.PageSplitsTotal.Inc()
	}
}

func (m *Metrics) PageMerged() {
	if m != nil {
		m.PageMergesTotal.Inc()
	}
}

// RecordFlush records a buffered flush that wrote a committed log batch
func (m *Metrics) RecordFlush(duration time.Duration) {
	if m != nil {
		m.FlushDuration.Observe(duration.Seconds())
		m.LogCommitsTotal.Inc()
	}
}

// RecordRollback records a rollback of the given kind ("truncate" or "replay")
func (m *Metrics) RecordRollback(kind string) {
	if m != nil {
		m.LogRollbacksTotal.WithLabelValues(kind).Inc()
	}
}

// RecordIndexOperation records an index operation with its status
func (m *Metrics) RecordIndexOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.IndexOperationsTotal.WithLabelValues(operation, status).Inc()
	m.IndexOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateIndexStats updates index gauges
func (m *Metrics) UpdateIndexStats(items int, residentNodes int) {
	if m == nil {
		return
	}
	m.IndexedItems.Set(float64(items))
	m.ResidentNodes.Set(float64(residentNodes))
}
