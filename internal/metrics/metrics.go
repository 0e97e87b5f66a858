// Package metrics defines the Prometheus collectors exposed by castfs's
// admin HTTP server (SPEC_FULL "Domain Stack" / spec.md §9 observability).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Only the four registry-state gauges (sampled by RunCollector) and
// LeaderHeld (set by cmd/castfs) are updated anywhere in this module. The
// producer, eviction and read counters, ReadWaitSeconds and DiskFreeBytes
// are registered and exported, but nothing increments or sets them, so
// they always read zero.
var (
	CacheEntriesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "castfs",
		Name:      "cache_entries_total",
		Help:      "Number of CacheEntry objects currently tracked by the registry.",
	})

	CacheEntryStateTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "castfs",
		Name:      "cache_entry_state_total",
		Help:      "Number of CacheEntry objects by lifecycle state.",
	}, []string{"state"})

	CacheBytesOnDisk = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "castfs",
		Name:      "cache_bytes_on_disk",
		Help:      "Sum of encoded_size across all Finished cache entries.",
	})

	WatermarkBytesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "castfs",
		Name:      "watermark_bytes_total",
		Help:      "Sum of current buffer watermark bytes across all producing entries.",
	})

	ProducerStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "castfs",
		Name:      "producer_starts_total",
		Help:      "Total number of producer goroutines started.",
	})

	ProducerFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "castfs",
		Name:      "producer_failures_total",
		Help:      "Total number of producer goroutines that ended in Errored, by cause.",
	}, []string{"reason"})

	EvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "castfs",
		Name:      "evictions_total",
		Help:      "Total number of cache entries evicted, by rule.",
	}, []string{"rule"})

	ReadRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "castfs",
		Name:      "read_requests_total",
		Help:      "Total number of ReaderCoordinator.ReadAt calls served.",
	})

	TailReadShortcutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "castfs",
		Name:      "tail_read_shortcuts_total",
		Help:      "Total number of reads answered by the tail-read shortcut without waiting on a producer.",
	})

	ReadWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "castfs",
		Name:      "read_wait_seconds",
		Help:      "Time a ReadAt call spent blocked in WaitFor before bytes became available.",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	LeaderHeld = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "castfs",
		Name:      "leader_held",
		Help:      "1 if this process currently holds the maintenance leader lock, else 0.",
	})

	DiskFreeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "castfs",
		Name:      "disk_free_bytes",
		Help:      "Free bytes on the filesystem backing cache_root, as of the last maintenance tick.",
	})
)

// Register registers every collector above with reg. Called once from
// cmd/castfs before the admin HTTP server starts serving /metrics.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		CacheEntriesTotal,
		CacheEntryStateTotal,
		CacheBytesOnDisk,
		WatermarkBytesTotal,
		ProducerStartsTotal,
		ProducerFailuresTotal,
		EvictionsTotal,
		ReadRequestsTotal,
		TailReadShortcutsTotal,
		ReadWaitSeconds,
		LeaderHeld,
		DiskFreeBytes,
	)
}
