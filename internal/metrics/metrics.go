// Package metrics exposes the synchronizer's operational counters over
// prometheus and serves the ops HTTP endpoints.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Entry outcomes for the carrier_changelog_entries_total counter.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// Metrics holds every collector the synchronizer reports, registered on a
// private registry so tests can run side by side.
type Metrics struct {
	registry *prometheus.Registry

	Ticks        prometheus.Counter
	TickFailures prometheus.Counter
	TickDuration prometheus.Histogram

	Entries *prometheus.CounterVec

	ReleasesSynced    prometheus.Counter
	ReleasesUnchanged prometheus.Counter

	FilesDownloaded prometheus.Counter
	DownloadBytes   prometheus.Counter
	HashMismatches  prometheus.Counter

	mu           sync.Mutex
	lastTick     time.Time
	lastTickID   string
	lastTickSize int
}

// New creates a Metrics with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "carrier_ticks_total",
			Help: "Completed synchronization ticks.",
		}),
		TickFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "carrier_tick_failures_total",
			Help: "Synchronization ticks that aborted before advancing the cursor.",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "carrier_tick_duration_seconds",
			Help:    "Wall-clock duration of one synchronization tick.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		Entries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carrier_changelog_entries_total",
			Help: "Changelog entries observed, by outcome.",
		}, []string{"outcome"}),

		ReleasesSynced: factory.NewCounter(prometheus.CounterOpts{
			Name: "carrier_releases_synced_total",
			Help: "Releases written to the warehouse.",
		}),
		ReleasesUnchanged: factory.NewCounter(prometheus.CounterOpts{
			Name: "carrier_releases_unchanged_total",
			Help: "Releases skipped because their fingerprint matched.",
		}),

		FilesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "carrier_files_downloaded_total",
			Help: "Distribution files of releases written to the warehouse.",
		}),
		DownloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "carrier_download_bytes_total",
			Help: "Bytes of distribution files of releases written to the warehouse.",
		}),
		HashMismatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "carrier_hash_mismatches_total",
			Help: "Downloads whose MD5 digest did not match the declared one.",
		}),
	}
}

// Registry returns the private prometheus registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTick notes a completed tick for the /status endpoint.
func (m *Metrics) RecordTick(id string, at time.Time, entries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTick = at
	m.lastTickID = id
	m.lastTickSize = entries
}

// LastTick returns the most recent completed tick's id, time, and entry
// count.
func (m *Metrics) LastTick() (id string, at time.Time, entries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTickID, m.lastTick, m.lastTickSize
}
