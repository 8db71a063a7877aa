// Package metrics exposes run counters through a private prometheus registry.
// A batch tool has nothing to scrape it, so the registry is written to a
// node_exporter textfile at the end of a run when a path is configured.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ncbi_sync"

// Outcome labels of FilesTotal
const (
	OutcomeVerified   = "verified"
	OutcomeFetched    = "fetched"
	OutcomeAdopted    = "adopted"
	OutcomeMismatched = "mismatched"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op
type Metrics struct {
	registry *prometheus.Registry

	files         *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	inFlight      prometheus.Gauge
	fetchDuration *prometheus.HistogramVec
	checkpoints   prometheus.Counter
	groupRuns     *prometheus.CounterVec
	lastSuccess   *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files processed, by final outcome.",
		}, []string{"site", "group", "outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes written to the local library.",
		}, []string{"site", "group"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Transport attempts, retries included.",
		}, []string{"site", "group"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetches_in_flight",
			Help:      "Fetches currently running.",
		}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time to fetch and verify one file.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"site", "group"}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Metadata flushes.",
		}),
		groupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_runs_total",
			Help:      "Group runs, by mode and result.",
		}, []string{"site", "group", "mode", "result"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last group run without failures.",
		}, []string{"site", "group"}),
	}
	m.registry.MustRegister(m.files, m.bytes, m.attempts, m.inFlight, m.fetchDuration,
		m.checkpoints, m.groupRuns, m.lastSuccess)
	return m
}

// Registry returns the underlying registry, e.g. for tests or an HTTP handler
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveFile(site, group, outcome string) {
	if m == nil {
		return
	}
	m.files.WithLabelValues(site, group, outcome).Inc()
}

func (m *Metrics) AddBytes(site, group string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.WithLabelValues(site, group).Add(float64(n))
}

func (m *Metrics) AddAttempts(site, group string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.attempts.WithLabelValues(site, group).Add(float64(n))
}

// FetchStarted increments the in-flight gauge and returns the function that
// records completion.
func (m *Metrics) FetchStarted(site, group string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func() {
		m.inFlight.Dec()
		m.fetchDuration.WithLabelValues(site, group).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Checkpoint() {
	if m == nil {
		return
	}
	m.checkpoints.Inc()
}

// GroupCompleted records one group run; ok marks a run without failures
func (m *Metrics) GroupCompleted(site, group, mode string, ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
		m.lastSuccess.WithLabelValues(site, group).SetToCurrentTime()
	}
	m.groupRuns.WithLabelValues(site, group, mode, result).Inc()
}

// WriteToTextfile writes the registry in the text exposition format,
// atomically, for the node_exporter textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
