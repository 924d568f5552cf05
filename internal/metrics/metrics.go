// Package metrics holds the Prometheus collectors shared by the fan-out
// engines, the gateway and the storage layer. Every method is safe on a nil
// *Metrics so components can run without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "logfan"

// Delivery paths.
const (
	PathBackfill = "backfill"
	PathLive     = "live"
)

// Push outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeGone      = "gone"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	pushes          *prometheus.CounterVec
	records         *prometheus.CounterVec
	duplicates      *prometheus.CounterVec
	undecodable     *prometheus.CounterVec
	goneConnections prometheus.Counter
	backfillRuns    *prometheus.CounterVec
	backfillSeconds prometheus.Histogram
	controlFailures *prometheus.CounterVec
	openConnections prometheus.Gauge
	storageSeconds  *prometheus.HistogramVec
	storageBytes    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which tests use to avoid collisions.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pushes_total",
			Help: "Push attempts by delivery path and outcome.",
		}, []string{"path", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_delivered_total",
			Help: "Processed records handed to connections.",
		}, []string{"path"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "duplicates_suppressed_total",
			Help: "Records dropped by the per-connection dedup cache.",
		}, []string{"path"}),
		undecodable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "undecodable_records_total",
			Help: "Records skipped because their payload could not be decoded.",
		}, []string{"path"}),
		goneConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gone_connections_total",
			Help: "Connections purged after a push reported them gone.",
		}),
		backfillRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "backfill_runs_total",
			Help: "Finished backfill runs by result.",
		}, []string{"result"}),
		backfillSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "backfill_duration_seconds",
			Help:    "Wall time of one backfill run.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		controlFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "control_failures_total",
			Help: "Control messages that failed, by disposition.",
		}, []string{"disposition"}),
		openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_connections",
			Help: "Websocket connections currently attached to this process.",
		}),
		storageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "storage_op_duration_seconds",
			Help:    "Pebble operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"op"}),
		storageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "storage_bytes_total",
			Help: "Bytes moved through pebble.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.pushes, m.records, m.duplicates, m.undecodable, m.goneConnections,
			m.backfillRuns, m.backfillSeconds, m.controlFailures, m.openConnections,
			m.storageSeconds, m.storageBytes,
		)
	}
	return m
}

// NewRegistry returns a registry preloaded with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (m *Metrics) Push(path, outcome string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) RecordsDelivered(path string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.records.WithLabelValues(path).Add(float64(n))
}

func (m *Metrics) Duplicate(path string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(path).Inc()
}

func (m *Metrics) Undecodable(path string) {
	if m == nil {
		return
	}
	m.undecodable.WithLabelValues(path).Inc()
}

func (m *Metrics) Gone() {
	if m == nil {
		return
	}
	m.goneConnections.Inc()
}

func (m *Metrics) BackfillFinished(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.backfillRuns.WithLabelValues(result).Inc()
	m.backfillSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) ControlFailure(disposition string) {
	if m == nil {
		return
	}
	m.controlFailures.WithLabelValues(disposition).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.openConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.openConnections.Dec()
}

// Storage adapts the collectors to the pebble MetricsHook.
func (m *Metrics) Storage() StorageHook { return StorageHook{m: m} }

// StorageHook implements pebblestore.MetricsHook.
type StorageHook struct{ m *Metrics }

func (h StorageHook) observe(op string, elapsed time.Duration, bytes int) {
	if h.m == nil {
		return
	}
	h.m.storageSeconds.WithLabelValues(op).Observe(elapsed.Seconds())
	h.m.storageBytes.WithLabelValues(op).Add(float64(bytes))
}

func (h StorageHook) ObserveWrite(elapsed time.Duration, bytes int) { h.observe("write", elapsed, bytes) }

func (h StorageHook) ObserveRead(elapsed time.Duration, bytes int) { h.observe("read", elapsed, bytes) }

func (h StorageHook) ObserveBatchCommit(elapsed time.Duration, _ int, bytes int) {
	h.observe("commit", elapsed, bytes)
}
