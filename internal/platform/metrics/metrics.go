// Package metrics holds the Prometheus collectors exported by the scraper
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ghdiscover"

// Metrics holds every collector the pipeline touches
type Metrics struct {
	reg *prometheus.Registry

	// Supervision
	StageRestarts *prometheus.CounterVec
	Shards        *prometheus.CounterVec
	ShardDuration prometheus.Histogram
	InFlight      prometheus.Gauge

	// Data plane
	BytesFetched   prometheus.Counter
	BytesInflated  prometheus.Counter
	Records        prometheus.Counter
	Malformed      prometheus.Counter
	EventsMapped   prometheus.Counter
	EventsDropped  prometheus.Counter
	WorkerFailures prometheus.Counter

	Uptime    prometheus.GaugeFunc
	startTime time.Time
}

// New builds a Metrics bound to a fresh registry
// Each call is isolated so tests can construct as many as they like
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)
	m := &Metrics{reg: reg, startTime: time.Now()}

	m.StageRestarts = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_restarts_total",
		Help:      "Stage failures that triggered a shard restart",
	}, []string{"stage"})
	m.Shards = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shards_total",
		Help:      "Shards finished, by terminal status",
	}, []string{"status"})
	m.ShardDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "shard_duration_seconds",
		Help:      "Wall time from shard launch to terminal status",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})
	m.InFlight = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "shards_in_flight",
		Help:      "Shards currently being processed",
	})
	m.BytesFetched = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetched_bytes_total",
		Help:      "Compressed bytes pulled from the archive",
	})
	m.BytesInflated = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inflated_bytes_total",
		Help:      "Decompressed bytes produced",
	})
	m.Records = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_total",
		Help:      "Records parsed",
	})
	m.Malformed = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_malformed_total",
		Help:      "Lines skipped because they were not valid JSON",
	})
	m.EventsMapped = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_mapped_total",
		Help:      "Events handed to a mapper that returned without error",
	})
	m.EventsDropped = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events refused by a saturated worker pool",
	})
	m.WorkerFailures = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_failures_total",
		Help:      "Mapper invocations that failed or panicked",
	})
	m.Uptime = f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the process started",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the text exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Restart records one restart for stage; nil receivers are allowed
func (m *Metrics) Restart(stage string) {
	if m == nil {
		return
	}
	m.StageRestarts.WithLabelValues(stage).Inc()
}

// ShardDone records a terminal shard status and its duration
func (m *Metrics) ShardDone(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Shards.WithLabelValues(status).Inc()
	m.ShardDuration.Observe(d.Seconds())
}

// Add increments c by n when both m and c are set
func (m *Metrics) Add(c prometheus.Counter, n int) {
	if m == nil || c == nil || n <= 0 {
		return
	}
	c.Add(float64(n))
}

// Inc increments c by one when both m and c are set
func (m *Metrics) Inc(c prometheus.Counter) {
	if m == nil || c == nil {
		return
	}
	c.Inc()
}
