// Package metrics exposes the service's Prometheus collectors on a private
// registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/threatwatch/threatwatch/server/internal/remote"
)

const namespace = "threatwatch"

// Metrics implements feed.Recorder and remote.Observer.
type Metrics struct {
	reg *prometheus.Registry

	reads       *prometheus.CounterVec
	ingests     *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	storeDur    *prometheus.HistogramVec
}

var _ remote.Observer = (*Metrics)(nil)

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.reads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_reads_total",
		Help:      "Feed reads by the tier that served them",
	}, []string{"source"})
	m.ingests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingests_total",
		Help:      "Accepted ingestions by persistence outcome",
	}, []string{"persisted"})
	m.storeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Failed remote store calls by operation",
	}, []string{"op"})
	m.storeDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_duration_seconds",
		Help:      "Remote store call latency by operation",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	m.reg.MustRegister(
		m.reads, m.ingests, m.storeErrors, m.storeDur,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// FeedRead counts one read served from source.
func (m *Metrics) FeedRead(source string) {
	m.reads.WithLabelValues(source).Inc()
}

// Ingested counts one accepted ingestion.
func (m *Metrics) Ingested(persisted bool) {
	m.ingests.WithLabelValues(strconv.FormatBool(persisted)).Inc()
}

// ObserveStoreCall records latency for every call and counts failures.
// Calls cut short by the caller's own cancellation are not counted as
// store errors.
func (m *Metrics) ObserveStoreCall(op remote.Op, elapsed time.Duration, err error) {
	m.storeDur.WithLabelValues(string(op)).Observe(elapsed.Seconds())
	if err != nil && !errors.Is(err, context.Canceled) {
		m.storeErrors.WithLabelValues(string(op)).Inc()
	}
}

// TrackCacheAge registers a gauge that reports age() in seconds at scrape
// time. Call it at most once.
func (m *Metrics) TrackCacheAge(age func() time.Duration) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_age_seconds",
		Help:      "Seconds since the cached feed snapshot was fetched, 0 when empty",
	}, func() float64 { return age().Seconds() }))
}
