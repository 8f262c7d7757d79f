// Package metrics is a thin wrapper around a dedicated prometheus registry,
// mirroring the constructor helpers the original implementation exposed on
// its Metrics type so every component can register counters/gauges/
// histograms without reaching for the global default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Metrics owns a private prometheus.Registry so tests can construct
// independent instances without colliding on metric names.
type Metrics struct {
	reg *prometheus.Registry
}

// New creates a Metrics instance backed by a fresh registry.
func New() *Metrics {
	return &Metrics{reg: prometheus.NewRegistry()}
}

// CounterInt registers and returns an integer counter.
func (m *Metrics) CounterInt(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	m.reg.MustRegister(c)
	return c
}

// CounterVec registers and returns a labeled counter vector.
func (m *Metrics) CounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	m.reg.MustRegister(c)
	return c
}

// GaugeInt registers and returns an integer gauge.
func (m *Metrics) GaugeInt(opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	m.reg.MustRegister(g)
	return g
}

// GaugeVec registers and returns a labeled gauge vector.
func (m *Metrics) GaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(opts, labels)
	m.reg.MustRegister(g)
	return g
}

// HistogramVec registers and returns a labeled histogram vector, used for
// per-step timing (indexer stages, RPC method latency).
func (m *Metrics) HistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	m.reg.MustRegister(h)
	return h
}

// Handler returns the HTTP handler serving this registry's metrics in
// Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ListenAndServe starts a monitoring HTTP server on addr serving /metrics.
// It blocks; callers typically run it in its own goroutine.
func (m *Metrics) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	log.WithField("addr", addr).Info("metrics server listening")
	return http.ListenAndServe(addr, mux)
}

// Dummy returns a Metrics instance suitable for use in tests that don't
// care about metric output.
func Dummy() *Metrics { return New() }
