// Package metrics exposes server counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the server updates.
type Metrics struct {
	reg *prometheus.Registry

	UpdateChecks   *prometheus.CounterVec
	Downloads      *prometheus.CounterVec
	Publishes      *prometheus.CounterVec
	AdminOps       *prometheus.CounterVec
	LogRecords     prometheus.Counter
	LogBytes       prometheus.Counter
	LogStreams     prometheus.Gauge
	HTTPRequests   *prometheus.CounterVec
	RequestSeconds *prometheus.HistogramVec
}

// New builds a fresh registry with Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		UpdateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espota",
			Name:      "update_checks_total",
			Help:      "Device update checks by outcome.",
		}, []string{"outcome"}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espota",
			Name:      "downloads_total",
			Help:      "Firmware images served, by platform.",
		}, []string{"platform"}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espota",
			Name:      "publishes_total",
			Help:      "Firmware uploads by outcome.",
		}, []string{"outcome"}),
		AdminOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espota",
			Name:      "admin_operations_total",
			Help:      "Registry administration operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		LogRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "espota",
			Name:      "remote_log_records_total",
			Help:      "Complete lines written to remote log streams.",
		}),
		LogBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "espota",
			Name:      "remote_log_bytes_total",
			Help:      "Bytes received by the remote log sink.",
		}),
		LogStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "espota",
			Name:      "remote_log_streams",
			Help:      "Open remote log streams.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espota",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		RequestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "espota",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.UpdateChecks, m.Downloads, m.Publishes, m.AdminOps,
		m.LogRecords, m.LogBytes, m.LogStreams,
		m.HTTPRequests, m.RequestSeconds,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Outcome returns "ok" for a nil error and "error" otherwise.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
