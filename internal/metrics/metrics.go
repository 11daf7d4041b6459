// Package metrics exposes pipeline and HTTP counters to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kvpush/internal/eventbus"
)

type Metrics struct {
	reg *prometheus.Registry

	Items          *prometheus.CounterVec
	Runs           *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	LastRunPushed  prometheus.Gauge
	LastRunTime    prometheus.Gauge
	PersistFailed  prometheus.Counter
	HTTPRequests   *prometheus.CounterVec
	HTTPDurationMS *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, plus the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Items: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kvpush_items_total",
			Help: "Upstream items handled by the pipeline, by outcome (count)",
		}, []string{"status"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kvpush_runs_total",
			Help: "Pipeline runs, by trigger and result (count)",
		}, []string{"trigger", "result"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kvpush_run_duration_seconds",
			Help:    "Wall time of a pipeline run in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"trigger"}),
		LastRunPushed: f.NewGauge(prometheus.GaugeOpts{
			Name: "kvpush_last_run_pushed",
			Help: "Messages delivered by the most recent run (count)",
		}),
		LastRunTime: f.NewGauge(prometheus.GaugeOpts{
			Name: "kvpush_last_run_timestamp_seconds",
			Help: "Unix time the most recent run finished",
		}),
		PersistFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "kvpush_persist_failures_total",
			Help: "Failed writes of the delivered set (count)",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kvpush_http_requests_total",
			Help: "HTTP requests served, by route and status code (count)",
		}, []string{"route", "code"}),
		HTTPDurationMS: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kvpush_http_request_duration_ms",
			Help:    "HTTP request duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
		}, []string{"route"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Observe folds one pipeline event into the collectors.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.ItemSent:
		m.Items.WithLabelValues("sent").Inc()
	case eventbus.ItemFallback:
		m.Items.WithLabelValues("fallback").Inc()
	case eventbus.ItemFailed:
		m.Items.WithLabelValues("failed").Inc()
	case eventbus.ItemSkipped:
		m.Items.WithLabelValues("skipped").Inc()
	case eventbus.PersistFailed:
		m.PersistFailed.Inc()
	case eventbus.RunFinished:
		d, ok := e.Data.(eventbus.RunData)
		if !ok {
			return
		}
		result := "success"
		if !d.Success {
			result = "failure"
		}
		m.Runs.WithLabelValues(d.Trigger, result).Inc()
		m.RunDuration.WithLabelValues(d.Trigger).Observe(d.Duration.Seconds())
		m.LastRunPushed.Set(float64(d.Pushed))
		m.LastRunTime.Set(float64(e.Time.Unix()))
	}
}

// Consume subscribes to bus and observes events until ctx is done.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route string, code int, took time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDurationMS.WithLabelValues(route).Observe(float64(took.Milliseconds()))
}
