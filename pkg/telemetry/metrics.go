package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the mission loop. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	calls       *prometheus.CounterVec
	retries     *prometheus.CounterVec
	inflight    prometheus.Gauge
	steps       *prometheus.CounterVec
	missions    *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "padawan",
			Name:      "external_calls_total",
			Help:      "External calls made through the retrying caller, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "padawan",
			Name:      "call_retries_total",
			Help:      "Retried attempts, by kind.",
		}, []string{"kind"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "padawan",
			Name:      "calls_in_flight",
			Help:      "Attempts currently holding a concurrency slot.",
		}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "padawan",
			Name:      "mission_steps_total",
			Help:      "Mission steps executed, by outcome.",
		}, []string{"outcome"}),
		missions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "padawan",
			Name:      "missions_total",
			Help:      "Missions that reached a terminal status.",
		}, []string{"status"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "padawan",
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation latency, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"tool"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.calls, m.retries, m.inflight, m.steps, m.missions, m.toolLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCall(kind, outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveRetry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.inflight.Add(delta)
}

func (m *Metrics) ObserveStep(outcome string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveMission(status string) {
	if m == nil {
		return
	}
	m.missions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveTool(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolLatency.WithLabelValues(name).Observe(d.Seconds())
}
