// Package metrics exposes the shard's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the shard collectors. A nil *Metrics is a valid no-op
// receiver for every method, so tests can pass nil.
type Metrics struct {
	registry *prometheus.Registry

	tickDuration    prometheus.Histogram
	ticksTotal      prometheus.Counter
	tickSlips       prometheus.Counter
	activeZones     prometheus.Gauge
	connections     prometheus.Gauge
	intentsEnqueued prometheus.Counter
	zoneErrors      prometheus.Counter
}

// New creates and registers the shard collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridshard_tick_duration_seconds",
			Help:    "Wall time of one full tick pipeline across all active zones.",
			Buckets: prometheus.DefBuckets,
		}),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridshard_ticks_total",
			Help: "Ticks executed since process start.",
		}),
		tickSlips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridshard_tick_slips_total",
			Help: "Ticks whose work exceeded the tick interval.",
		}),
		activeZones: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridshard_active_zones",
			Help: "Zones processed in the most recent tick.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridshard_connections",
			Help: "Registered player connections.",
		}),
		intentsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridshard_intents_enqueued_total",
			Help: "Intents accepted into the per-zone queues.",
		}),
		zoneErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridshard_zone_errors_total",
			Help: "Zone pipelines that rolled back.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tickDuration, m.ticksTotal, m.tickSlips,
		m.activeZones, m.connections, m.intentsEnqueued, m.zoneErrors,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTick(seconds float64) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(seconds)
	m.ticksTotal.Inc()
}

func (m *Metrics) TickSlip() {
	if m == nil {
		return
	}
	m.tickSlips.Inc()
}

func (m *Metrics) SetActiveZones(n int) {
	if m == nil {
		return
	}
	m.activeZones.Set(float64(n))
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) IntentEnqueued() {
	if m == nil {
		return
	}
	m.intentsEnqueued.Inc()
}

func (m *Metrics) ZoneError() {
	if m == nil {
		return
	}
	m.zoneErrors.Inc()
}
