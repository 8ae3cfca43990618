package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clawinfra/clawroute/internal/config"
	"github.com/clawinfra/clawroute/internal/plugin"
	"github.com/clawinfra/clawroute/internal/router"
)

// Metrics holds the prometheus collectors of one server on a dedicated
// registry.
type Metrics struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	substitutions   prometheus.Counter
	latency         prometheus.Histogram
	confidence      prometheus.Histogram
	reloads         *prometheus.CounterVec
	patternWarnings prometheus.Gauge
	feedClients     prometheus.Gauge
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawroute_decisions_total",
				Help: "Routing decisions by tier and cost class",
			},
			[]string{"tier", "cost"},
		),
		substitutions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clawroute_substitutions_total",
				Help: "Decisions served by the fallback because the primary model was degraded",
			},
		),
		latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clawroute_routing_duration_seconds",
				Help:    "Time spent classifying and routing one request",
				Buckets: []float64{.00001, .00005, .0001, .00025, .0005, .001, .0025, .005, .01},
			},
		),
		confidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clawroute_decision_confidence",
				Help:    "Confidence of routing decisions",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
			},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clawroute_config_reloads_total",
				Help: "Config reload attempts by result",
			},
			[]string{"result"},
		),
		patternWarnings: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clawroute_pattern_warnings",
				Help: "Dimension patterns that failed to compile in the active config",
			},
		),
		feedClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clawroute_feed_clients",
				Help: "Connected decision feed websocket clients",
			},
		),
	}
	m.registry.MustRegister(m.decisions, m.substitutions, m.latency, m.confidence,
		m.reloads, m.patternWarnings, m.feedClients)
	return m
}

// ObserveDecision records one routing decision.
func (m *Metrics) ObserveDecision(d plugin.Decision) {
	cost := "paid"
	if router.IsFreeModel(d.Model) {
		cost = "free"
	}
	m.decisions.WithLabelValues(d.Tier.String(), cost).Inc()
	if d.Substituted {
		m.substitutions.Inc()
	}
	m.latency.Observe(d.Elapsed.Seconds())
	m.confidence.Observe(d.Confidence)
}

// ObserveReload records a reload attempt.
func (m *Metrics) ObserveReload(res *config.ReloadResult, err error) {
	switch {
	case err != nil:
		m.reloads.WithLabelValues("error").Inc()
	case len(res.Errors) > 0:
		m.reloads.WithLabelValues("partial").Inc()
	case len(res.Changed) == 0:
		m.reloads.WithLabelValues("unchanged").Inc()
	default:
		m.reloads.WithLabelValues("applied").Inc()
	}
}

// SetPatternWarnings sets the invalid pattern gauge.
func (m *Metrics) SetPatternWarnings(n int) {
	m.patternWarnings.Set(float64(n))
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
