// Package metrics exposes Prometheus collectors for chat turns, web search,
// document ingestion and memory stores.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/ragchat/internal/failure"
)

const namespace = "ragchat"

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	turns        *prometheus.CounterVec
	turnDuration prometheus.Histogram
	searches     *prometheus.CounterVec
	ingests      *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Chat turns by result (ok or failure kind).",
		}, []string{"result"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end latency of chat turns.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 45},
		}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Web searches by result (ok or failure kind).",
		}, []string{"result"}),
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingests_total",
			Help:      "Ingested documents by result (ok or failure kind).",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.turns, m.turnDuration, m.searches, m.ingests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// TrackStores exports the number of live conversation memory stores as
// reported by count.
func (m *Metrics) TrackStores(count func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_stores",
		Help:      "Conversation memory stores currently held.",
	}, func() float64 { return float64(count()) }))
}

// ObserveTurn records one finished chat turn.
func (m *Metrics) ObserveTurn(kind failure.Kind, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(result(kind)).Inc()
	m.turnDuration.Observe(d.Seconds())
}

// ObserveSearch records one web search.
func (m *Metrics) ObserveSearch(kind failure.Kind) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(result(kind)).Inc()
}

// ObserveIngest records one ingested document.
func (m *Metrics) ObserveIngest(kind failure.Kind) {
	if m == nil {
		return
	}
	m.ingests.WithLabelValues(result(kind)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func result(kind failure.Kind) string {
	if kind == failure.None {
		return "ok"
	}
	return string(kind)
}
