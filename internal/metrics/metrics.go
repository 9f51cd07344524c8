// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	EventsIngested  *prometheus.CounterVec
	EventsDropped   prometheus.Counter
	FindingsEmitted *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		EventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpwatch_events_ingested_total",
			Help: "Events accepted by the monitor, by source.",
		}, []string{"source"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcpwatch_events_dropped_total",
			Help: "Events dropped before normalization.",
		}),
		FindingsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpwatch_findings_total",
			Help: "Findings emitted by the detection pipeline.",
		}, []string{"engine", "severity"}),
	}
}

// RegisterCounterFunc exposes a component-owned atomic counter, such as the
// sink's retry count or the correlator's ambiguity count, without copying.
func (m *Metrics) RegisterCounterFunc(name, help string, fn func() float64) {
	m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: name,
		Help: help,
	}, fn))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
