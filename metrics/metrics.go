// Package metrics exposes Prometheus collectors for model calls, tool calls
// and turns. A Metrics value implements both flow.Observer and
// tool.CallObserver and can be passed to agents as their observer. A nil
// *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/Aidanwa/smart-home/flow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smarthome"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	modelCallDuration *prometheus.HistogramVec
	modelCallsTotal   *prometheus.CounterVec
	toolCallDuration  *prometheus.HistogramVec
	toolCallsTotal    *prometheus.CounterVec
	turnsTotal        *prometheus.CounterVec
	turnIterations    prometheus.Histogram
}

// Options configure New.
type Options struct {
	// RuntimeCollectors adds Go runtime and process metrics.
	RuntimeCollectors bool
}

// New creates and registers the collectors.
func New(optFns ...func(o *Options)) *Metrics {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		modelCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_call_duration_seconds",
				Help:      "Duration of streamed model calls in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		modelCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_calls_total",
				Help:      "Total number of streamed model calls",
			},
			[]string{"provider", "status"}, // status: success, error
		),
		toolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Duration of tool calls in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"tool"},
		),
		toolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of tool calls",
			},
			[]string{"tool", "status"},
		),
		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Total number of finished turns by final state",
			},
			[]string{"state"},
		),
		turnIterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_iterations",
				Help:      "Tool iterations used per turn",
				Buckets:   []float64{0, 1, 2, 3, 5, 8},
			},
		),
	}

	m.registry.MustRegister(
		m.modelCallDuration,
		m.modelCallsTotal,
		m.toolCallDuration,
		m.toolCallsTotal,
		m.turnsTotal,
		m.turnIterations,
	)
	if opts.RuntimeCollectors {
		m.registry.MustRegister(collectors.NewGoCollector())
		m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveModelCall implements flow.Observer.
func (m *Metrics) ObserveModelCall(provider string, dur time.Duration, err error) {
	if m == nil {
		return
	}
	m.modelCallDuration.WithLabelValues(provider).Observe(dur.Seconds())
	m.modelCallsTotal.WithLabelValues(provider, status(err)).Inc()
}

// ObserveTurn implements flow.Observer.
func (m *Metrics) ObserveTurn(state flow.State, iterations int) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(state.String()).Inc()
	m.turnIterations.Observe(float64(iterations))
}

// ObserveToolCall implements tool.CallObserver.
func (m *Metrics) ObserveToolCall(name string, dur time.Duration, err error) {
	if m == nil {
		return
	}
	m.toolCallDuration.WithLabelValues(name).Observe(dur.Seconds())
	m.toolCallsTotal.WithLabelValues(name, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
