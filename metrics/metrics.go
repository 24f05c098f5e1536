// Package metrics exports benchmark progress as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weiihann/httpbench/bench"
)

const namespace = "httpbench"

var phases = []bench.State{
	bench.StateIdle,
	bench.StateSetup,
	bench.StateWarmup,
	bench.StateMeasuring,
	bench.StateTeardown,
	bench.StateDone,
	bench.StateFailed,
}

// Collector is a bench.Observer backed by a private registry.
type Collector struct {
	registry *prometheus.Registry

	phase      *prometheus.GaugeVec
	iterations *prometheus.CounterVec
	operations *prometheus.GaugeVec
	throughput *prometheus.GaugeVec
	failures   prometheus.Counter
}

var _ bench.Observer = (*Collector)(nil)

// New creates a Collector and registers its metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "phase",
				Help:      "1 for the phase the benchmark is currently in, 0 otherwise",
			},
			[]string{"phase"},
		),
		iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "iterations_total",
				Help:      "Completed iterations by phase",
			},
			[]string{"phase"},
		),
		operations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "iteration_operations",
				Help:      "Accepted operations in the last completed iteration",
			},
			[]string{"phase"},
		),
		throughput: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "iteration_throughput",
				Help:      "Operations per second of the last completed iteration",
			},
			[]string{"phase"},
		),
		failures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Runs that ended in the failed state",
			},
		),
	}

	c.registry.MustRegister(
		c.phase, c.iterations, c.operations, c.throughput, c.failures,
	)

	return c
}

// StateChanged implements bench.Observer.
func (c *Collector) StateChanged(state bench.State, _ int) {
	for _, p := range phases {
		v := 0.0
		if p == state {
			v = 1
		}
		c.phase.WithLabelValues(p.String()).Set(v)
	}

	if state == bench.StateFailed {
		c.failures.Inc()
	}
}

// IterationFinished implements bench.Observer.
func (c *Collector) IterationFinished(state bench.State, res bench.IterationResult) {
	label := state.String()

	c.iterations.WithLabelValues(label).Inc()
	c.operations.WithLabelValues(label).Set(float64(res.Operations))
	c.throughput.WithLabelValues(label).Set(res.Throughput)
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
