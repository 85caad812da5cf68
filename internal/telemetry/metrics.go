// Package telemetry wires the orchestrator's Prometheus metrics and
// OpenTelemetry tracer, grounded in the langgraph-go example's
// PrometheusMetrics pattern (promauto factory against an injectable
// registry, gauges/histograms/counters namespaced per subsystem).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the executor, dispatcher, and
// orchestrator report to. The zero value is not usable; use NewMetrics.
type Metrics struct {
	runningExecutions prometheus.Gauge
	nodesInFlight     prometheus.Gauge

	nodeLatency *prometheus.HistogramVec

	nodeRetries    *prometheus.CounterVec
	nodeFailures   *prometheus.CounterVec
	executionsDone *prometheus.CounterVec
	tasksDispatched prometheus.Counter
}

// NewMetrics registers every collector against registry (use
// prometheus.NewRegistry() for test isolation, or
// prometheus.DefaultRegisterer to expose via promhttp).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		runningExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "running_executions",
			Help:      "Number of workflow executions currently running.",
		}),
		nodesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "nodes_in_flight",
			Help:      "Number of nodes currently dispatched across all runs.",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"node_type", "status"}),
		nodeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "node_retries_total",
			Help:      "Cumulative retry attempts across all nodes.",
		}, []string{"node_type"}),
		nodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "node_failures_total",
			Help:      "Cumulative terminal node failures, by final status.",
		}, []string{"node_type", "status"}),
		executionsDone: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "executions_total",
			Help:      "Cumulative terminal executions, by final status.",
		}, []string{"status"}),
		tasksDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "tasks_dispatched_total",
			Help:      "Cumulative DispatchTask messages published by the dispatcher bridge.",
		}),
	}
}

// ExecutionStarted increments the running-executions gauge.
func (m *Metrics) ExecutionStarted() { m.runningExecutions.Inc() }

// ExecutionFinished decrements the running-executions gauge and records
// the final status.
func (m *Metrics) ExecutionFinished(status string) {
	m.runningExecutions.Dec()
	m.executionsDone.WithLabelValues(status).Inc()
}

// NodeStarted increments the in-flight node gauge.
func (m *Metrics) NodeStarted() { m.nodesInFlight.Inc() }

// NodeFinished decrements the in-flight node gauge and records latency and,
// for a non-success status, a failure count.
func (m *Metrics) NodeFinished(nodeType, status string, latencyMs float64) {
	m.nodesInFlight.Dec()
	m.nodeLatency.WithLabelValues(nodeType, status).Observe(latencyMs)
	if status != "success" {
		m.nodeFailures.WithLabelValues(nodeType, status).Inc()
	}
}

// NodeRetried records one retry attempt for a node type.
func (m *Metrics) NodeRetried(nodeType string) {
	m.nodeRetries.WithLabelValues(nodeType).Inc()
}

// TaskDispatched records one DispatchTask publish.
func (m *Metrics) TaskDispatched() { m.tasksDispatched.Inc() }
