package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_ExecutionLifecycleGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.ExecutionStarted()
	if got := testutil.ToFloat64(m.runningExecutions); got != 1 {
		t.Fatalf("expected running_executions=1, got %v", got)
	}

	m.ExecutionFinished("success")
	if got := testutil.ToFloat64(m.runningExecutions); got != 0 {
		t.Fatalf("expected running_executions=0 after finish, got %v", got)
	}
}

func TestMetrics_NodeFinishedRecordsFailureCount(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.NodeStarted()
	m.NodeFinished("task", "failed", 12.5)

	if got := testutil.ToFloat64(m.nodeFailures.WithLabelValues("task", "failed")); got != 1 {
		t.Fatalf("expected 1 failure recorded, got %v", got)
	}
}
