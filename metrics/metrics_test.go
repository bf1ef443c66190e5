package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// value reads the current value of a counter or gauge.
func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Histogram != nil:
		return float64(m.Histogram.GetSampleCount())
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func TestPrometheusMetrics_Record(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPrometheusMetrics(registry)

	m.RecordAction("send", true)
	m.RecordAction("send", true)
	m.RecordAction("receive", false)
	m.IncrementRetransmissions("datagram")
	m.IncrementReexecutions()
	m.IncrementWatchdogTrips()
	m.RecordVerdict("padding-oracle", "NOT_VULNERABLE")
	m.AddInflightTasks(3)
	m.AddInflightTasks(-1)
	m.RecordTaskLatency(25*time.Millisecond, "success")

	if got := value(t, m.actions.WithLabelValues("send", "true")); got != 2 {
		t.Errorf("expected 2 planned sends, got %v", got)
	}
	if got := value(t, m.actions.WithLabelValues("receive", "false")); got != 1 {
		t.Errorf("expected 1 unplanned receive, got %v", got)
	}
	if got := value(t, m.retransmissions.WithLabelValues("datagram")); got != 1 {
		t.Errorf("expected 1 retransmission, got %v", got)
	}
	if got := value(t, m.reexecutions); got != 1 {
		t.Errorf("expected 1 reexecution, got %v", got)
	}
	if got := value(t, m.watchdogTrips); got != 1 {
		t.Errorf("expected 1 watchdog trip, got %v", got)
	}
	if got := value(t, m.verdicts.WithLabelValues("padding-oracle", "NOT_VULNERABLE")); got != 1 {
		t.Errorf("expected 1 verdict, got %v", got)
	}
	if got := value(t, m.inflightTasks); got != 2 {
		t.Errorf("expected 2 in-flight tasks, got %v", got)
	}
	if got := value(t, m.taskLatency.WithLabelValues("success").(prometheus.Histogram)); got != 1 {
		t.Errorf("expected 1 latency observation, got %v", got)
	}
}

func TestPrometheusMetrics_Registered(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPrometheusMetrics(registry)
	m.RecordAction("wait", true)
	m.RecordTaskLatency(time.Millisecond, "error")
	m.RecordVerdict("a", "UNKNOWN")
	m.IncrementRetransmissions("packet")

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"handshake_actions_total",
		"handshake_retransmissions_total",
		"handshake_inflight_tasks",
		"handshake_task_latency_ms",
		"handshake_reexecutions_total",
		"handshake_watchdog_trips_total",
		"handshake_verdicts_total",
	} {
		if !names[want] {
			t.Errorf("expected metric %s to be registered", want)
		}
	}
}

func TestPrometheusMetrics_Disable(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	m.Disable()
	m.IncrementReexecutions()
	if got := value(t, m.reexecutions); got != 0 {
		t.Errorf("expected no recording while disabled, got %v", got)
	}

	m.Enable()
	m.IncrementReexecutions()
	if got := value(t, m.reexecutions); got != 1 {
		t.Errorf("expected 1 after re-enable, got %v", got)
	}

	m.AddInflightTasks(4)
	m.Reset()
	if got := value(t, m.inflightTasks); got != 0 {
		t.Errorf("expected gauge reset, got %v", got)
	}
}

func TestPrometheusMetrics_NilReceiver(t *testing.T) {
	var m *PrometheusMetrics
	m.RecordAction("send", true)
	m.IncrementRetransmissions("datagram")
	m.AddInflightTasks(1)
	m.RecordTaskLatency(time.Second, "success")
	m.IncrementReexecutions()
	m.IncrementWatchdogTrips()
	m.RecordVerdict("a", "b")
}
