// Package metrics exposes Prometheus instrumentation for workflow executors,
// the parallel task executor and the padding-oracle engine.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "handshake"

// PrometheusMetrics collects handshake execution metrics.
//
// Metrics exposed (all namespaced with "handshake_"):
//
// 1. actions_total (counter): Executed workflow actions.
// Labels: kind, planned (true/false).
//
// 2. retransmissions_total (counter): Flight or packet retransmissions.
// Labels: variant (datagram, packet).
//
// 3. inflight_tasks (gauge): Tasks currently running in the parallel executor.
//
// 4. task_latency_ms (histogram): Wall time of one task execution attempt.
// Labels: status (success, error, panic).
//
// 5. reexecutions_total (counter): Task reexecution attempts.
//
// 6. watchdog_trips_total (counter): Times the pool watchdog detected no progress.
//
// 7. verdicts_total (counter): Oracle verdicts.
// Labels: attack, verdict.
//
// A nil *PrometheusMetrics is valid and records nothing, so components can hold
// one unconditionally.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	m := metrics.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	actions         *prometheus.CounterVec
	retransmissions *prometheus.CounterVec
	inflightTasks   prometheus.Gauge
	taskLatency     *prometheus.HistogramVec
	reexecutions    prometheus.Counter
	watchdogTrips   prometheus.Counter
	verdicts        *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all metrics with registry.
// A nil registry falls back to prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.actions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_total",
		Help:      "Workflow actions executed, by kind and whether they executed as planned",
	}, []string{"kind", "planned"})

	pm.retransmissions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retransmissions_total",
		Help:      "Flight or packet retransmissions performed by unreliable-transport executors",
	}, []string{"variant"})

	pm.inflightTasks = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inflight_tasks",
		Help:      "Tasks currently executing in the parallel executor",
	})

	pm.taskLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_latency_ms",
		Help:      "Duration of one task execution attempt in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"status"}) // status: success, error, panic

	pm.reexecutions = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reexecutions_total",
		Help:      "Task reexecutions after a failed attempt",
	})

	pm.watchdogTrips = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watchdog_trips_total",
		Help:      "Times the executor watchdog observed no task progress",
	})

	pm.verdicts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verdicts_total",
		Help:      "Padding-oracle verdicts by attack and outcome",
	}, []string{"attack", "verdict"})

	return pm
}

func (pm *PrometheusMetrics) active() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordAction counts one executed action.
func (pm *PrometheusMetrics) RecordAction(kind string, planned bool) {
	if !pm.active() {
		return
	}
	pm.actions.WithLabelValues(kind, strconv.FormatBool(planned)).Inc()
}

// IncrementRetransmissions counts one retransmission for the executor variant.
func (pm *PrometheusMetrics) IncrementRetransmissions(variant string) {
	if !pm.active() {
		return
	}
	pm.retransmissions.WithLabelValues(variant).Inc()
}

// AddInflightTasks adjusts the in-flight task gauge by delta.
func (pm *PrometheusMetrics) AddInflightTasks(delta int) {
	if !pm.active() {
		return
	}
	pm.inflightTasks.Add(float64(delta))
}

// RecordTaskLatency observes one task attempt.
func (pm *PrometheusMetrics) RecordTaskLatency(latency time.Duration, status string) {
	if !pm.active() {
		return
	}
	pm.taskLatency.WithLabelValues(status).Observe(float64(latency.Milliseconds()))
}

// IncrementReexecutions counts one task reexecution.
func (pm *PrometheusMetrics) IncrementReexecutions() {
	if !pm.active() {
		return
	}
	pm.reexecutions.Inc()
}

// IncrementWatchdogTrips counts one watchdog trip.
func (pm *PrometheusMetrics) IncrementWatchdogTrips() {
	if !pm.active() {
		return
	}
	pm.watchdogTrips.Inc()
}

// RecordVerdict counts one oracle verdict.
func (pm *PrometheusMetrics) RecordVerdict(attack, verdict string) {
	if !pm.active() {
		return
	}
	pm.verdicts.WithLabelValues(attack, verdict).Inc()
}

// Disable temporarily disables metric recording.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the gauges. Counters and histograms are cumulative and keep
// their values.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.inflightTasks.Set(0)
}
