// Package prometheus supplies the concrete instrumentation behind
// internal/metrics.WorkerMetrics. Importing this package for its side
// effect (the init() below) is what makes internal/metrics.NewWorkerMetrics
// return a live implementation instead of nil.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dlmsbridge/bridge/internal/metrics"
)

func init() {
	metrics.RegisterWorkerMetricsConstructor(newWorkerMetrics)
}

type workerMetrics struct {
	pollCycles     *prometheus.CounterVec
	pollDuration   *prometheus.HistogramVec
	messagesSent   *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
	breakerOpens   *prometheus.CounterVec
	workerRestarts *prometheus.CounterVec
	activeWorkers  prometheus.Gauge
}

func newWorkerMetrics() metrics.WorkerMetrics {
	reg := metrics.GetRegistry()

	return &workerMetrics{
		pollCycles: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_poll_cycles_total",
				Help: "Total poll cycles per meter by outcome",
			},
			[]string{"meter_id", "outcome"}, // outcome: "success", "failure"
		),
		pollDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_poll_cycle_duration_seconds",
				Help:    "Duration of one poll cycle (all configured measurements)",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"meter_id"},
		),
		messagesSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_mqtt_messages_sent_total",
				Help: "Total telemetry messages published per meter",
			},
			[]string{"meter_id"},
		),
		reconnects: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_reconnects_total",
				Help: "Total forced reconnect attempts per meter",
			},
			[]string{"meter_id"},
		),
		breakerOpens: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_circuit_breaker_opens_total",
				Help: "Total circuit breaker trips per meter",
			},
			[]string{"meter_id"},
		),
		workerRestarts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_worker_restarts_total",
				Help: "Total orchestrator-driven worker restarts per meter",
			},
			[]string{"meter_id"},
		),
		activeWorkers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_active_workers",
				Help: "Current number of supervised meter workers",
			},
		),
	}
}

func (m *workerMetrics) ObservePollCycle(meterID int64, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	id := strconv.FormatInt(meterID, 10)
	m.pollCycles.WithLabelValues(id, outcome).Inc()
	m.pollDuration.WithLabelValues(id).Observe(duration.Seconds())
}

func (m *workerMetrics) RecordMessagesSent(meterID int64, count int) {
	m.messagesSent.WithLabelValues(strconv.FormatInt(meterID, 10)).Add(float64(count))
}

func (m *workerMetrics) RecordReconnect(meterID int64) {
	m.reconnects.WithLabelValues(strconv.FormatInt(meterID, 10)).Inc()
}

func (m *workerMetrics) RecordBreakerOpen(meterID int64) {
	m.breakerOpens.WithLabelValues(strconv.FormatInt(meterID, 10)).Inc()
}

func (m *workerMetrics) RecordWorkerRestart(meterID int64) {
	m.workerRestarts.WithLabelValues(strconv.FormatInt(meterID, 10)).Inc()
}

func (m *workerMetrics) SetActiveWorkers(count int) {
	m.activeWorkers.Set(float64(count))
}
