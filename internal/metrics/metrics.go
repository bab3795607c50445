// Package metrics defines bridge's Prometheus-observable interface. The
// concrete implementation lives in internal/metrics/prometheus, registered
// into this package via RegisterWorkerMetricsConstructor to avoid an import
// cycle between the domain packages (internal/worker, internal/orchestrator)
// and the concrete Prometheus client.
package metrics

import "time"

// WorkerMetrics is the subset of Prometheus instrumentation a worker and
// its orchestrator report into. A nil WorkerMetrics is valid when passed to
// the package-level helpers below, which skip it, so callers going through
// them never need to nil-check; calling a method on a nil value panics.
type WorkerMetrics interface {
	ObservePollCycle(meterID int64, success bool, duration time.Duration)
	RecordMessagesSent(meterID int64, count int)
	RecordReconnect(meterID int64)
	RecordBreakerOpen(meterID int64)
	RecordWorkerRestart(meterID int64)
	SetActiveWorkers(count int)
}

// newWorkerMetrics is populated by internal/metrics/prometheus's init().
var newWorkerMetrics func() WorkerMetrics

// RegisterWorkerMetricsConstructor wires the Prometheus implementation in.
// Called from internal/metrics/prometheus during package initialization.
func RegisterWorkerMetricsConstructor(constructor func() WorkerMetrics) {
	newWorkerMetrics = constructor
}

// NewWorkerMetrics returns a Prometheus-backed WorkerMetrics, or nil if
// metrics are disabled or the prometheus implementation was never imported.
func NewWorkerMetrics() WorkerMetrics {
	if !IsEnabled() || newWorkerMetrics == nil {
		return nil
	}
	return newWorkerMetrics()
}

// ObservePollCycle records a poll cycle outcome, tolerating a nil m.
func ObservePollCycle(m WorkerMetrics, meterID int64, success bool, duration time.Duration) {
	if m != nil {
		m.ObservePollCycle(meterID, success, duration)
	}
}

// RecordMessagesSent records a successful publish batch, tolerating a nil m.
func RecordMessagesSent(m WorkerMetrics, meterID int64, count int) {
	if m != nil {
		m.RecordMessagesSent(meterID, count)
	}
}

// RecordReconnect records a forced reconnect attempt, tolerating a nil m.
func RecordReconnect(m WorkerMetrics, meterID int64) {
	if m != nil {
		m.RecordReconnect(meterID)
	}
}

// RecordBreakerOpen records a circuit breaker trip, tolerating a nil m.
func RecordBreakerOpen(m WorkerMetrics, meterID int64) {
	if m != nil {
		m.RecordBreakerOpen(meterID)
	}
}

// RecordWorkerRestart records an orchestrator-driven restart, tolerating a
// nil m.
func RecordWorkerRestart(m WorkerMetrics, meterID int64) {
	if m != nil {
		m.RecordWorkerRestart(meterID)
	}
}

// SetActiveWorkers records the current count of supervised workers,
// tolerating a nil m.
func SetActiveWorkers(m WorkerMetrics, count int) {
	if m != nil {
		m.SetActiveWorkers(count)
	}
}
