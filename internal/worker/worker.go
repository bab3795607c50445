// Package worker implements the per-meter acquisition loop: periodic
// polling of configured measurements, watchdog-driven recovery, a circuit
// breaker on reconnect storms, and publish to the telemetry platform
// (spec.md §4.5).
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dlmsbridge/bridge/internal/dlms"
	"github.com/dlmsbridge/bridge/internal/logger"
	"github.com/dlmsbridge/bridge/internal/metrics"
	"github.com/dlmsbridge/bridge/internal/obis"
	"github.com/dlmsbridge/bridge/internal/register"
	"github.com/dlmsbridge/bridge/internal/telemetry"
)

// DLMSClient is the subset of *robust.Client the worker drives, kept as an
// interface so tests can substitute a fake.
type DLMSClient interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ReadRegister(ctx context.Context, code obis.Code, retries int) (register.Reading, error)
	Reader() *register.Reader
}

// Publisher is the subset of *mqttpub.Publisher the worker drives.
type Publisher interface {
	Connect() error
	Disconnect()
	PublishTelemetry(values map[string]float64, ts int64) bool
	IsConnected() bool
}

// Measurement maps a user-visible key to the OBIS code it reads.
type Measurement struct {
	Key  string
	OBIS obis.Code
}

// Meter is the subset of the configuration-store meter record the worker
// and its WorkerFactory need: connection coordinates for the DLMS session,
// a device token for the MQTT publisher, and the duty-cycle schedule.
type Meter struct {
	ID             int64
	Name           string
	Host           string
	Port           int
	ClientSAP      int
	ServerLogical  int
	ServerPhysical int
	Password       []byte
	DeviceToken    string
	Measurements   []Measurement
	Interval       time.Duration
}

// EventKind classifies a lifecycle event the worker reports to its
// supervisor.
type EventKind int

const (
	EventStarted EventKind = iota
	EventStopped
	EventCrashed
)

// Event is one lifecycle notification sent on Worker.Events.
type Event struct {
	MeterID int64
	Kind    EventKind
	Err     error
}

// Counters is a snapshot of the worker's running totals, exposed for
// operator dashboards and tests.
type Counters struct {
	TotalCycles      uint64
	SuccessfulCycles uint64
	FailedCycles     uint64
	MessagesSent     uint64
}

// Config parameterizes one worker's watchdog, breaker, and recovery
// behavior.
type Config struct {
	Watchdog WatchdogConfig
	Breaker  BreakerConfig

	ReadRetries      int
	ReconnectSettle  time.Duration
	HeartbeatCycles  uint64
}

// ApplyDefaults fills zero-valued fields per spec.md §4.5.
func (c *Config) ApplyDefaults() {
	c.Watchdog.ApplyDefaults()
	c.Breaker.ApplyDefaults()
	if c.ReadRetries <= 0 {
		c.ReadRetries = 1
	}
	if c.ReconnectSettle <= 0 {
		c.ReconnectSettle = 2 * time.Second
	}
	if c.HeartbeatCycles == 0 {
		c.HeartbeatCycles = 60
	}
}

// Heartbeat is called every cfg.HeartbeatCycles successful cycles, the
// worker's only required external write besides publish and diagnostics.
type Heartbeat func(ctx context.Context, meterID int64, at time.Time) error

// Metric is one per-cycle performance snapshot, written through MetricsSink
// alongside the heartbeat (spec.md §6 "per-cycle metrics (avg read time,
// success rate, messages sent)").
type Metric struct {
	Timestamp    time.Time
	AvgReadTime  time.Duration
	SuccessRate  float64
	MessagesSent uint64
	CacheHitRate float64
}

// MetricsSink persists a Metric snapshot to the configuration store.
type MetricsSink func(ctx context.Context, meterID int64, m Metric) error

// Worker drives one meter's entire duty cycle, indefinitely, with bounded
// recovery. It is not safe for concurrent use from multiple goroutines;
// exactly one call to Run is expected per Worker.
type Worker struct {
	meter      Meter
	dlms       DLMSClient
	publisher  Publisher
	cfg        Config
	heartbeat  Heartbeat
	metricsink MetricsSink

	watchdog *watchdog
	breaker  *breaker
	metrics  metrics.WorkerMetrics

	seq uint64

	mu           sync.Mutex
	counters     Counters
	cycleTimeSum time.Duration

	Events chan Event
}

// New builds a Worker for meter, wired to the given DLMS and MQTT
// collaborators. m may be nil, in which case metrics recording is a no-op.
func New(meter Meter, dlms DLMSClient, publisher Publisher, cfg Config, hb Heartbeat, m metrics.WorkerMetrics) *Worker {
	return NewWithMetricsSink(meter, dlms, publisher, cfg, hb, nil, m)
}

// NewWithMetricsSink builds a Worker that additionally persists a Metric
// snapshot through ms alongside every heartbeat write. ms may be nil, in
// which case per-cycle metrics are only exported to Prometheus, not the
// configuration store.
func NewWithMetricsSink(meter Meter, dlms DLMSClient, publisher Publisher, cfg Config, hb Heartbeat, ms MetricsSink, m metrics.WorkerMetrics) *Worker {
	cfg.ApplyDefaults()
	return &Worker{
		meter:      meter,
		dlms:       dlms,
		publisher:  publisher,
		cfg:        cfg,
		heartbeat:  hb,
		metricsink: ms,
		watchdog:   newWatchdog(cfg.Watchdog, time.Now()),
		breaker:    newBreaker(cfg.Breaker),
		metrics:    m,
		Events:     make(chan Event, 4),
	}
}

// Counters returns a snapshot of the worker's running totals.
func (w *Worker) Counters() Counters {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counters
}

// Run executes the worker's lifecycle until ctx is cancelled: connect,
// poll-publish-sleep, recover on failure, shut down cleanly on
// cancellation. A panic inside the loop is recovered and reported as
// EventCrashed rather than taking down the orchestrator.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: panic: %v", r)
			w.emit(Event{MeterID: w.meter.ID, Kind: EventCrashed, Err: err})
		}
	}()

	if pubErr := w.publisher.Connect(); pubErr != nil {
		return fmt.Errorf("worker: publisher connect: %w", pubErr)
	}
	if dlmsErr := w.dlms.Connect(ctx); dlmsErr != nil {
		w.publisher.Disconnect()
		return fmt.Errorf("worker: dlms connect: %w", dlmsErr)
	}

	w.watchdog.onReconnect(time.Now())
	w.dlms.Reader().WarmupCache(ctx, w.codes())

	w.emit(Event{MeterID: w.meter.ID, Kind: EventStarted})
	logger.Info("worker started", "meter_id", w.meter.ID, "meter_name", w.meter.Name)

	defer func() {
		_ = w.dlms.Disconnect(context.Background())
		w.publisher.Disconnect()
		w.emit(Event{MeterID: w.meter.ID, Kind: EventStopped})
	}()

	ticker := time.NewTicker(w.meter.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopping", "meter_id", w.meter.ID)
			return nil
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

func (w *Worker) codes() []obis.Code {
	codes := make([]obis.Code, len(w.meter.Measurements))
	for i, m := range w.meter.Measurements {
		codes[i] = m.OBIS
	}
	return codes
}

// runCycle reads every configured measurement sequentially, publishes the
// result, updates counters, and evaluates the watchdog/breaker.
func (w *Worker) runCycle(ctx context.Context) {
	ctx, span := telemetry.StartSpan(ctx, "worker.poll_cycle")
	telemetry.SetAttributes(ctx, telemetry.MeterAttributes(w.meter.ID, w.meter.Name)...)
	defer span.End()

	started := time.Now()
	values := make(map[string]float64, len(w.meter.Measurements))
	anySuccess := false
	hdlcErrorSeen := false

	for _, m := range w.meter.Measurements {
		reading, err := w.dlms.ReadRegister(ctx, m.OBIS, w.cfg.ReadRetries)
		if err != nil {
			logger.Warn("measurement read failed", "meter_id", w.meter.ID, "obis", m.OBIS.Short(), "error", err)
			if classifyHDLC(err) {
				hdlcErrorSeen = true
			}
			continue
		}
		values[m.Key] = reading.Scaled
		anySuccess = true
	}

	now := time.Now()
	cycleTime := now.Sub(started)
	w.mu.Lock()
	w.counters.TotalCycles++
	w.cycleTimeSum += cycleTime
	w.mu.Unlock()

	if hdlcErrorSeen {
		w.watchdog.onHDLCError()
	}

	if anySuccess {
		w.mu.Lock()
		w.counters.SuccessfulCycles++
		w.mu.Unlock()
		w.watchdog.onCycleSuccess(now)
		w.publishCycle(values)
		w.maybeHeartbeat(ctx)
	} else {
		w.mu.Lock()
		w.counters.FailedCycles++
		w.mu.Unlock()
		w.watchdog.onCycleFailure()
	}
	metrics.ObservePollCycle(w.metrics, w.meter.ID, anySuccess, cycleTime)

	// Watchdog thresholds are evaluated first; a full-cycle failure also
	// forces a reconnect attempt, but only after the circuit breaker check
	// (spec.md §4.5).
	if r := w.watchdog.shouldForceReconnect(now); r != reasonNone {
		logger.Warn("watchdog threshold reached, forcing reconnect", "meter_id", w.meter.ID, "reason", r.String())
		w.reconnect(ctx)
		return
	}
	if !anySuccess {
		w.reconnect(ctx)
	}
}

func (w *Worker) publishCycle(values map[string]float64) {
	seq := atomic.AddUint64(&w.seq, 1)
	ok := w.publisher.PublishTelemetry(values, 0)
	if ok {
		w.mu.Lock()
		w.counters.MessagesSent++
		w.mu.Unlock()
		metrics.RecordMessagesSent(w.metrics, w.meter.ID, len(values))
	}
	logger.Debug("published telemetry", "meter_id", w.meter.ID, "seq", seq, "measurements", len(values))
}

func (w *Worker) maybeHeartbeat(ctx context.Context) {
	w.mu.Lock()
	success := w.counters.SuccessfulCycles
	w.mu.Unlock()
	if success%w.cfg.HeartbeatCycles != 0 {
		return
	}

	now := time.Now()
	if w.heartbeat != nil {
		if err := w.heartbeat(ctx, w.meter.ID, now); err != nil {
			logger.Warn("heartbeat write failed", "meter_id", w.meter.ID, "error", err)
		}
	}
	if w.metricsink != nil {
		if err := w.metricsink(ctx, w.meter.ID, w.snapshotMetric(now)); err != nil {
			logger.Warn("metrics write failed", "meter_id", w.meter.ID, "error", err)
		}
	}
}

// snapshotMetric builds the per-cycle performance snapshot spec.md §6
// requires the configuration store to accept.
func (w *Worker) snapshotMetric(at time.Time) Metric {
	w.mu.Lock()
	total := w.counters.TotalCycles
	successful := w.counters.SuccessfulCycles
	sent := w.counters.MessagesSent
	sum := w.cycleTimeSum
	w.mu.Unlock()

	var avg time.Duration
	var successRate float64
	if total > 0 {
		avg = sum / time.Duration(total)
		successRate = float64(successful) / float64(total) * 100
	}
	var cacheHitRate float64
	if w.dlms != nil {
		if reader := w.dlms.Reader(); reader != nil {
			cacheHitRate = reader.Stats().HitRate() * 100
		}
	}
	return Metric{
		Timestamp:    at,
		AvgReadTime:  avg,
		SuccessRate:  successRate,
		MessagesSent: sent,
		CacheHitRate: cacheHitRate,
	}
}

// reconnect performs the bounded reconnect procedure from spec.md §4.5,
// gated by the circuit breaker.
func (w *Worker) reconnect(ctx context.Context) {
	ctx, span := telemetry.StartSpan(ctx, "worker.reconnect")
	telemetry.SetAttributes(ctx, telemetry.MeterAttributes(w.meter.ID, w.meter.Name)...)
	defer span.End()

	now := time.Now()
	metrics.RecordReconnect(w.metrics, w.meter.ID)
	if !w.breaker.allow(now) {
		logger.Error("circuit breaker open, refusing reconnect", "meter_id", w.meter.ID, "category", "circuit_breaker")
		metrics.RecordBreakerOpen(w.metrics, w.meter.ID)
		w.watchdog.onReconnect(now) // reset the age timer so we don't tight-loop
		return
	}

	_ = w.dlms.Disconnect(ctx)

	select {
	case <-time.After(w.cfg.ReconnectSettle):
	case <-ctx.Done():
		return
	}

	if err := w.dlms.Connect(ctx); err != nil {
		logger.Error("reconnect failed, retrying once", "meter_id", w.meter.ID, "error", err)
		if err := w.dlms.Connect(ctx); err != nil {
			logger.Error("reconnect failed twice, bubbling to supervisor", "meter_id", w.meter.ID, "error", err)
			telemetry.RecordError(ctx, err)
			w.emit(Event{MeterID: w.meter.ID, Kind: EventCrashed, Err: err})
			return
		}
	}

	w.watchdog.onReconnect(time.Now())
	w.dlms.Reader().WarmupCache(ctx, w.codes())
}

func (w *Worker) emit(e Event) {
	select {
	case w.Events <- e:
	default:
	}
}

// classifyHDLC reports whether err belongs to the HDLC error family the
// watchdog's consecutive-HDLC-error counter tracks (spec.md §4.5).
func classifyHDLC(err error) bool {
	return dlms.IsHDLCClass(err)
}
