// Package orchestrator supervises one worker per active meter: it starts,
// stops, and restarts workers on operator or internal signals, tracks
// restart counts, and surfaces health to the admin layer (spec.md §4.7).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dlmsbridge/bridge/internal/logger"
	"github.com/dlmsbridge/bridge/internal/metrics"
	"github.com/dlmsbridge/bridge/internal/worker"
)

// Alarm is one diagnostic event recorded through the Store (spec.md §3).
type Alarm struct {
	MeterID   int64
	Severity  string
	Category  string
	Message   string
	RawFrame  []byte
	Timestamp time.Time
}

// Store is the configuration-store interface the orchestrator consumes
// (spec.md §6): enumerate meters, persist status transitions, heartbeats,
// and alarms. internal/store.Store implements it against a real database;
// tests substitute an in-memory fake.
type Store interface {
	ListActiveMeters(ctx context.Context) ([]worker.Meter, error)
	SetMeterStatus(ctx context.Context, meterID int64, status string) error
	Heartbeat(ctx context.Context, meterID int64, at time.Time) error
	RecordAlarm(ctx context.Context, alarm Alarm) error
}

// WorkerFactory builds the collaborators a worker needs (DLMS robust
// client, publisher) for one meter. Kept as a function so the orchestrator
// does not need to know about internal/robust or internal/mqttpub
// directly.
type WorkerFactory func(meter worker.Meter) *worker.Worker

// Config parameterizes the supervision loop.
type Config struct {
	HealthCheckInterval time.Duration
	MaxRestartAttempts  int
	RestartGracePeriod  time.Duration
	AlarmWindow         time.Duration
	StopGrace           time.Duration
}

// ApplyDefaults fills zero-valued fields per spec.md §4.7.
func (c *Config) ApplyDefaults() {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 10 * time.Second
	}
	if c.MaxRestartAttempts <= 0 {
		c.MaxRestartAttempts = 3
	}
	if c.RestartGracePeriod <= 0 {
		c.RestartGracePeriod = 10 * time.Minute
	}
	if c.AlarmWindow <= 0 {
		c.AlarmWindow = 300 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
}

// runState is the run status the admin layer observes for one meter.
type runState string

const (
	stateRunning runState = "running"
	stateStopped runState = "stopped"
	stateErrored runState = "error"
)

// managedWorker is the orchestrator's bookkeeping for one meter's worker
// goroutine.
type managedWorker struct {
	meter   worker.Meter
	w       *worker.Worker
	cancel  context.CancelFunc
	done    chan error
	started time.Time

	state        runState
	restartCount int
	healthySince time.Time
}

// Orchestrator owns the worker map, the configuration-store handle, and the
// alarm-dedup state.
type Orchestrator struct {
	cfg     Config
	store   Store
	factory WorkerFactory
	alarms  *alarmThrottle
	metrics metrics.WorkerMetrics

	mu      sync.Mutex
	workers map[int64]*managedWorker

	events chan worker.Event
	stopCh chan struct{}
}

// New builds an Orchestrator bound to store and factory. m may be nil.
func New(store Store, factory WorkerFactory, cfg Config, m metrics.WorkerMetrics) *Orchestrator {
	cfg.ApplyDefaults()
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		factory: factory,
		alarms:  newAlarmThrottle(cfg.AlarmWindow),
		metrics: m,
		workers: make(map[int64]*managedWorker),
		events:  make(chan worker.Event, 64),
		stopCh:  make(chan struct{}),
	}
}

// Start reads the configuration store, enumerates active meters, and
// launches one worker per meter.
func (o *Orchestrator) Start(ctx context.Context) error {
	meters, err := o.store.ListActiveMeters(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: list active meters: %w", err)
	}
	for _, m := range meters {
		if err := o.StartMeter(ctx, m); err != nil {
			logger.Error("failed to start meter worker", "meter_id", m.ID, "error", err)
		}
	}
	go o.superviseLoop(ctx)
	return nil
}

// StartMeter launches a single worker for meter if one is not already
// running.
func (o *Orchestrator) StartMeter(ctx context.Context, meter worker.Meter) error {
	o.mu.Lock()
	if _, exists := o.workers[meter.ID]; exists {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: meter %d already running", meter.ID)
	}
	o.mu.Unlock()

	w := o.factory(meter)
	workerCtx, cancel := context.WithCancel(ctx)
	mw := &managedWorker{
		meter:        meter,
		w:            w,
		cancel:       cancel,
		done:         make(chan error, 1),
		started:      time.Now(),
		state:        stateRunning,
		healthySince: time.Now(),
	}

	o.mu.Lock()
	o.workers[meter.ID] = mw
	o.mu.Unlock()

	go o.forwardEvents(w.Events)
	go func() {
		mw.done <- w.Run(workerCtx)
	}()

	if err := o.store.SetMeterStatus(ctx, meter.ID, "active"); err != nil {
		logger.Warn("failed to persist meter status", "meter_id", meter.ID, "error", err)
	}
	o.reportActiveWorkers()
	return nil
}

func (o *Orchestrator) reportActiveWorkers() {
	o.mu.Lock()
	count := len(o.workers)
	o.mu.Unlock()
	metrics.SetActiveWorkers(o.metrics, count)
}

func (o *Orchestrator) forwardEvents(ch <-chan worker.Event) {
	for e := range ch {
		select {
		case o.events <- e:
		case <-o.stopCh:
			return
		}
	}
}

// StopMeter cancels the meter's worker context and waits up to
// cfg.StopGrace for the worker to exit. If it has not exited by then, a
// warning is logged and the worker is dropped from supervision without
// waiting further; its goroutine may still be running.
func (o *Orchestrator) StopMeter(ctx context.Context, meterID int64) error {
	o.mu.Lock()
	mw, ok := o.workers[meterID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: meter %d not running", meterID)
	}

	mw.cancel()
	select {
	case <-mw.done:
	case <-time.After(o.cfg.StopGrace):
		logger.Warn("worker stop exceeded grace period, no longer waiting", "meter_id", meterID)
	}

	o.mu.Lock()
	delete(o.workers, meterID)
	o.mu.Unlock()
	o.reportActiveWorkers()

	return o.store.SetMeterStatus(ctx, meterID, "inactive")
}

// RestartMeter stops then starts the named meter's worker.
func (o *Orchestrator) RestartMeter(ctx context.Context, meter worker.Meter) error {
	_ = o.StopMeter(ctx, meter.ID)
	return o.StartMeter(ctx, meter)
}

// Status is a point-in-time snapshot for one meter's worker.
type Status struct {
	MeterID      int64
	State        string
	Uptime       time.Duration
	RestartCount int
	Counters     worker.Counters
}

// GetStatus returns a snapshot of meterID's worker, if running.
func (o *Orchestrator) GetStatus(meterID int64) (Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	mw, ok := o.workers[meterID]
	if !ok {
		return Status{}, false
	}
	return Status{
		MeterID:      meterID,
		State:        string(mw.state),
		Uptime:       time.Since(mw.started),
		RestartCount: mw.restartCount,
		Counters:     mw.w.Counters(),
	}, true
}

// GetAllStatuses returns a snapshot of every currently tracked meter.
func (o *Orchestrator) GetAllStatuses() []Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Status, 0, len(o.workers))
	for id, mw := range o.workers {
		out = append(out, Status{
			MeterID:      id,
			State:        string(mw.state),
			Uptime:       time.Since(mw.started),
			RestartCount: mw.restartCount,
			Counters:     mw.w.Counters(),
		})
	}
	return out
}

// Stop signals every worker to stop, joins with a bounded timeout per
// worker, and closes the orchestrator's stop channel.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	ids := make([]int64, 0, len(o.workers))
	for id := range o.workers {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		if err := o.StopMeter(ctx, id); err != nil {
			logger.Warn("error stopping meter during shutdown", "meter_id", id, "error", err)
		}
	}
	close(o.stopCh)
	return nil
}

// superviseLoop runs the health-check loop at cfg.HealthCheckInterval: if a
// worker's goroutine has died, it raises a critical alarm and restarts it
// (bounded by MaxRestartAttempts) or marks the meter errored.
func (o *Orchestrator) superviseLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-o.events:
			o.handleEvent(ctx, e)
		case <-ticker.C:
			o.checkHealth(ctx)
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, e worker.Event) {
	if e.Kind != worker.EventCrashed {
		return
	}
	o.raiseAlarm(ctx, Alarm{
		MeterID:   e.MeterID,
		Severity:  "critical",
		Category:  "process",
		Message:   fmt.Sprintf("worker crashed: %v", e.Err),
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) checkHealth(ctx context.Context) {
	o.mu.Lock()
	var dead []*managedWorker
	for _, mw := range o.workers {
		select {
		case err := <-mw.done:
			mw.state = stateStopped
			dead = append(dead, mw)
			_ = err
		default:
			if time.Since(mw.healthySince) >= o.cfg.RestartGracePeriod {
				mw.restartCount = 0
				mw.healthySince = time.Now()
			}
		}
	}
	o.mu.Unlock()

	for _, mw := range dead {
		o.handleDeadWorker(ctx, mw)
	}
}

func (o *Orchestrator) handleDeadWorker(ctx context.Context, mw *managedWorker) {
	o.raiseAlarm(ctx, Alarm{
		MeterID:   mw.meter.ID,
		Severity:  "critical",
		Category:  "process",
		Message:   "worker task is no longer running",
		Timestamp: time.Now(),
	})

	o.mu.Lock()
	delete(o.workers, mw.meter.ID)
	o.mu.Unlock()

	if mw.restartCount >= o.cfg.MaxRestartAttempts {
		if err := o.store.SetMeterStatus(ctx, mw.meter.ID, "error"); err != nil {
			logger.Warn("failed to mark meter errored", "meter_id", mw.meter.ID, "error", err)
		}
		return
	}

	if err := o.StartMeter(ctx, mw.meter); err != nil {
		logger.Error("failed to restart worker", "meter_id", mw.meter.ID, "error", err)
		return
	}
	metrics.RecordWorkerRestart(o.metrics, mw.meter.ID)

	o.mu.Lock()
	if restarted, ok := o.workers[mw.meter.ID]; ok {
		restarted.restartCount = mw.restartCount + 1
	}
	o.mu.Unlock()
}

// raiseAlarm applies the (meter, category) dedup window before persisting
// the alarm; a suppressed alarm is still logged at debug level.
func (o *Orchestrator) raiseAlarm(ctx context.Context, a Alarm) {
	if !o.alarms.allow(a.MeterID, a.Category, a.Timestamp) {
		logger.Debug("alarm suppressed by dedup window", "meter_id", a.MeterID, "category", a.Category)
		return
	}
	if err := o.store.RecordAlarm(ctx, a); err != nil {
		logger.Warn("failed to record alarm", "meter_id", a.MeterID, "error", err)
	}
}
