package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dlmsbridge/bridge/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	meters   []worker.Meter
	statuses map[int64]string
	alarms   []Alarm
}

func newFakeStore(meters ...worker.Meter) *fakeStore {
	return &fakeStore{meters: meters, statuses: map[int64]string{}}
}

func (s *fakeStore) ListActiveMeters(ctx context.Context) ([]worker.Meter, error) {
	return s.meters, nil
}
func (s *fakeStore) SetMeterStatus(ctx context.Context, meterID int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[meterID] = status
	return nil
}
func (s *fakeStore) Heartbeat(ctx context.Context, meterID int64, at time.Time) error { return nil }
func (s *fakeStore) RecordAlarm(ctx context.Context, a Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms = append(s.alarms, a)
	return nil
}

type fakePublisher struct{}

func (fakePublisher) Connect() error    { return nil }
func (fakePublisher) Disconnect()       {}
func (fakePublisher) IsConnected() bool { return true }
func (fakePublisher) PublishTelemetry(values map[string]float64, ts int64) bool { return true }

func testFactory() WorkerFactory {
	return func(m worker.Meter) *worker.Worker {
		return worker.New(m, nil, fakePublisher{}, worker.Config{}, nil, nil)
	}
}

var testMeter = worker.Meter{ID: 1, Name: "m1", Interval: time.Hour}

func TestStartMeterRejectsDuplicate(t *testing.T) {
	store := newFakeStore(testMeter)
	o := New(store, testFactory(), Config{}, nil)

	// Use a nil-safe factory: Worker.Run would block on nil DLMS, so instead
	// test the duplicate-start guard directly against the bookkeeping map.
	o.mu.Lock()
	o.workers[testMeter.ID] = &managedWorker{meter: testMeter, done: make(chan error, 1)}
	o.mu.Unlock()

	err := o.StartMeter(context.Background(), testMeter)
	assert.Error(t, err)
}

func TestAlarmThrottleSuppressesWithinWindow(t *testing.T) {
	th := newAlarmThrottle(300 * time.Second)
	base := time.Now()

	assert.True(t, th.allow(1, "hdlc", base))
	assert.False(t, th.allow(1, "hdlc", base.Add(10*time.Second)))
	assert.True(t, th.allow(1, "hdlc", base.Add(301*time.Second)))
	assert.True(t, th.allow(1, "connection", base), "different category is not suppressed")
	assert.True(t, th.allow(2, "hdlc", base), "different meter is not suppressed")
}

func TestGetStatusReflectsRunningWorker(t *testing.T) {
	store := newFakeStore()
	o := New(store, testFactory(), Config{}, nil)

	w := worker.New(testMeter, nil, fakePublisher{}, worker.Config{}, nil, nil)
	o.mu.Lock()
	o.workers[testMeter.ID] = &managedWorker{
		meter:   testMeter,
		w:       w,
		started: time.Now().Add(-time.Minute),
		state:   stateRunning,
		done:    make(chan error, 1),
	}
	o.mu.Unlock()

	status, ok := o.GetStatus(testMeter.ID)
	require.True(t, ok)
	assert.Equal(t, "running", status.State)
	assert.GreaterOrEqual(t, status.Uptime, time.Minute-time.Second)
}

func TestHandleDeadWorkerMarksErroredAfterMaxRestarts(t *testing.T) {
	store := newFakeStore(testMeter)
	cfg := Config{MaxRestartAttempts: 1}
	o := New(store, testFactory(), cfg, nil)

	w := worker.New(testMeter, nil, fakePublisher{}, worker.Config{}, nil, nil)
	mw := &managedWorker{meter: testMeter, w: w, restartCount: 1, done: make(chan error, 1)}
	o.mu.Lock()
	o.workers[testMeter.ID] = mw
	o.mu.Unlock()

	o.handleDeadWorker(context.Background(), mw)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, "error", store.statuses[testMeter.ID])
	assert.Len(t, store.alarms, 1)
	assert.Equal(t, "process", store.alarms[0].Category)
}
