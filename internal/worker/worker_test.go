package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dlmsbridge/bridge/internal/dlms"
	"github.com/dlmsbridge/bridge/internal/obis"
	"github.com/dlmsbridge/bridge/internal/register"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDLMS is a minimal DLMSClient that returns a fixed reading (or error)
// per OBIS code, letting tests drive worker.runCycle without a real socket.
type fakeDLMS struct {
	mu       sync.Mutex
	readings map[string]register.Reading
	errs     map[string]error
	connects int
}

func newFakeDLMS() *fakeDLMS {
	return &fakeDLMS{readings: map[string]register.Reading{}, errs: map[string]error{}}
}

func (f *fakeDLMS) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
	return nil
}
func (f *fakeDLMS) Disconnect(ctx context.Context) error { return nil }

func (f *fakeDLMS) ReadRegister(ctx context.Context, code obis.Code, retries int) (register.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := code.Short()
	if err, ok := f.errs[key]; ok {
		return register.Reading{}, err
	}
	return f.readings[key], nil
}

func (f *fakeDLMS) Reader() *register.Reader {
	return register.New(noopRegisterClient{})
}

type noopRegisterClient struct{}

func (noopRegisterClient) GetRegister(ctx context.Context, code obis.Code, attr byte) (dlms.Value, error) {
	return dlms.Value{Kind: dlms.KindInteger, Number: 0}, nil
}

// fakePublisher records every telemetry publish handed to it.
type fakePublisher struct {
	mu        sync.Mutex
	published []map[string]float64
	connected bool
}

func (f *fakePublisher) Connect() error { f.connected = true; return nil }
func (f *fakePublisher) Disconnect()    { f.connected = false }
func (f *fakePublisher) IsConnected() bool { return f.connected }
func (f *fakePublisher) PublishTelemetry(values map[string]float64, ts int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, values)
	return true
}

var voltageOBIS = obis.MustParse("1-1:32.7.0*255")

func newTestWorker(dlmsClient *fakeDLMS, pub *fakePublisher, cfg Config) *Worker {
	meter := Meter{
		ID:   1,
		Name: "test-meter",
		Measurements: []Measurement{
			{Key: "voltage_l1", OBIS: voltageOBIS},
		},
		Interval: time.Hour, // ticker not exercised directly in these tests
	}
	return New(meter, dlmsClient, pub, cfg, nil, nil)
}

func TestRunCycleHappyPollPublishesAndCountsSuccess(t *testing.T) {
	dlmsClient := newFakeDLMS()
	dlmsClient.readings[voltageOBIS.Short()] = register.Reading{Scaled: 150.4, Unit: 35}
	pub := &fakePublisher{connected: true}

	w := newTestWorker(dlmsClient, pub, Config{})
	w.runCycle(context.Background())

	counters := w.Counters()
	assert.Equal(t, uint64(1), counters.TotalCycles)
	assert.Equal(t, uint64(1), counters.SuccessfulCycles)
	assert.Equal(t, uint64(1), counters.MessagesSent)
	require.Len(t, pub.published, 1)
	assert.Equal(t, 150.4, pub.published[0]["voltage_l1"])
}

func TestHeartbeatCycleAlsoWritesMetricsSnapshot(t *testing.T) {
	dlmsClient := newFakeDLMS()
	dlmsClient.readings[voltageOBIS.Short()] = register.Reading{Scaled: 150.4, Unit: 35}
	pub := &fakePublisher{connected: true}

	var gotMeterID int64
	var gotMetric Metric
	metricCalls := 0
	sink := func(ctx context.Context, meterID int64, m Metric) error {
		metricCalls++
		gotMeterID = meterID
		gotMetric = m
		return nil
	}

	cfg := Config{HeartbeatCycles: 1}
	cfg.ApplyDefaults()
	meter := Meter{ID: 7, Measurements: []Measurement{{Key: "voltage_l1", OBIS: voltageOBIS}}, Interval: time.Hour}
	w := NewWithMetricsSink(meter, dlmsClient, pub, cfg, nil, sink, nil)
	w.runCycle(context.Background())

	assert.Equal(t, 1, metricCalls)
	assert.Equal(t, int64(7), gotMeterID)
	assert.Equal(t, uint64(1), gotMetric.MessagesSent)
	assert.Equal(t, 100.0, gotMetric.SuccessRate)
}

func TestRunCycleSequenceMismatchIncrementsHDLCCounter(t *testing.T) {
	dlmsClient := newFakeDLMS()
	dlmsClient.errs[voltageOBIS.Short()] = dlms.ErrSequenceMismatch
	pub := &fakePublisher{connected: true}

	cfg := Config{}
	cfg.ApplyDefaults()
	w := newTestWorker(dlmsClient, pub, cfg)
	w.runCycle(context.Background())

	assert.Equal(t, 1, w.watchdog.consecutiveHDLCErrors)
	// threshold is 15 by default, so the HDLC counter alone does not force a
	// reconnect; the one connect seen here is the reconnect that every fully
	// failed cycle makes (the only measurement failed).
	assert.Equal(t, 1, dlmsClient.connects)
}

func TestRunCycleFullFailureForcesReconnect(t *testing.T) {
	dlmsClient := newFakeDLMS()
	dlmsClient.errs[voltageOBIS.Short()] = errors.New("register unreachable")
	pub := &fakePublisher{connected: true}

	cfg := Config{ReconnectSettle: time.Millisecond}
	w := newTestWorker(dlmsClient, pub, cfg)
	w.runCycle(context.Background())

	assert.Equal(t, uint64(1), w.Counters().FailedCycles)
	assert.Equal(t, 1, dlmsClient.connects, "a fully failed cycle forces one reconnect attempt")
}

func TestCircuitBreakerOpensAfterEleventhReconnect(t *testing.T) {
	dlmsClient := newFakeDLMS()
	pub := &fakePublisher{connected: true}
	cfg := Config{ReconnectSettle: time.Millisecond}
	cfg.Breaker.MaxReconnectsPerHour = 10
	w := newTestWorker(dlmsClient, pub, cfg)

	base := time.Now()
	allowed := 0
	for i := 0; i < 12; i++ {
		if w.breaker.allow(base.Add(time.Duration(i) * time.Second)) {
			allowed++
		}
	}
	assert.Equal(t, 11, allowed, "the 11th reconnect is the trigger that opens the breaker")
	assert.True(t, w.breaker.isOpen(base.Add(12*time.Second)))
}

func TestWatchdogSilenceTriggersReconnect(t *testing.T) {
	wd := newWatchdog(WatchdogConfig{MaxSilence: 10 * time.Minute}, time.Now().Add(-11*time.Minute))
	assert.Equal(t, reasonSilence, wd.shouldForceReconnect(time.Now()))
}

func TestWatchdogConnectionAgeTriggersReconnect(t *testing.T) {
	wd := newWatchdog(WatchdogConfig{ConnectionMaxAge: 30 * time.Minute}, time.Now())
	wd.lastSuccess = time.Now() // silence not the trigger here
	wd.connectionEstablished = time.Now().Add(-31 * time.Minute)
	assert.Equal(t, reasonConnectionAge, wd.shouldForceReconnect(time.Now()))
}
