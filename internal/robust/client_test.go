package robust

import (
	"context"
	"testing"
	"time"

	"github.com/dlmsbridge/bridge/internal/dlms"
	"github.com/dlmsbridge/bridge/internal/obis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	connectCalls int
	failConnects int
	forceClosed  int

	getErr   error
	getValue int64
}

func (f *fakeSession) Connect(ctx context.Context) error {
	f.connectCalls++
	if f.connectCalls <= f.failConnects {
		return assertErr
	}
	return nil
}

func (f *fakeSession) Disconnect(ctx context.Context) error { return nil }
func (f *fakeSession) ForceClose() error                    { f.forceClosed++; return nil }

func (f *fakeSession) GetRegister(ctx context.Context, code obis.Code, attr byte) (dlms.Value, error) {
	if f.getErr != nil {
		err := f.getErr
		f.getErr = nil
		return dlms.Value{}, err
	}
	if attr == 3 {
		return dlms.Value{Kind: dlms.KindStructure, Items: []dlms.Value{
			{Kind: dlms.KindInteger, Number: 0},
			{Kind: dlms.KindInteger, Number: 35},
		}}, nil
	}
	return dlms.Value{Kind: dlms.KindInteger, Number: f.getValue}, nil
}

var assertErr = dlms.ErrConnectionClosed

var obisCode = obis.MustParse("1-1:32.7.0*255")

func TestConnectSucceedsWithinRetryBudget(t *testing.T) {
	fs := &fakeSession{failConnects: 1}
	c := New(fs, Config{MaxAttempts: 3, BaseDelay: time.Millisecond, SettlePause: time.Millisecond})

	err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 2, fs.connectCalls)
	assert.Equal(t, 1, fs.forceClosed)
}

func TestConnectExhaustsAttempts(t *testing.T) {
	fs := &fakeSession{failConnects: 10}
	c := New(fs, Config{MaxAttempts: 3, BaseDelay: time.Millisecond, SettlePause: time.Millisecond})

	err := c.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateError, c.State())
	assert.Equal(t, 3, fs.connectCalls)
}

func TestReadRegisterRetriesOnceOnTransientError(t *testing.T) {
	fs := &fakeSession{getValue: 1504, getErr: dlms.ErrTimeout}
	c := New(fs, Config{MaxAttempts: 3, BaseDelay: time.Millisecond, SettlePause: time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))

	reading, err := c.ReadRegister(context.Background(), obisCode, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(1504), reading.Scaled)
	assert.True(t, fs.forceClosed >= 2, "reconnect must force-close the prior session")
}
