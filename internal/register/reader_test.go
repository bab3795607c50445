package register

import (
	"context"
	"errors"
	"testing"

	"github.com/dlmsbridge/bridge/internal/dlms"
	"github.com/dlmsbridge/bridge/internal/obis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	calls       int
	valueCalls  int
	scalerCalls int
	value       int64
	scaler      int
	unit        int
	err         error
}

func (f *fakeClient) GetRegister(ctx context.Context, code obis.Code, attr byte) (dlms.Value, error) {
	f.calls++
	if f.err != nil {
		return dlms.Value{}, f.err
	}
	if attr == 2 {
		f.valueCalls++
		return dlms.Value{Kind: dlms.KindInteger, Number: f.value}, nil
	}
	f.scalerCalls++
	return dlms.Value{
		Kind: dlms.KindStructure,
		Items: []dlms.Value{
			{Kind: dlms.KindInteger, Number: int64(f.scaler)},
			{Kind: dlms.KindInteger, Number: int64(f.unit)},
		},
	}, nil
}

var voltageOBIS = obis.MustParse("1-1:32.7.0*255")

func TestReadOptimizedCacheMiss(t *testing.T) {
	fc := &fakeClient{value: 1504, scaler: -1, unit: 35}
	r := New(fc)

	reading, err := r.ReadOptimized(context.Background(), voltageOBIS)
	require.NoError(t, err)
	assert.Equal(t, 150.4, reading.Scaled)
	assert.Equal(t, 35, reading.Unit)
	assert.Equal(t, 1, fc.scalerCalls)
	assert.Equal(t, 1, fc.valueCalls)

	stats := r.Stats()
	assert.Equal(t, uint64(0), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestReadOptimizedCacheHitSkipsScalerFetch(t *testing.T) {
	fc := &fakeClient{value: 1504, scaler: -1, unit: 35}
	r := New(fc)

	_, err := r.ReadOptimized(context.Background(), voltageOBIS)
	require.NoError(t, err)

	reading, err := r.ReadOptimized(context.Background(), voltageOBIS)
	require.NoError(t, err)
	assert.Equal(t, 150.4, reading.Scaled)
	assert.Equal(t, 1, fc.scalerCalls, "second read must not re-fetch scaler/unit")
	assert.Equal(t, 2, fc.valueCalls)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestWarmupCacheThenReadOptimizedMatchesFullRead(t *testing.T) {
	fc := &fakeClient{value: 2000, scaler: -2, unit: 33}
	r := New(fc)

	r.WarmupCache(context.Background(), []obis.Code{voltageOBIS})
	reading, err := r.ReadOptimized(context.Background(), voltageOBIS)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, reading.Scaled, 1e-9)
}

func TestFailedReadDoesNotEvictCache(t *testing.T) {
	fc := &fakeClient{value: 100, scaler: 0, unit: 1}
	r := New(fc)

	_, err := r.ReadOptimized(context.Background(), voltageOBIS)
	require.NoError(t, err)

	fc.err = errors.New("boom")
	_, err = r.ReadOptimized(context.Background(), voltageOBIS)
	assert.Error(t, err)

	fc.err = nil
	reading, err := r.ReadOptimized(context.Background(), voltageOBIS)
	require.NoError(t, err)
	assert.Equal(t, float64(100), reading.Scaled)
	assert.Equal(t, 1, fc.scalerCalls, "cached scaler must still be used after a failed read")
}

func TestClearCacheResetsStats(t *testing.T) {
	fc := &fakeClient{value: 100, scaler: 0, unit: 1}
	r := New(fc)

	_, err := r.ReadOptimized(context.Background(), voltageOBIS)
	require.NoError(t, err)

	r.ClearCache()
	stats := r.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, uint64(0), stats.Hits)
	assert.Equal(t, uint64(0), stats.Misses)
}
