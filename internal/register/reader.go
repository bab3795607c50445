// Package register wraps a DLMS session client with a scaler/unit cache so
// repeated polls of the same COSEM Register only fetch the value attribute.
package register

import (
	"context"
	"fmt"
	"sync"

	"github.com/dlmsbridge/bridge/internal/dlms"
	"github.com/dlmsbridge/bridge/internal/logger"
	"github.com/dlmsbridge/bridge/internal/obis"
)

// Client is the subset of *dlms.Client the reader needs, kept as an
// interface so the robust wrapper and tests can substitute a fake session.
type Client interface {
	GetRegister(ctx context.Context, code obis.Code, attr byte) (dlms.Value, error)
}

const (
	attrValue      byte = 2
	attrScalerUnit byte = 3
)

// scalerUnit is the cached (scaler, unit) pair for one OBIS code.
type scalerUnit struct {
	scaler int
	unit   int
}

// Reading is the result of a register read: the raw register value, the
// value scaled by 10^scaler, and the unit code.
type Reading struct {
	Raw    int64
	Scaled float64
	Unit   int
}

// Stats is a point-in-time snapshot of cache effectiveness for operator
// dashboards.
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
}

// HitRate returns hits/(hits+misses), or 0 when nothing has been read yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Reader amortizes scaler/unit reads across polls of the same OBIS code.
type Reader struct {
	client Client

	mu     sync.Mutex
	cache  map[obis.Code]scalerUnit
	hits   uint64
	misses uint64
}

// New wraps client with an empty scaler cache.
func New(client Client) *Reader {
	return &Reader{
		client: client,
		cache:  make(map[obis.Code]scalerUnit),
	}
}

// WarmupCache performs a full read (value + scaler) for each code, caching
// the scaler/unit pair on success. Failures are logged and do not abort the
// warmup of the remaining codes.
func (r *Reader) WarmupCache(ctx context.Context, codes []obis.Code) {
	for _, code := range codes {
		if _, err := r.fullRead(ctx, code); err != nil {
			logger.Warn("register warmup failed", "obis", code.Short(), "error", err)
		}
	}
}

// ReadOptimized reads code's value, using the cached scaler/unit when
// available so only the value attribute is fetched. On a cache miss it
// performs a full read and populates the cache.
func (r *Reader) ReadOptimized(ctx context.Context, code obis.Code) (Reading, error) {
	r.mu.Lock()
	su, ok := r.cache[code]
	r.mu.Unlock()

	if !ok {
		r.mu.Lock()
		r.misses++
		r.mu.Unlock()
		return r.fullRead(ctx, code)
	}

	r.mu.Lock()
	r.hits++
	r.mu.Unlock()

	v, err := r.client.GetRegister(ctx, code, attrValue)
	if err != nil {
		// A read failure does not evict the cached entry; the next
		// successful full read (after a reconnect) refreshes it.
		return Reading{}, err
	}

	raw, err := numeric(v)
	if err != nil {
		return Reading{}, err
	}

	return Reading{
		Raw:    raw,
		Scaled: scale(raw, su.scaler),
		Unit:   su.unit,
	}, nil
}

// fullRead fetches both the value and the scaler/unit structure, caching
// the latter on success.
func (r *Reader) fullRead(ctx context.Context, code obis.Code) (Reading, error) {
	suVal, err := r.client.GetRegister(ctx, code, attrScalerUnit)
	if err != nil {
		return Reading{}, fmt.Errorf("register: scaler/unit read %s: %w", code.Short(), err)
	}
	scaler, unit, err := scalerUnitFromStructure(suVal)
	if err != nil {
		return Reading{}, fmt.Errorf("register: scaler/unit decode %s: %w", code.Short(), err)
	}

	v, err := r.client.GetRegister(ctx, code, attrValue)
	if err != nil {
		return Reading{}, fmt.Errorf("register: value read %s: %w", code.Short(), err)
	}
	raw, err := numeric(v)
	if err != nil {
		return Reading{}, err
	}

	r.mu.Lock()
	r.cache[code] = scalerUnit{scaler: scaler, unit: unit}
	r.mu.Unlock()

	return Reading{
		Raw:    raw,
		Scaled: scale(raw, scaler),
		Unit:   unit,
	}, nil
}

// ClearCache drops all cached entries and resets hit/miss counters. Called
// whenever the underlying DLMS session is re-established, since a new
// association invalidates no data here but the robust wrapper uses this to
// force a fresh warmup.
func (r *Reader) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[obis.Code]scalerUnit)
	r.hits = 0
	r.misses = 0
}

// Stats returns cache size, hits, and misses.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Size: len(r.cache), Hits: r.hits, Misses: r.misses}
}

func scalerUnitFromStructure(v dlms.Value) (scaler, unit int, err error) {
	if v.Kind != dlms.KindStructure || len(v.Items) != 2 {
		return 0, 0, dlms.ErrUnexpectedStruct
	}
	if v.Items[0].Kind != dlms.KindInteger || v.Items[1].Kind != dlms.KindInteger {
		return 0, 0, dlms.ErrNotNumeric
	}
	return int(v.Items[0].Number), int(v.Items[1].Number), nil
}

func numeric(v dlms.Value) (int64, error) {
	if v.Kind != dlms.KindInteger {
		return 0, dlms.ErrNotNumeric
	}
	return v.Number, nil
}

// scale applies raw * 10^scaler with scaler in [-9, 9], computed through
// integer powers of ten so the result is exact for the integer ranges the
// register profile uses before the final float64 conversion at the publish
// boundary.
func scale(raw int64, scalerExp int) float64 {
	if scalerExp == 0 {
		return float64(raw)
	}
	if scalerExp > 0 {
		return float64(raw) * pow10(scalerExp)
	}
	return float64(raw) / pow10(-scalerExp)
}

func pow10(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 10
	}
	return result
}
