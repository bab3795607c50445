package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context, threaded from the
// orchestrator down through a worker's DLMS/MQTT calls so every log line
// emitted for a meter carries its identity without being re-specified at
// every call site.
type LogContext struct {
	TraceID   string // OpenTelemetry trace ID
	SpanID    string // OpenTelemetry span ID
	MeterID   int64  // Configured meter ID
	MeterName string // Configured meter display name
	Cycle     uint64 // Current poll cycle sequence number
	StartTime time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for the given meter.
func NewLogContext(meterID int64, meterName string) *LogContext {
	return &LogContext{
		MeterID:   meterID,
		MeterName: meterName,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:   lc.TraceID,
		SpanID:    lc.SpanID,
		MeterID:   lc.MeterID,
		MeterName: lc.MeterName,
		Cycle:     lc.Cycle,
		StartTime: lc.StartTime,
	}
}

// WithCycle returns a copy with the cycle sequence number set
func (lc *LogContext) WithCycle(cycle uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Cycle = cycle
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
