package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Meter identity
	// ========================================================================
	KeyMeterID   = "meter_id"   // Configured meter identity (integer ID)
	KeyMeterName = "meter_name" // Configured meter display name
	KeyHost      = "host"       // Meter TCP host
	KeyPort      = "port"       // Meter TCP port

	// ========================================================================
	// DLMS / HDLC protocol
	// ========================================================================
	KeyOBIS       = "obis"        // OBIS code (canonical string form)
	KeyMeasurement = "measurement" // Measurement key (voltage_l1, ...)
	KeyNS         = "ns"          // HDLC send sequence number
	KeyNR         = "nr"          // HDLC receive sequence number
	KeyInvokeID   = "invoke_id"   // DLMS invoke-ID
	KeyFrameKind  = "frame_kind"  // I / S / U frame classification
	KeyScaler     = "scaler"      // Register scaler exponent
	KeyUnitCode   = "unit_code"   // Register unit code

	// ========================================================================
	// Worker lifecycle & recovery
	// ========================================================================
	KeyCycle           = "cycle"             // Poll cycle sequence number
	KeyState           = "state"             // Connection state machine state
	KeyCategory        = "category"          // Diagnostic category (hdlc, connection, ...)
	KeySeverity        = "severity"          // Diagnostic severity
	KeyConsecutive     = "consecutive"       // Consecutive error counter value
	KeyThreshold       = "threshold"         // Configured threshold the counter is compared to
	KeyReconnectCount  = "reconnect_count"   // Reconnects observed in the breaker window
	KeyConnectionAgeS  = "connection_age_s"  // Age of the current DLMS session in seconds
	KeySilenceMinutes  = "silence_minutes"   // Minutes since the last successful cycle

	// ========================================================================
	// MQTT publisher
	// ========================================================================
	KeyTopic       = "topic"        // MQTT topic
	KeyQoS         = "qos"          // MQTT QoS level
	KeyBufferDepth = "buffer_depth" // Offline buffer depth
	KeyBufferCap   = "buffer_cap"   // Offline buffer capacity

	// ========================================================================
	// Generic operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }
func SpanID(id string) slog.Attr  { return slog.String(KeySpanID, id) }

func MeterID(id int64) slog.Attr     { return slog.Int64(KeyMeterID, id) }
func MeterName(name string) slog.Attr { return slog.String(KeyMeterName, name) }
func Host(h string) slog.Attr        { return slog.String(KeyHost, h) }
func Port(p int) slog.Attr           { return slog.Int(KeyPort, p) }

func OBIS(code string) slog.Attr        { return slog.String(KeyOBIS, code) }
func Measurement(key string) slog.Attr  { return slog.String(KeyMeasurement, key) }
func NS(n int) slog.Attr                { return slog.Int(KeyNS, n) }
func NR(n int) slog.Attr                { return slog.Int(KeyNR, n) }
func InvokeID(id byte) slog.Attr        { return slog.Int(KeyInvokeID, int(id)) }
func FrameKind(kind string) slog.Attr   { return slog.String(KeyFrameKind, kind) }
func Scaler(s int) slog.Attr            { return slog.Int(KeyScaler, s) }
func UnitCode(u int) slog.Attr          { return slog.Int(KeyUnitCode, u) }

func Cycle(n uint64) slog.Attr           { return slog.Uint64(KeyCycle, n) }
func State(s string) slog.Attr           { return slog.String(KeyState, s) }
func Category(c string) slog.Attr        { return slog.String(KeyCategory, c) }
func Severity(s string) slog.Attr        { return slog.String(KeySeverity, s) }
func Consecutive(n int) slog.Attr        { return slog.Int(KeyConsecutive, n) }
func Threshold(n int) slog.Attr          { return slog.Int(KeyThreshold, n) }
func ReconnectCount(n int) slog.Attr     { return slog.Int(KeyReconnectCount, n) }
func ConnectionAgeSeconds(s float64) slog.Attr { return slog.Float64(KeyConnectionAgeS, s) }
func SilenceMinutes(m float64) slog.Attr { return slog.Float64(KeySilenceMinutes, m) }

func Topic(t string) slog.Attr       { return slog.String(KeyTopic, t) }
func QoS(q byte) slog.Attr           { return slog.Int(KeyQoS, int(q)) }
func BufferDepth(n int) slog.Attr    { return slog.Int(KeyBufferDepth, n) }
func BufferCapacity(n int) slog.Attr { return slog.Int(KeyBufferCap, n) }

func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

func Attempt(n int) slog.Attr    { return slog.Int(KeyAttempt, n) }
func MaxRetries(n int) slog.Attr { return slog.Int(KeyMaxRetries, n) }
