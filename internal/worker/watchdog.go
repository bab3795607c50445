package worker

import "time"

// WatchdogConfig holds the thresholds from spec.md §4.5, all configurable
// with the defaults shown there.
type WatchdogConfig struct {
	MaxConsecutiveHDLCErrors  int
	MaxConsecutiveReadFailures int
	MaxSilence                time.Duration
	ConnectionMaxAge           time.Duration
}

// ApplyDefaults fills zero-valued fields with spec.md's defaults.
func (c *WatchdogConfig) ApplyDefaults() {
	if c.MaxConsecutiveHDLCErrors <= 0 {
		c.MaxConsecutiveHDLCErrors = 15
	}
	if c.MaxConsecutiveReadFailures <= 0 {
		c.MaxConsecutiveReadFailures = 10
	}
	if c.MaxSilence <= 0 {
		c.MaxSilence = 10 * time.Minute
	}
	if c.ConnectionMaxAge <= 0 {
		c.ConnectionMaxAge = 30 * time.Minute
	}
}

// watchdog tracks the per-worker counters that decide when a reconnect is
// forced independently of the circuit breaker.
type watchdog struct {
	cfg WatchdogConfig

	consecutiveHDLCErrors  int
	consecutiveReadFailures int
	lastSuccess            time.Time
	connectionEstablished  time.Time
}

func newWatchdog(cfg WatchdogConfig, now time.Time) *watchdog {
	cfg.ApplyDefaults()
	return &watchdog{cfg: cfg, lastSuccess: now, connectionEstablished: now}
}

// onCycleSuccess resets the error counters and the silence clock.
func (w *watchdog) onCycleSuccess(now time.Time) {
	w.consecutiveHDLCErrors = 0
	w.consecutiveReadFailures = 0
	w.lastSuccess = now
}

// onHDLCError records one HDLC-classified error.
func (w *watchdog) onHDLCError() {
	w.consecutiveHDLCErrors++
}

// onCycleFailure records a cycle that returned no valid readings.
func (w *watchdog) onCycleFailure() {
	w.consecutiveReadFailures++
}

// onReconnect stamps the new connection's establishment time.
func (w *watchdog) onReconnect(now time.Time) {
	w.connectionEstablished = now
	w.consecutiveHDLCErrors = 0
	w.consecutiveReadFailures = 0
	w.lastSuccess = now
}

// reason enumerates why ShouldForceReconnect returned true.
type reason int

const (
	reasonNone reason = iota
	reasonHDLCErrors
	reasonReadFailures
	reasonSilence
	reasonConnectionAge
)

// shouldForceReconnect evaluates the watchdog thresholds against now,
// returning the first triggered reason (checked in the order the spec lists
// them: HDLC errors, read failures, silence, connection age).
func (w *watchdog) shouldForceReconnect(now time.Time) reason {
	if w.consecutiveHDLCErrors >= w.cfg.MaxConsecutiveHDLCErrors {
		return reasonHDLCErrors
	}
	if w.consecutiveReadFailures >= w.cfg.MaxConsecutiveReadFailures {
		return reasonReadFailures
	}
	if now.Sub(w.lastSuccess) >= w.cfg.MaxSilence {
		return reasonSilence
	}
	if now.Sub(w.connectionEstablished) >= w.cfg.ConnectionMaxAge {
		return reasonConnectionAge
	}
	return reasonNone
}

func (r reason) String() string {
	switch r {
	case reasonHDLCErrors:
		return "hdlc_errors"
	case reasonReadFailures:
		return "read_failures"
	case reasonSilence:
		return "silence"
	case reasonConnectionAge:
		return "connection_age"
	default:
		return "none"
	}
}
