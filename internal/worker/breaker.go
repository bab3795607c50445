package worker

import "time"

// BreakerConfig parameterizes the reconnect-storm circuit breaker from
// spec.md §4.5.
type BreakerConfig struct {
	MaxReconnectsPerHour int
	PauseDuration        time.Duration
}

// ApplyDefaults fills zero-valued fields with spec.md's defaults.
func (c *BreakerConfig) ApplyDefaults() {
	if c.MaxReconnectsPerHour <= 0 {
		c.MaxReconnectsPerHour = 10
	}
	if c.PauseDuration <= 0 {
		c.PauseDuration = 5 * time.Minute
	}
}

// breakerState is the circuit breaker's own two-state machine, independent
// of the robust client's connection state machine.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
)

// breaker maintains a sliding window of reconnect timestamps over the last
// hour and opens when reconnects in that window reach the configured
// threshold.
type breaker struct {
	cfg       BreakerConfig
	state     breakerState
	openUntil time.Time
	history   []time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	cfg.ApplyDefaults()
	return &breaker{cfg: cfg, state: breakerClosed}
}

const slidingWindow = time.Hour

// prune drops history entries older than the sliding window, clearing it
// entirely and closing the breaker once every entry has aged out.
func (b *breaker) prune(now time.Time) {
	cutoff := now.Add(-slidingWindow)
	kept := b.history[:0]
	for _, t := range b.history {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.history = kept

	if len(b.history) == 0 && b.state == breakerOpen && now.After(b.openUntil) {
		b.state = breakerClosed
	}
}

// allow reports whether a reconnect may proceed right now. A reconnect is
// always allowed while the breaker is closed, including the one that
// crosses the threshold — spec.md §8 calls that one "the trigger that
// opens the breaker" — so a worker never performs more than
// MaxReconnectsPerHour+1 reconnects in the window before the breaker denies
// the next one.
func (b *breaker) allow(now time.Time) bool {
	b.prune(now)

	if b.state == breakerOpen {
		if now.Before(b.openUntil) {
			return false
		}
		b.state = breakerClosed
		b.history = nil
	}

	b.history = append(b.history, now)
	if len(b.history) > b.cfg.MaxReconnectsPerHour {
		b.state = breakerOpen
		b.openUntil = now.Add(b.cfg.PauseDuration)
	}
	return true
}

// isOpen reports the breaker's current state without recording an attempt.
func (b *breaker) isOpen(now time.Time) bool {
	b.prune(now)
	return b.state == breakerOpen
}
