package orchestrator

import (
	"sync"
	"time"
)

// alarmKey identifies an alarm stream for dedup purposes: identical
// (meter, category) pairs are suppressed within a window (spec.md §4.7).
type alarmKey struct {
	meterID  int64
	category string
}

// alarmThrottle suppresses repeated (meter, category) alarms within a
// configurable window. Ownership lives in the orchestrator, not the
// workers, so a restarted worker cannot bypass suppression (spec.md §9).
type alarmThrottle struct {
	mu     sync.Mutex
	window time.Duration
	last   map[alarmKey]time.Time
}

func newAlarmThrottle(window time.Duration) *alarmThrottle {
	if window <= 0 {
		window = 300 * time.Second
	}
	return &alarmThrottle{window: window, last: make(map[alarmKey]time.Time)}
}

// allow reports whether an alarm for (meterID, category) at now should be
// raised. A suppressed alarm still updates nothing; callers are expected to
// log it at debug level themselves.
func (a *alarmThrottle) allow(meterID int64, category string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := alarmKey{meterID: meterID, category: category}
	if last, ok := a.last[key]; ok && now.Sub(last) < a.window {
		return false
	}
	a.last[key] = now
	return true
}
