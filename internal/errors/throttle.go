package errors

import (
	"sync"
	"time"
)

// DefaultThrottleCooldown is how long repeated occurrences of the same error
// code are suppressed after one has been surfaced.
const DefaultThrottleCooldown = 60 * time.Second

// Throttle rate-limits user-visible reporting of repeated errors.
// The first occurrence of an error code passes through; further occurrences
// of the same code are suppressed until the cooldown window elapses.
// Suppression is per code, so distinct failure classes still surface.
type Throttle struct {
	cooldown time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time

	// now is replaceable for tests.
	now func() time.Time
}

// NewThrottle creates a throttle with the given cooldown window.
// A zero or negative cooldown uses DefaultThrottleCooldown.
func NewThrottle(cooldown time.Duration) *Throttle {
	if cooldown <= 0 {
		cooldown = DefaultThrottleCooldown
	}
	return &Throttle{
		cooldown: cooldown,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether an error with the given code should be surfaced now.
// The first call for a code always returns true and starts its cooldown.
func (t *Throttle) Allow(code string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.lastSeen[code]; ok && now.Sub(last) < t.cooldown {
		return false
	}

	t.lastSeen[code] = now
	return true
}

// AllowError is a convenience that keys on the NoteError code, or on the
// plain error string for untyped errors.
func (t *Throttle) AllowError(err error) bool {
	if err == nil {
		return false
	}
	code := GetCode(err)
	if code == "" {
		code = err.Error()
	}
	return t.Allow(code)
}

// Reset clears all cooldown state.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen = make(map[string]time.Time)
}
