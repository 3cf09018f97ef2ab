// Package cooldown enforces a minimum interval between verification-code
// sends for the same phone number.
package cooldown

import (
	"sync"
	"time"
)

// Tracker is an in-process per-phone cooldown. Reservation is a single
// check-and-set under the lock, so two concurrent sends for one phone
// number cannot both pass.
//
// A reservation is taken before the provider call is dispatched and is NOT
// rolled back on dispatch failure: a failing provider should not be hammered
// by immediate retries.
type Tracker struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
	window   time.Duration
	now      func() time.Time
}

// New creates a Tracker with the given cooldown window.
func New(window time.Duration) *Tracker {
	t := &Tracker{
		lastSent: make(map[string]time.Time),
		window:   window,
		now:      time.Now,
	}
	go t.cleanup()
	return t
}

// TryReserve reserves a send slot for the phone number. When the previous
// send is still within the cooldown window it returns false and the time
// remaining until the next allowed send.
func (t *Tracker) TryReserve(phone string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.lastSent[phone]; ok {
		if elapsed := now.Sub(last); elapsed < t.window {
			return false, t.window - elapsed
		}
	}
	t.lastSent[phone] = now
	return true, 0
}

// Remaining reports the time left in the cooldown window for the phone
// number without reserving anything.
func (t *Tracker) Remaining(phone string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.lastSent[phone]
	if !ok {
		return 0
	}
	if elapsed := t.now().Sub(last); elapsed < t.window {
		return t.window - elapsed
	}
	return 0
}

// cleanup periodically drops expired entries to prevent unbounded growth
func (t *Tracker) cleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		t.mu.Lock()
		cutoff := t.now().Add(-2 * t.window)
		for phone, last := range t.lastSent {
			if last.Before(cutoff) {
				delete(t.lastSent, phone)
			}
		}
		t.mu.Unlock()
	}
}
