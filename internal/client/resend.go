package client

import (
	"sync"
	"time"
)

// ResendGovernor mirrors the server-side send cooldown on the calling side,
// so the UI can disable its resend button without a wasted round-trip. The
// server remains authoritative: a 429 answer is fed back via SyncRemaining.
type ResendGovernor struct {
	mu       sync.Mutex
	blocked  map[string]time.Time // phone -> earliest next send
	cooldown time.Duration
	now      func() time.Time
}

// NewResendGovernor creates a governor with the given cooldown window
func NewResendGovernor(cooldown time.Duration) *ResendGovernor {
	return &ResendGovernor{
		blocked:  make(map[string]time.Time),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Allow reports whether a send for the phone number may be attempted and,
// when blocked, how long until the next attempt. An allowed call arms the
// local cooldown immediately.
func (g *ResendGovernor) Allow(phone string) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if next, ok := g.blocked[phone]; ok && now.Before(next) {
		return false, next.Sub(now)
	}
	g.blocked[phone] = now.Add(g.cooldown)
	return true, 0
}

// SyncRemaining adopts the server's view after a cooldown_active answer, so
// the local timer recovers from drift or a restarted client.
func (g *ResendGovernor) SyncRemaining(phone string, remaining time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked[phone] = g.now().Add(remaining)
}

// Clear drops the local cooldown for the phone, e.g. after the server
// confirmed the challenge was consumed.
func (g *ResendGovernor) Clear(phone string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.blocked, phone)
}
