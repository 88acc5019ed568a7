// Package ratelimit implements the client-side send cooldown. When the REST
// API answers a send with HTTP 429, the chat surface enters a cooldown: no
// further sends go out until the server-provided retry-after window elapses,
// and the remaining countdown is exposed for display.
package ratelimit

import (
	"sync"
	"time"
)

// Cooldown tracks a single quiet period. The zero value is not ready for
// use; create one with NewCooldown. One Cooldown serves one chat surface.
type Cooldown struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

// NewCooldown creates an inactive cooldown.
func NewCooldown() *Cooldown {
	return &Cooldown{now: time.Now}
}

// Start begins (or extends) the quiet period for the given duration. A
// shorter duration never cuts an active cooldown short.
func (c *Cooldown) Start(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := c.now().Add(d)
	if deadline.After(c.until) {
		c.until = deadline
	}
}

// Active reports whether sends are currently suppressed.
func (c *Cooldown) Active() bool {
	return c.Remaining() > 0
}

// Remaining returns the time left until sends are allowed again, or zero
// when no cooldown is active. The countdown reaches zero on its own; there
// is no explicit reset.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	rem := c.until.Sub(c.now())
	if rem < 0 {
		return 0
	}
	return rem
}
