package countdown

import (
	"sync"
	"time"

	"P2PDesk/internal/models"
	"P2PDesk/internal/roles"
)

// Countdown derives the payment-window time left for one order and decides
// when the auto-cancel must fire. Remaining time is recomputed from
// created_at on every call, never decremented in place, so a snapshot that
// rewrites created_at rebases the window on its own. The fired flag is
// sticky for the life of the view: re-evaluating an expired countdown a
// thousand times still cancels once.
type Countdown struct {
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	fired bool
}

func New(window time.Duration, now func() time.Time) *Countdown {
	if window <= 0 {
		window = 900 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Countdown{window: window, now: now}
}

// Remaining returns the time left in the payment window. A created_at in the
// future means clock skew between desk and server; the window is clamped to
// its full length rather than going negative or overlong.
func (c *Countdown) Remaining(createdAt time.Time) time.Duration {
	now := c.now()
	if createdAt.After(now) {
		return c.window
	}
	remaining := c.window - now.Sub(createdAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingSeconds is Remaining rounded down to whole seconds for display.
func (c *Countdown) RemainingSeconds(createdAt time.Time) int {
	return int(c.Remaining(createdAt) / time.Second)
}

// ShouldFire reports, exactly once, that the auto-cancel is due: the order
// is still pending, the viewer holds the role allowed to cancel on expiry,
// and the window has run out. The first true return latches the flag.
func (c *Countdown) ShouldFire(order *models.Order, role models.Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fired {
		return false
	}
	if order == nil || order.Status != models.StatusPending {
		return false
	}
	if role != roles.AutoCancelRole(order.Kind) {
		return false
	}
	if c.Remaining(order.CreatedAt) > 0 {
		return false
	}
	c.fired = true
	return true
}

// Fired reports whether the auto-cancel has already been triggered.
func (c *Countdown) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}
