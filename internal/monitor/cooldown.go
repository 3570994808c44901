package monitor

import (
	"context"
	"time"

	"github.com/voyagen/iptvmine/internal/store"
)

// DefaultCooldownWindow is the minimum gap between two announcements of one channel.
const DefaultCooldownWindow = 2 * time.Hour

// Cooldown decides whether a live channel may be announced again.
type Cooldown struct {
	store  store.CooldownStore
	window time.Duration
}

func NewCooldown(s store.CooldownStore, window time.Duration) *Cooldown {
	if window <= 0 {
		window = DefaultCooldownWindow
	}
	return &Cooldown{store: s, window: window}
}

// Window returns the suppression window.
func (c *Cooldown) Window() time.Duration { return c.window }

// Allow reports whether name may be announced at now: either it was never
// announced or at least the window has elapsed since the last time.
func (c *Cooldown) Allow(ctx context.Context, name string, now time.Time) (bool, error) {
	last, ok, err := c.store.LastNotified(ctx, name)
	if err != nil {
		return false, err
	}
	return !ok || now.Sub(last) >= c.window, nil
}

// Mark records an announcement of name at now.
func (c *Cooldown) Mark(ctx context.Context, name string, now time.Time) error {
	return c.store.MarkNotified(ctx, name, now)
}

type pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Prune drops stamps that can no longer suppress anything, when the store supports it.
func (c *Cooldown) Prune(ctx context.Context, now time.Time) (int64, error) {
	p, ok := c.store.(pruner)
	if !ok {
		return 0, nil
	}
	return p.Prune(ctx, now.Add(-c.window))
}
