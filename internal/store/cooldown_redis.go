package store

import (
	"context"
	"time"

	"github.com/voyagen/iptvmine/internal/cache"
)

// RedisCooldown keeps one key per channel that expires after window, so
// the set never outgrows the channels announced within the window.
type RedisCooldown struct {
	cache  *cache.Redis
	window time.Duration
}

func NewRedisCooldown(c *cache.Redis, window time.Duration) *RedisCooldown {
	return &RedisCooldown{cache: c, window: window}
}

func cooldownKey(name string) string {
	return cache.Key("cooldown", name)
}

func (r *RedisCooldown) LastNotified(ctx context.Context, name string) (time.Time, bool, error) {
	ms, found, err := cache.Get[int64](ctx, r.cache, cooldownKey(name))
	if err != nil || !found {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (r *RedisCooldown) MarkNotified(ctx context.Context, name string, at time.Time) error {
	return cache.Set(ctx, r.cache, cooldownKey(name), at.UnixMilli(), r.window)
}
