package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/voyagen/iptvmine/internal/cache"
	xlog "github.com/voyagen/iptvmine/internal/log"
	"github.com/voyagen/iptvmine/internal/models"
)

const ttlSources = 2 * time.Minute

var (
	keySourceURLs = cache.Key("sources", "urls")
	keySourceList = cache.Key("sources", "all")
)

// CachedStore wraps a SourceStore with a Redis read-through cache.
// Writes invalidate every cached source key.
type CachedStore struct {
	inner  SourceStore
	cache  *cache.Redis
	logger zerolog.Logger
}

// NewCachedStore creates a CachedStore that wraps inner with Redis caching.
func NewCachedStore(inner SourceStore, c *cache.Redis) *CachedStore {
	return &CachedStore{inner: inner, cache: c, logger: xlog.WithComponent("store.cache")}
}

func (c *CachedStore) SourceURLs(ctx context.Context) ([]string, error) {
	return readThrough(ctx, c, keySourceURLs, c.inner.SourceURLs)
}

func (c *CachedStore) ListSources(ctx context.Context) ([]models.SourceConfig, error) {
	return readThrough(ctx, c, keySourceList, c.inner.ListSources)
}

func readThrough[T any](ctx context.Context, c *CachedStore, key string, load func(context.Context) (T, error)) (T, error) {
	if v, found, err := cache.Get[T](ctx, c.cache, key); err == nil && found {
		return v, nil
	} else if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if err := cache.Set(ctx, c.cache, key, v, ttlSources); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return v, nil
}

func (c *CachedStore) SetSources(ctx context.Context, urls []string) error {
	if err := c.inner.SetSources(ctx, urls); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *CachedStore) AddSource(ctx context.Context, url string) (bool, error) {
	added, err := c.inner.AddSource(ctx, url)
	if err != nil {
		return false, err
	}
	if added {
		c.invalidate(ctx)
	}
	return added, nil
}

func (c *CachedStore) RemoveSource(ctx context.Context, url string) error {
	if err := c.inner.RemoveSource(ctx, url); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *CachedStore) ResetToDefaults(ctx context.Context) error {
	if err := c.inner.ResetToDefaults(ctx); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

// Invalidate drops the cached source keys. The sources-file watcher calls it
// after an out-of-band edit.
func (c *CachedStore) Invalidate(ctx context.Context) {
	c.invalidate(ctx)
}

func (c *CachedStore) invalidate(ctx context.Context) {
	if err := cache.DelPattern(ctx, c.cache, cache.Key("sources", "*")); err != nil {
		c.logger.Warn().Err(err).Msg("cache invalidate failed")
	}
}
