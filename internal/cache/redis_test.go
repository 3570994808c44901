package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = r.Close() })
	return mr, r
}

type entry struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func TestKey(t *testing.T) {
	assert.Equal(t, "iptvmine:cooldown:BBC News", Key("cooldown", "BBC News"))
}

func TestSetGet(t *testing.T) {
	mr, r := setupMiniRedis(t)
	ctx := context.Background()

	require.NoError(t, Set(ctx, r, "k", entry{Name: "a", N: 2}, time.Minute))
	got, found, err := Get[entry](ctx, r, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, entry{Name: "a", N: 2}, got)

	mr.FastForward(2 * time.Minute)
	_, found, err = Get[entry](ctx, r, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetCorruptValue(t *testing.T) {
	mr, r := setupMiniRedis(t)
	require.NoError(t, mr.Set("k", "{not json"))
	_, _, err := Get[entry](context.Background(), r, "k")
	assert.Error(t, err)
}

func TestDelPattern(t *testing.T) {
	mr, r := setupMiniRedis(t)
	ctx := context.Background()
	for _, k := range []string{Key("sources", "a"), Key("sources", "b"), Key("other")} {
		require.NoError(t, Set(ctx, r, k, 1, 0))
	}
	require.NoError(t, DelPattern(ctx, r, Key("sources", "*")))
	assert.False(t, mr.Exists(Key("sources", "a")))
	assert.False(t, mr.Exists(Key("sources", "b")))
	assert.True(t, mr.Exists(Key("other")))
	require.NoError(t, Del(ctx, r))
}

func TestTryLock(t *testing.T) {
	mr, r := setupMiniRedis(t)
	ctx := context.Background()
	key := Key("lock", "monitor")

	lock, err := TryLock(ctx, r, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, IsLocked(ctx, r, key))

	_, err = TryLock(ctx, r, key, time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lock.Release())
	assert.False(t, IsLocked(ctx, r, key))

	// An expired lease taken over by someone else is left alone.
	lock, err = TryLock(ctx, r, key, time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(key, "other-holder"))
	require.NoError(t, lock.Release())
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "other-holder", got)
}

func TestQueueFIFO(t *testing.T) {
	_, r := setupMiniRedis(t)
	ctx := context.Background()

	require.NoError(t, Enqueue(ctx, r, NotificationQueue, entry{Name: "first"}))
	require.NoError(t, Enqueue(ctx, r, NotificationQueue, entry{Name: "second"}))
	n, err := QueueLen(ctx, r, NotificationQueue)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	got, ok, err := Dequeue[entry](ctx, r, NotificationQueue, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", got.Name)

	got, ok, err = Dequeue[entry](ctx, r, NotificationQueue, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", got.Name)
}
