package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrLocked is returned by TryLock when another holder owns the lock.
var ErrLocked = errors.New("lock is already held")

// Releases the key only while it still carries the holder's token.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Lock is a held SET NX lease. It expires on its own after the ttl passed to TryLock.
type Lock struct {
	r     *Redis
	key   string
	token string
}

// TryLock acquires key for ttl or returns ErrLocked.
func TryLock(ctx context.Context, r *Redis, key string, ttl time.Duration) (*Lock, error) {
	token := randomToken()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Lock{r: r, key: key, token: token}, nil
}

// Release drops the lock if it is still ours. It uses a fresh context so a
// cancelled run still releases.
func (l *Lock) Release() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.r.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Err()
}

// IsLocked reports whether key is currently held by anyone. It only inspects;
// callers that want the lock use TryLock.
func IsLocked(ctx context.Context, r *Redis, key string) bool {
	n, _ := r.client.Exists(ctx, key).Result()
	return n > 0
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
