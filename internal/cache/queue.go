package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NotificationQueue is the list that live-channel notifications are pushed to.
// iptvmine only produces onto it; Dequeue and QueueLen are the consumer side
// for the delivery worker that forwards notifications to devices.
var NotificationQueue = Key("queue", "notifications")

// Enqueue pushes v as JSON onto the left of queue.
func Enqueue(ctx context.Context, r *Redis, queue string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue marshal: %w", err)
	}
	if err := r.client.LPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("queue push %s: %w", queue, err)
	}
	return nil
}

// Dequeue pops the oldest item from queue, waiting up to timeout. It is the
// consumer half of Enqueue.
// ok is false when the wait elapsed or ctx was cancelled.
func Dequeue[T any](ctx context.Context, r *Redis, queue string, timeout time.Duration) (v T, ok bool, err error) {
	result, err := r.client.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return v, false, nil
		}
		return v, false, fmt.Errorf("queue pop %s: %w", queue, err)
	}
	// BRPop returns [key, value].
	if len(result) < 2 {
		return v, false, nil
	}
	if err := json.Unmarshal([]byte(result[1]), &v); err != nil {
		return v, false, fmt.Errorf("queue unmarshal: %w", err)
	}
	return v, true, nil
}

// QueueLen returns the number of items waiting on queue, typically checked by
// the consumer to report backlog.
func QueueLen(ctx context.Context, r *Redis, queue string) (int64, error) {
	return r.client.LLen(ctx, queue).Result()
}
