// Package notify delivers "channel is live" announcements to whatever
// surface shows them to the user.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voyagen/iptvmine/internal/cache"
	xlog "github.com/voyagen/iptvmine/internal/log"
)

// DeepLinkScheme prefixes links that open the player on a channel.
const DeepLinkScheme = "iptvmine://player"

// Notification is one live-channel announcement.
type Notification struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	DeepLink  string    `json:"deep_link"`
	StreamURL string    `json:"stream_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Live builds the announcement for a channel that just went live.
func Live(name, streamURL string, now time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		ChannelID: name,
		Title:     name + " is Live! 📺",
		Body:      name + " is now broadcasting. Tap to start watching!",
		DeepLink:  DeepLink(name, streamURL),
		StreamURL: streamURL,
		CreatedAt: now,
	}
}

// DeepLink returns the player link for a channel.
func DeepLink(name, streamURL string) string {
	return DeepLinkScheme + "?channel=" + url.QueryEscape(name) + "&url=" + url.QueryEscape(streamURL)
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes each notification to the log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(l zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: l}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info().
		Str(xlog.FieldChannel, n.ChannelID).
		Str("notification_id", n.ID).
		Str("deep_link", n.DeepLink).
		Msg(n.Title)
	return nil
}

// QueueNotifier pushes notifications onto a Redis list for an external consumer.
type QueueNotifier struct {
	redis *cache.Redis
	queue string
}

// NewQueueNotifier uses cache.NotificationQueue when queue is empty.
func NewQueueNotifier(r *cache.Redis, queue string) *QueueNotifier {
	if queue == "" {
		queue = cache.NotificationQueue
	}
	return &QueueNotifier{redis: r, queue: queue}
}

func (q *QueueNotifier) Notify(ctx context.Context, n Notification) error {
	if err := cache.Enqueue(ctx, q.redis, q.queue, n); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
