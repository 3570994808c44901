package store

import (
	"context"
	"sync"
	"time"
)

// CooldownStore remembers when each channel was last announced as live.
// Channel names are the keys.
type CooldownStore interface {
	LastNotified(ctx context.Context, name string) (at time.Time, ok bool, err error)
	MarkNotified(ctx context.Context, name string, at time.Time) error
}

// DefaultCooldownCapacity bounds a MemoryCooldown created with capacity 0.
// Capacity only evicts stamps that no longer suppress anything: with a
// window, a stamp inside it is never dropped, so the store may briefly hold
// more than capacity names rather than re-announce a channel early.
const DefaultCooldownCapacity = 10000

// MemoryCooldown is an in-process CooldownStore. Entries older than window
// are pruned on write. Without a window at most capacity names are kept,
// oldest evicted first.
type MemoryCooldown struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	entries  map[string]time.Time
}

func NewMemoryCooldown(window time.Duration, capacity int) *MemoryCooldown {
	if capacity <= 0 {
		capacity = DefaultCooldownCapacity
	}
	return &MemoryCooldown{window: window, capacity: capacity, entries: make(map[string]time.Time)}
}

func (m *MemoryCooldown) LastNotified(_ context.Context, name string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.entries[name]
	return at, ok, nil
}

func (m *MemoryCooldown) MarkNotified(_ context.Context, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name] = at
	if m.window > 0 {
		for k, t := range m.entries {
			if at.Sub(t) >= m.window {
				delete(m.entries, k)
			}
		}
		return nil
	}
	for len(m.entries) > m.capacity {
		oldest, first := "", true
		var ot time.Time
		for k, t := range m.entries {
			if first || t.Before(ot) {
				oldest, ot, first = k, t, false
			}
		}
		delete(m.entries, oldest)
	}
	return nil
}

// Len reports the number of remembered names.
func (m *MemoryCooldown) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
