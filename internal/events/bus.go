// Package events provides a small in-process pub/sub bus so the API layer
// and CLI dashboards can observe review lifecycle changes without polling
// the store.
package events

import (
	"sync"

	"github.com/hunchbank/supportd/internal/models"
)

// Type identifies what happened.
type Type string

const (
	ReviewAdded    Type = "review_added"
	ReviewClosed   Type = "review_closed"
	MetricsUpdated Type = "metrics_updated"
)

// Event is one bus message. Review is set for review events, Metrics for
// metrics events.
type Event struct {
	Type    Type
	Review  *models.Review
	Metrics *models.MetricsSnapshot
}

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// that falls behind misses events rather than stalling producers.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size and returns
// its channel plus a cancel func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers e to every subscriber that has buffer space.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
