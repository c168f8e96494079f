// Package usecase implements the sync engine orchestration: enqueueing
// local mutations, the dispatch loop, and the status surface.
package usecase

import (
	"sync"

	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// EventBus fans out engine state transitions to subscribers, typically the
// presentation layer. Publishing never blocks: a subscriber that stops
// draining loses events rather than stalling the dispatch loop.
type EventBus struct {
	mu   sync.RWMutex
	subs map[int]chan domain.Event
	next int
}

// NewEventBus creates an event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan domain.Event)}
}

// Subscribe registers a buffered subscriber channel. The returned cancel
// function removes the subscription and closes the channel.
func (b *EventBus) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan domain.Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber with room in its buffer.
func (b *EventBus) Publish(event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
