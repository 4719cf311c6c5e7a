package controller

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription is one subscriber's mailbox. It holds at most one event; a newer event
// replaces an unread one.
type Subscription struct {
	ID uuid.UUID
	ch chan Event
}

// C returns the receive side of the mailbox. It is closed on Unsubscribe or when the
// broadcaster closes.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Broadcaster fans loop events out to any number of subscribers without ever blocking
// the loop.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	closed bool
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uuid.UUID]*Subscription)}
}

// Subscribe registers a new mailbox. Subscribing to a closed broadcaster returns an
// already closed subscription.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{ID: uuid.New(), ch: make(chan Event, 1)}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes the mailbox and closes it.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.ID]; !ok {
		return
	}
	delete(b.subs, sub.ID)
	close(sub.ch)
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit implements Emitter. Each mailbox ends up holding ev.
func (b *Broadcaster) Emit(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		for {
			select {
			case sub.ch <- ev:
			default:
				// Drop the stale event and retry.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close closes every mailbox. Later emits are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
