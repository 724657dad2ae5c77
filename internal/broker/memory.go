package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed signals use of a broker after Close.
var ErrClosed = errors.New("broker is closed")

// MemoryBroker is an in-process Broker for development and tests. Semantics
// match the Redis implementation: per-owner topics, at-most-once delivery,
// drops for slow subscribers.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryBroker constructs an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[uuid.UUID]map[*memorySubscription]struct{})}
}

// Publish delivers payload to every current subscriber of the owner's topic.
func (b *MemoryBroker) Publish(_ context.Context, ownerID uuid.UUID, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs[ownerID] {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		select {
		case sub.out <- msg:
		default:
			// At-most-once: drop rather than block the publisher.
		}
	}
	return nil
}

// Subscribe attaches a new subscriber to the owner's topic.
func (b *MemoryBroker) Subscribe(_ context.Context, ownerID uuid.UUID) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		broker:  b,
		ownerID: ownerID,
		out:     make(chan []byte, subscriberBuffer),
	}
	set := b.subs[ownerID]
	if set == nil {
		set = make(map[*memorySubscription]struct{})
		b.subs[ownerID] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Close detaches every subscriber and rejects further use.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ownerID, set := range b.subs {
		for sub := range set {
			close(sub.out)
		}
		delete(b.subs, ownerID)
	}
	return nil
}

// SubscriberCount reports the live subscriptions for an owner (test helper).
func (b *MemoryBroker) SubscriberCount(ownerID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ownerID])
}

type memorySubscription struct {
	broker    *MemoryBroker
	ownerID   uuid.UUID
	out       chan []byte
	closeOnce sync.Once
}

func (s *memorySubscription) C() <-chan []byte {
	return s.out
}

// Close removes the subscriber from the topic before returning, so no publish
// started after Close can target it.
func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		b := s.broker
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[s.ownerID]; ok {
			if _, member := set[s]; member {
				delete(set, s)
				close(s.out)
				if len(set) == 0 {
					delete(b.subs, s.ownerID)
				}
			}
		}
	})
	return nil
}
