// Package broker abstracts the per-owner broadcast channel used for live
// progress fan-out. Delivery is at-most-once with no replay; durable catch-up
// is the event log's job.
package broker

import (
	"context"

	"github.com/google/uuid"
)

// Broker is a pub/sub primitive keyed by owner identity. Publishing is
// fire-and-forget to zero or more live subscribers of the owner's topic.
type Broker interface {
	// Publish sends payload to every current subscriber of the owner's topic.
	// Subscribers that join later never see it.
	Publish(ctx context.Context, ownerID uuid.UUID, payload []byte) error
	// Subscribe registers a new subscriber for the owner's topic. Each
	// subscription is independent; one owner may hold several at once.
	Subscribe(ctx context.Context, ownerID uuid.UUID) (Subscription, error)
	// Close releases the broker and all of its subscriptions.
	Close() error
}

// Subscription is one live attachment to an owner topic.
type Subscription interface {
	// C yields published payloads. It is closed when the subscription ends.
	C() <-chan []byte
	// Close detaches from the topic. It is idempotent, and after it returns
	// the subscriber no longer counts as active.
	Close() error
}
