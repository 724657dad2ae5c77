package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func recvPayload(t *testing.T, sub Subscription) []byte {
	t.Helper()
	select {
	case msg := <-sub.C():
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast message")
	}
	return nil
}

func TestMemoryBrokerFanOutPerOwner(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	defer func() { require.NoError(t, b.Close()) }()

	ownerA, ownerB := uuid.New(), uuid.New()
	subA1, err := b.Subscribe(context.Background(), ownerA)
	require.NoError(t, err)
	subA2, err := b.Subscribe(context.Background(), ownerA)
	require.NoError(t, err)
	subB, err := b.Subscribe(context.Background(), ownerB)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), ownerA, []byte(`{"pct":10}`)))

	require.Equal(t, `{"pct":10}`, string(recvPayload(t, subA1)))
	require.Equal(t, `{"pct":10}`, string(recvPayload(t, subA2)))
	select {
	case msg := <-subB.C():
		t.Fatalf("owner B received owner A's message: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBrokerPublishWithoutSubscribers(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	defer func() { require.NoError(t, b.Close()) }()

	require.NoError(t, b.Publish(context.Background(), uuid.New(), []byte("lost")))
}

// TestMemorySubscriptionCloseIsSynchronous asserts no publish after Close can
// reach the subscriber, and that Close is idempotent under concurrency.
func TestMemorySubscriptionCloseIsSynchronous(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	defer func() { require.NoError(t, b.Close()) }()

	ownerID := uuid.New()
	sub, err := b.Subscribe(context.Background(), ownerID)
	require.NoError(t, err)
	require.Equal(t, 1, b.SubscriberCount(ownerID))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, sub.Close())
		}()
	}
	wg.Wait()

	require.Equal(t, 0, b.SubscriberCount(ownerID))
	require.NoError(t, b.Publish(context.Background(), ownerID, []byte("after close")))
	_, open := <-sub.C()
	require.False(t, open)
}

func TestMemoryBrokerSlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	defer func() { require.NoError(t, b.Close()) }()

	ownerID := uuid.New()
	sub, err := b.Subscribe(context.Background(), ownerID)
	require.NoError(t, err)

	// Overflow the buffer without draining; publishes must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			_ = b.Publish(context.Background(), ownerID, []byte("x"))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
	require.NoError(t, sub.Close())
}

func TestMemoryBrokerClosedRejectsUse(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	require.ErrorIs(t, b.Publish(context.Background(), uuid.New(), nil), ErrClosed)
	_, err := b.Subscribe(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrClosed)
}
