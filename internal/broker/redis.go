package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultChannelPrefix = "progress:owner:"
	dialTimeout          = 5 * time.Second
	subscriberBuffer     = 64
)

// RedisConfig controls the Redis-backed broker.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// RedisBroker implements Broker on Redis pub/sub, one channel per owner.
// Multiple gateway processes may share one Redis instance; each process's
// subscriptions receive every publish for their owners.
type RedisBroker struct {
	rdb    *goredis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisBroker connects to Redis and verifies the connection with a ping.
func NewRedisBroker(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisBroker, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBroker{rdb: rdb, prefix: prefix, logger: logger}, nil
}

func (b *RedisBroker) channel(ownerID uuid.UUID) string {
	return b.prefix + ownerID.String()
}

// Publish sends payload to the owner's channel. Redis drops messages with no
// subscribers, which matches the fire-and-forget contract.
func (b *RedisBroker) Publish(ctx context.Context, ownerID uuid.UUID, payload []byte) error {
	if err := b.rdb.Publish(ctx, b.channel(ownerID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe attaches to the owner's channel and confirms the subscription is
// live before returning, so a successful return means publishes from this
// point on are observed.
func (b *RedisBroker) Subscribe(ctx context.Context, ownerID uuid.UUID) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, b.channel(ownerID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	sub := &redisSubscription{
		ps:     ps,
		out:    make(chan []byte, subscriberBuffer),
		done:   make(chan struct{}),
		logger: b.logger,
	}
	go sub.pump()
	return sub, nil
}

// Ping checks the Redis connection for readiness probes.
func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the underlying client. Open subscriptions observe the closed
// connection and wind down.
func (b *RedisBroker) Close() error {
	if err := b.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

type redisSubscription struct {
	ps        *goredis.PubSub
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
	dropped   int64
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	ch := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			default:
				// Slow consumer: at-most-once allows the drop.
				s.dropped++
				s.logger.Warn("broadcast message dropped for slow subscriber",
					zap.String("channel", msg.Channel),
					zap.Int64("dropped", s.dropped),
				)
			}
		}
	}
}

func (s *redisSubscription) C() <-chan []byte {
	return s.out
}

// Close detaches from Redis. The PubSub close is synchronous, so once Close
// returns no further messages are counted against this subscriber.
func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	if err != nil {
		return fmt.Errorf("redis unsubscribe: %w", err)
	}
	return nil
}
