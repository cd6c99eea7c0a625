package rbac

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/halldesk/halldesk/pkg/observability"
)

// DefaultInvalidationChannel is the Redis pub/sub channel invalidation
// events travel on.
const DefaultInvalidationChannel = "halldesk:rbac:invalidate"

// RedisInvalidationBus fans invalidation events out to every service
// instance over Redis pub/sub. Redis delivers a published message to the
// publisher's own subscription too, so local eviction needs no special
// casing.
type RedisInvalidationBus struct {
	client  *redis.Client
	channel string
	logger  *observability.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	handlers []InvalidationHandler

	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisInvalidationBus creates a bus on channel. An empty channel name
// selects DefaultInvalidationChannel.
func NewRedisInvalidationBus(client *redis.Client, channel string, logger *observability.Logger, metrics *observability.Metrics) *RedisInvalidationBus {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	return &RedisInvalidationBus{
		client:  client,
		channel: channel,
		logger:  logger.Named("invalidation_bus"),
		metrics: metrics,
	}
}

// Publish broadcasts event on the Redis channel. The returned error is
// informational; callers log it and move on, the cache TTL covers the gap.
func (b *RedisInvalidationBus) Publish(ctx context.Context, event InvalidationEvent) error {
	if len(event.UserIDs) == 0 {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		if b.metrics != nil {
			b.metrics.RedisErrorsTotal.WithLabelValues("bus_publish").Inc()
		}
		return err
	}
	if b.metrics != nil {
		b.metrics.InvalidationsPublishedTotal.WithLabelValues(event.Reason).Inc()
		b.metrics.InvalidationFanoutSize.Observe(float64(len(event.UserIDs)))
	}
	return nil
}

// Subscribe registers handler for events delivered after Start.
func (b *RedisInvalidationBus) Subscribe(handler InvalidationHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Start opens the Redis subscription and consumes events until ctx is
// cancelled or Close is called.
func (b *RedisInvalidationBus) Start(ctx context.Context) error {
	b.pubsub = b.client.Subscribe(ctx, b.channel)

	// Block until the subscription is live so events published right after
	// Start are not silently dropped.
	if _, err := b.pubsub.Receive(ctx); err != nil {
		b.pubsub.Close()
		return err
	}

	b.done = make(chan struct{})
	go b.consume(ctx)
	return nil
}

func (b *RedisInvalidationBus) consume(ctx context.Context) {
	defer close(b.done)
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.dispatch(msg.Payload)
		}
	}
}

func (b *RedisInvalidationBus) dispatch(payload string) {
	var event InvalidationEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		b.logger.WithError(err).Warn("dropping malformed invalidation event")
		return
	}
	if b.metrics != nil {
		b.metrics.InvalidationsReceivedTotal.Inc()
	}

	b.mu.RLock()
	handlers := make([]InvalidationHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Close tears down the subscription and waits for the consumer to drain.
func (b *RedisInvalidationBus) Close() error {
	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	if b.done != nil {
		<-b.done
	}
	return err
}
