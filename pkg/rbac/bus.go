package rbac

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InvalidationHandler consumes a delivered invalidation event.
type InvalidationHandler func(event InvalidationEvent)

// InvalidationBus broadcasts cache invalidation events to every service
// instance, the publishing one included. Delivery is best-effort and
// at-most-once; subscribers rely on the cache TTL for lost events.
type InvalidationBus interface {
	// Publish broadcasts event. An empty user list is not published.
	Publish(ctx context.Context, event InvalidationEvent) error
	// Subscribe registers handler for every subsequently delivered event.
	Subscribe(handler InvalidationHandler)
}

// LocalInvalidationBus is the single-process bus. Publish delivers to every
// subscriber synchronously, so a caller observes its own invalidation as
// soon as Publish returns.
type LocalInvalidationBus struct {
	mu       sync.RWMutex
	handlers []InvalidationHandler
}

// NewLocalInvalidationBus creates an empty local bus.
func NewLocalInvalidationBus() *LocalInvalidationBus {
	return &LocalInvalidationBus{}
}

// Publish delivers event to every registered handler.
func (b *LocalInvalidationBus) Publish(_ context.Context, event InvalidationEvent) error {
	if len(event.UserIDs) == 0 {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	b.mu.RLock()
	handlers := make([]InvalidationHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
	return nil
}

// Subscribe registers handler.
func (b *LocalInvalidationBus) Subscribe(handler InvalidationHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}
