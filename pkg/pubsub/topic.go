package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handler consumes one event. Errors are returned to Publish's caller.
type Handler[T Event] func(ctx context.Context, evt T) error

type subscription[T Event] struct {
	name    string
	handler Handler[T]
}

// Topic is an in-process typed topic. Delivery is synchronous and in
// subscription order; every subscriber sees every event once.
type Topic[T Event] struct {
	name string

	mu   sync.RWMutex
	subs []subscription[T]
}

// NewTopic creates a topic. It panics if name is not one of the Topic*
// constants.
func NewTopic[T Event](name string) *Topic[T] {
	if !IsValidTopic(name) {
		panic(fmt.Sprintf("pubsub: unknown topic %q", name))
	}
	return &Topic[T]{name: name}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string { return t.name }

// Subscribe registers handler under name. Subscribing the same name twice
// replaces the earlier handler.
func (t *Topic[T]) Subscribe(name string, handler Handler[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.subs {
		if t.subs[i].name == name {
			t.subs[i].handler = handler
			return
		}
	}
	t.subs = append(t.subs, subscription[T]{name: name, handler: handler})
}

// Unsubscribe removes the named subscription.
func (t *Topic[T]) Unsubscribe(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.subs {
		if t.subs[i].name == name {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

// Publish validates evt and delivers it to every subscriber. A failing
// subscriber does not stop delivery to the rest; the first error is returned.
func (t *Topic[T]) Publish(ctx context.Context, evt T) (string, error) {
	if err := evt.Validate(); err != nil {
		return "", fmt.Errorf("invalid %s event: %w", t.name, err)
	}

	t.mu.RLock()
	subs := make([]subscription[T], len(t.subs))
	copy(subs, t.subs)
	t.mu.RUnlock()

	msgID := uuid.NewString()

	var firstErr error
	for _, s := range subs {
		if err := s.handler(ctx, evt); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("subscriber %s on %s: %w", s.name, t.name, err)
		}
	}

	return msgID, firstErr
}

// Subscribers returns the number of registered subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}
