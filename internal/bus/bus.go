// Package bus is a minimal in-process integration event dispatcher.
//
// Publishers hand a message to a topic after their own transaction has
// committed; subscribers run asynchronously in their own goroutine so a slow
// or failing handler never blocks the publishing request. Handlers must not
// depend on the transport; the same functions could be fed from an outbox
// table or a broker.
package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Handler func(ctx context.Context, msg any)

type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]Handler
	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Bus {
	return &Bus{subs: map[string][]Handler{}, logger: logger}
}

// Subscribe registers a handler for a topic. Not safe to call concurrently
// with Publish on the same topic; wire subscriptions up at boot.
func (b *Bus) Subscribe(topic string, h func(ctx context.Context, msg any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], h)
}

// Publish dispatches msg to every subscriber of topic, each in its own
// goroutine. The caller's context is not propagated: the publishing request
// may complete long before the handlers do.
func (b *Bus) Publish(topic string, msg any) {
	b.mu.RLock()
	handlers := b.subs[topic]
	b.mu.RUnlock()

	for _, h := range handlers {
		h := h
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Errorw("bus handler panic", "topic", topic, "panic", r)
				}
			}()
			h(context.Background(), msg)
		}()
	}
}

// Drain blocks until all in-flight handlers have returned.
// Used during shutdown and in tests.
func (b *Bus) Drain() {
	b.wg.Wait()
}
