package bus_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/tallygate/service-attendance-go/internal/bus"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := bus.New(zap.NewNop().Sugar())

	var mu sync.Mutex
	var got []string
	handler := func(tag string) func(ctx context.Context, msg any) {
		return func(_ context.Context, msg any) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, tag+":"+msg.(string))
		}
	}
	b.Subscribe("t", handler("a"))
	b.Subscribe("t", handler("b"))
	b.Subscribe("other", handler("c"))

	b.Publish("t", "hello")
	b.Drain()

	assert.ElementsMatch(t, []string{"a:hello", "b:hello"}, got)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	b := bus.New(zap.NewNop().Sugar())
	b.Publish("nobody-home", 42)
	b.Drain()
}

func TestPanickingHandlerDoesNotAffectOthers(t *testing.T) {
	b := bus.New(zap.NewNop().Sugar())

	var mu sync.Mutex
	delivered := 0
	b.Subscribe("t", func(_ context.Context, _ any) {
		panic("boom")
	})
	b.Subscribe("t", func(_ context.Context, _ any) {
		mu.Lock()
		defer mu.Unlock()
		delivered++
	})

	b.Publish("t", struct{}{})
	b.Publish("t", struct{}{})
	b.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, delivered)
}

func TestDrainWaitsForInFlightHandlers(t *testing.T) {
	b := bus.New(zap.NewNop().Sugar())

	release := make(chan struct{})
	done := false
	var mu sync.Mutex
	b.Subscribe("t", func(_ context.Context, _ any) {
		<-release
		mu.Lock()
		done = true
		mu.Unlock()
	})

	b.Publish("t", nil)
	close(release)
	b.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, done)
}
