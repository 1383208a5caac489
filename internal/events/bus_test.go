package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan string) (string, bool) {
	t.Helper()
	select {
	case id, ok := <-ch:
		return id, ok
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for event")
		return "", false
	}
}

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ctx := context.Background()
	a := bus.SubscribeMailingCreated(ctx)
	b := bus.SubscribeMailingCreated(ctx)

	bus.PublishMailingCreated("302")

	id, ok := receive(t, a)
	require.True(t, ok)
	assert.Equal(t, "302", id)

	id, ok = receive(t, b)
	require.True(t, ok)
	assert.Equal(t, "302", id)
}

func TestBus_CancelClosesSubscription(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := bus.SubscribeMailingCreated(ctx)
	cancel()

	_, ok := receive(t, ch)
	assert.False(t, ok)

	// remaining subscribers keep working
	other := bus.SubscribeMailingCreated(context.Background())
	bus.PublishMailingCreated("7")
	id, ok := receive(t, other)
	require.True(t, ok)
	assert.Equal(t, "7", id)
}

func TestBus_CloseEndsSubscriptions(t *testing.T) {
	bus := NewBus(1)
	ch := bus.SubscribeMailingCreated(context.Background())

	bus.Close()

	_, ok := receive(t, ch)
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		bus.PublishMailingCreated("1")
		bus.Close()
	})

	_, ok = receive(t, bus.SubscribeMailingCreated(context.Background()))
	assert.False(t, ok)
}

func TestBus_StalledSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	// never read from
	_ = bus.SubscribeMailingCreated(context.Background())
	live := bus.SubscribeMailingCreated(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.PublishMailingCreated("m")
		}
	}()

	drained := 0
	for {
		select {
		case <-done:
			assert.Positive(t, drained+len(live))
			return
		case <-live:
			drained++
		case <-time.After(2 * time.Second):
			t.Fatalf("publish blocked on a subscriber that does not drain")
		}
	}
}
