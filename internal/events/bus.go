package events

import (
	"context"
	"sync"

	"github.com/cskr/pubsub"
)

const topicMailingCreated = "mailing.created"

// Bus fans out in-process notifications. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	ps *pubsub.PubSub

	mu     sync.RWMutex
	closed bool
}

func NewBus(capacity int) *Bus {
	return &Bus{ps: pubsub.New(capacity)}
}

// PublishMailingCreated announces a mailing that was just stored. Publishing
// on a closed bus is a no-op.
func (b *Bus) PublishMailingCreated(id string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.ps.TryPub(id, topicMailingCreated)
}

// SubscribeMailingCreated returns the ids of created mailings until ctx is
// done or the bus is closed; the channel is closed then.
func (b *Bus) SubscribeMailingCreated(ctx context.Context) <-chan string {
	out := make(chan string)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		close(out)
		return out
	}
	raw := b.ps.Sub(topicMailingCreated)
	b.mu.RUnlock()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				b.unsubscribe(raw)
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				id, ok := msg.(string)
				if !ok {
					continue
				}
				select {
				case out <- id:
				case <-ctx.Done():
					b.unsubscribe(raw)
					return
				}
			}
		}
	}()
	return out
}

func (b *Bus) unsubscribe(raw chan interface{}) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if !closed {
		go b.ps.Unsub(raw, topicMailingCreated)
	}
	for range raw {
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ps.Shutdown()
}
