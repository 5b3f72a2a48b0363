package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Bus carries change notifications for conversation documents and their
// message collections. Notifications are hints, not payloads: receivers
// reload the full state from the store on every event, so coalescing or
// dropping a burst of events is harmless.
type Bus interface {
	// Subscribe returns an event channel and a stop func. The channel is
	// closed after stop or when ctx is cancelled; stop is idempotent.
	Subscribe(ctx context.Context, channel string) (<-chan struct{}, func())
	Publish(ctx context.Context, channel string) error
}

func ConversationChannel(conversationID string) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

func MessagesChannel(conversationID string) string {
	return fmt.Sprintf("conversation:%s:messages", conversationID)
}

// RedisBus fans notifications out across instances via redis Pub/Sub.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan struct{}, func()) {
	sub := b.client.Subscribe(ctx, channel)
	events := make(chan struct{}, 1)

	go func() {
		defer close(events)
		incoming := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-incoming:
				if !ok {
					return
				}
				select {
				case events <- struct{}{}:
				default:
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = sub.Close()
		})
	}
	return events, stop
}

func (b *RedisBus) Publish(ctx context.Context, channel string) error {
	return b.client.Publish(ctx, channel, "1").Err()
}

// MemoryBus is the in-process bus used when redis is not configured, and the
// test double for subscription-lifecycle assertions.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string]map[int]chan struct{}
	next int
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]chan struct{})}
}

func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan struct{}, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	events := make(chan struct{}, 16)
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]chan struct{})
	}
	b.subs[channel][id] = events
	b.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	stop := func() {
		once.Do(func() {
			close(done)
			b.mu.Lock()
			delete(b.subs[channel], id)
			b.mu.Unlock()
			close(events)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	return events, stop
}

func (b *MemoryBus) Publish(_ context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, events := range b.subs[channel] {
		select {
		case events <- struct{}{}:
		default:
		}
	}
	return nil
}

// ActiveSubscribers reports how many live watches a channel has.
func (b *MemoryBus) ActiveSubscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}
