// Package realtime pushes live snapshots to staff clients over WebSocket
// whenever a write touches a subscribed collection.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/lumen-clinic/internal/changes"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// Broker carries change notifications between API instances.
type Broker interface {
	changes.Publisher
	// Subscribe streams changes until ctx is done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan changes.Change, error)
}

const subscriberBuffer = 64

// ChannelName is the Redis channel carrying a clinic's changes.
func ChannelName(clinicID string) string {
	return "lumen:changes:" + clinicID
}

// RedisBroker fans changes out over Redis pub/sub so every API instance sees
// writes made by the others.
type RedisBroker struct {
	client  *redis.Client
	channel string
	logger  *logging.Logger
}

func NewRedisBroker(client *redis.Client, clinicID string, logger *logging.Logger) *RedisBroker {
	if client == nil {
		panic("realtime: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisBroker{client: client, channel: ChannelName(clinicID), logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, change changes.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("realtime: encode change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("realtime: publish change: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan changes.Change, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("realtime: subscribe %s: %w", b.channel, err)
	}

	out := make(chan changes.Change, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change changes.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					b.logger.Warn("dropping malformed change", "error", err, "channel", msg.Channel)
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// MemoryBroker delivers changes within one process. Slow subscribers miss
// changes rather than block writers.
type MemoryBroker struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan changes.Change
	logger *logging.Logger
}

func NewMemoryBroker(logger *logging.Logger) *MemoryBroker {
	if logger == nil {
		logger = logging.Default()
	}
	return &MemoryBroker{subs: map[int]chan changes.Change{}, logger: logger}
}

func (b *MemoryBroker) Publish(_ context.Context, change changes.Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- change:
		default:
			b.logger.Warn("realtime subscriber full, dropping change", "subscriber", id, "collection", change.Collection)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context) (<-chan changes.Change, error) {
	ch := make(chan changes.Change, subscriberBuffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}
