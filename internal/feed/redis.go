// README: Broker over Redis Pub/Sub so every API replica sees every event.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/observability"
)

const redisChannelPrefix = "dispatch:"

type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, redisChannelPrefix+topic)
	// wait for the subscription confirmation so no event published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	ch := make(chan Event, subscriberBuffer)
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				observability.FeedEventsDroppedTotal.WithLabelValues("unknown", dropDecodeError).Inc()
				continue
			}
			deliver(ch, topic, evt)
		}
	}()

	return &Subscription{C: ch, closeFn: func() { _ = ps.Close() }}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, redisChannelPrefix+topic, data).Err()
}
