// Package feed carries change events (job updates, driver location fixes)
// from writers to live subscribers. Delivery is best effort: a slow
// subscriber drops events rather than blocking the publisher.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"dispatch/internal/observability"
	"dispatch/internal/types"
)

const (
	EventJobUpdated     = "job.updated"
	EventDriverLocation = "driver.location"
)

const subscriberBuffer = 16

type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

func NewEvent(typ string, v any) (Event, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Payload: b, At: time.Now().UTC()}, nil
}

func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Broker is implemented by MemoryBroker and RedisBroker.
type Broker interface {
	Publish(ctx context.Context, topic string, evt Event) error
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
}

// Subscription is a live stream of events for one topic. Close is idempotent
// and closes C.
type Subscription struct {
	C <-chan Event

	once    sync.Once
	closeFn func()
}

func (s *Subscription) Close() {
	s.once.Do(s.closeFn)
}

const (
	dropBufferFull  = "buffer_full"
	dropDecodeError = "decode_error"
)

// deliver hands evt to a subscriber without blocking. A full buffer loses the
// event and counts it; lost job updates are also logged.
func deliver(ch chan<- Event, topic string, evt Event) {
	select {
	case ch <- evt:
	default:
		observability.FeedEventsDroppedTotal.WithLabelValues(evt.Type, dropBufferFull).Inc()
		if evt.Type == EventJobUpdated {
			slog.Warn("feed subscriber full, job update dropped", "topic", topic)
		}
	}
}

func JobTopic(id types.ID) string {
	return "job:" + string(id)
}

func DriverLocationTopic(id types.ID) string {
	return "driver:" + string(id) + ":location"
}
