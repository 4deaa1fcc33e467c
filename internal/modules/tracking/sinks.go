// README: Downstream location sinks: Firebase RTDB for client apps and Kafka for analytics consumers.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"firebase.google.com/go/v4/db"
	"github.com/segmentio/kafka-go"

	"dispatch/internal/types"
)

const rtdbDriverLocationsNode = "driver_locations"

// rtdbDriverEntry is the shape client apps listen to under /driver_locations/{id}.
type rtdbDriverEntry struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Status    string   `json:"status"`
	Timestamp int64    `json:"timestamp"`
}

// FirebaseSink mirrors fixes into Firebase RTDB.
type FirebaseSink struct {
	client *db.Client
}

func NewFirebaseSink(client *db.Client) *FirebaseSink {
	return &FirebaseSink{client: client}
}

func (s *FirebaseSink) Publish(ctx context.Context, driverID types.ID, loc types.GeoLocation) error {
	entry := rtdbDriverEntry{
		Lat:       loc.Lat,
		Lng:       loc.Lng,
		Accuracy:  loc.Accuracy,
		Heading:   loc.Heading,
		Speed:     loc.Speed,
		Status:    "online",
		Timestamp: fixMillis(loc),
	}
	ref := s.client.NewRef(rtdbDriverLocationsNode).Child(string(driverID))
	if err := ref.Set(ctx, entry); err != nil {
		return fmt.Errorf("writing driver location %s: %w", driverID, err)
	}
	return nil
}

type locationMessage struct {
	DriverID types.ID          `json:"driver_id"`
	Location types.GeoLocation `json:"location"`
}

// KafkaSink writes one message per fix, keyed by driver so a driver's fixes stay ordered.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (k *KafkaSink) Publish(ctx context.Context, driverID types.ID, loc types.GeoLocation) error {
	b, err := json.Marshal(locationMessage{DriverID: driverID, Location: loc})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(driverID), Value: b})
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func fixMillis(loc types.GeoLocation) int64 {
	if loc.Timestamp != nil {
		return loc.Timestamp.UnixMilli()
	}
	return time.Now().UnixMilli()
}
