package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"fleet-monitor/tracking/internal/domain"
)

// KafkaPublisher writes alert transitions to a topic keyed by trip ID so
// all events of one trip land on the same partition.
type KafkaPublisher struct {
	brokers []string
	topic   string
	writer  *kafkago.Writer
	log     *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		brokers: brokers,
		topic:   topic,
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkago.Hash{},
			BatchTimeout: 50 * time.Millisecond,
		},
		log: log,
	}
}

// EnsureTopic creates the alert topic if it does not exist, retrying
// while the broker comes up.
func (k *KafkaPublisher) EnsureTopic(ctx context.Context, attempts int) error {
	if len(k.brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := kafkago.DialContext(ctx, "tcp", k.brokers[0])
		if err != nil {
			k.log.Warn("kafka not ready",
				"action", "kafka_dial_failed", "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}

		err = conn.CreateTopics(kafkago.TopicConfig{
			Topic:             k.topic,
			NumPartitions:     3,
			ReplicationFactor: 1,
		})
		conn.Close()
		if err != nil {
			k.log.Info("topic creation returned (may already exist)",
				"action", "kafka_topic_ensure", "topic", k.topic, "error", err)
		}
		return nil
	}
	return fmt.Errorf("kafka: could not connect after %d attempts", attempts)
}

func (k *KafkaPublisher) PublishAlert(ctx context.Context, ev domain.AlertEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(ev.Alert.TripID),
		Value: data,
		Time:  ev.At,
	})
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
