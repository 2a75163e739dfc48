package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
	"fleet-monitor/tracking/internal/tracking"
)

func LocationRoutingKey(tripID string) string {
	return "trip." + tripID + ".location"
}

// AMQPSource reads location samples from a topic exchange. Every trip
// gets its own channel and exclusive auto-delete queue so closing one
// subscription never affects another.
type AMQPSource struct {
	conn     *amqp.Connection
	exchange string
	log      *slog.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel
}

func NewAMQPSource(url, exchange string, log *slog.Logger) (*AMQPSource, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPSource{conn: conn, exchange: exchange, log: log, pubCh: ch}, nil
}

func (a *AMQPSource) Close() error {
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}
	return nil
}

type amqpSubscription struct {
	ch   *amqp.Channel
	once sync.Once
	err  error
}

func (s *amqpSubscription) Close() error {
	s.once.Do(func() { s.err = s.ch.Close() })
	return s.err
}

func (a *AMQPSource) SubscribeLocations(ctx context.Context, tripID string, handler func(domain.LocationSample)) (tracking.Subscription, error) {
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",
		false,
		true, // auto-delete
		true, // exclusive
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, LocationRoutingKey(tripID), a.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := ch.Consume(
		q.Name,
		"",
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	sub := &amqpSubscription{ch: ch}
	go func() {
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				s, err := decodeSample(tripID, d.Body, time.Now())
				if err != nil {
					metrics.SamplesMalformed.Add(1)
					a.log.Warn("discarding undecodable telemetry",
						"action", "sample_decode_failed", "trip_id", tripID, "error", err)
					continue
				}
				handler(s)
			}
		}
	}()
	return sub, nil
}

func (a *AMQPSource) PublishLocation(ctx context.Context, tripID string, payload domain.LocationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}

	a.pubMu.Lock()
	defer a.pubMu.Unlock()
	return a.pubCh.PublishWithContext(ctx, a.exchange, LocationRoutingKey(tripID), false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
}
