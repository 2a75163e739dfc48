package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/tracking/internal/config"
	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
	"fleet-monitor/tracking/internal/tracking"
)

const (
	fleetGeoKey       = "fleet:geo"
	fleetTripsChannel = "fleet:trips"
	snapshotKey       = "fleet:snapshot:latest"
	snapshotChannel   = "fleet:snapshots"
	alertsChannel     = "fleet:alerts"

	tripStateTTL   = 10 * time.Minute
	alertDedupTTL  = 30 * time.Minute
	snapshotMaxAge = time.Minute
)

func TelemetryChannel(tripID string) string {
	return fmt.Sprintf("trip:%s:telemetry", tripID)
}

type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, log: log}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	once   sync.Once
	err    error
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() { s.err = s.pubsub.Close() })
	return s.err
}

// SubscribeLocations listens on the trip's telemetry channel. Messages
// are decoded and handed to handler in publish order from a single
// goroutine.
func (r *RedisStore) SubscribeLocations(ctx context.Context, tripID string, handler func(domain.LocationSample)) (tracking.Subscription, error) {
	pubsub := r.client.Subscribe(ctx, TelemetryChannel(tripID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s failed: %w", tripID, err)
	}

	sub := &redisSubscription{pubsub: pubsub}
	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s, err := decodeSample(tripID, []byte(msg.Payload), time.Now())
				if err != nil {
					metrics.SamplesMalformed.Add(1)
					r.log.Warn("discarding undecodable telemetry",
						"action", "sample_decode_failed", "trip_id", tripID, "error", err)
					continue
				}
				handler(s)
			}
		}
	}()
	return sub, nil
}

// PublishLocation is the producer side of SubscribeLocations.
func (r *RedisStore) PublishLocation(ctx context.Context, tripID string, payload domain.LocationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}
	return r.client.Publish(ctx, TelemetryChannel(tripID), body).Err()
}

// PipelineStateUpdate writes the latest view of every trip in one round
// trip: a hash per trip, the fleet GEO set and a change notification.
func (r *RedisStore) PipelineStateUpdate(ctx context.Context, trips []domain.TripSummary) error {
	if len(trips) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, t := range trips {
		stateData := map[string]interface{}{
			"trip_id":     t.TripID,
			"user_id":     t.UserID,
			"vehicle_id":  t.VehicleID,
			"rider_name":  t.RiderName,
			"freshness":   string(t.Freshness),
			"lat":         t.Latitude,
			"lng":         t.Longitude,
			"speed":       t.Speed,
			"max_speed":   t.MaxSpeed,
			"is_moving":   t.IsMoving,
			"distance_m":  t.DistanceMeters,
			"alerts":      t.ActiveAlertCount,
			"last_update": t.LastUpdate.Unix(),
		}
		if t.BatteryLevel != nil {
			stateData["battery"] = *t.BatteryLevel
		}

		stateKey := fmt.Sprintf("trip:%s:state", t.TripID)
		pipe.HSet(ctx, stateKey, stateData)
		pipe.Expire(ctx, stateKey, tripStateTTL)
		pipe.GeoAdd(ctx, fleetGeoKey, &redis.GeoLocation{
			Name:      t.TripID,
			Longitude: t.Longitude,
			Latitude:  t.Latitude,
		})
	}
	pipe.Publish(ctx, fleetTripsChannel, len(trips))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// RemoveTripState drops a finished trip from the GEO set and deletes its hash.
func (r *RedisStore) RemoveTripState(ctx context.Context, tripID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, fmt.Sprintf("trip:%s:state", tripID))
	pipe.ZRem(ctx, fleetGeoKey, tripID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) PublishSnapshot(ctx context.Context, payload []byte) error {
	pipe := r.client.Pipeline()
	pipe.Set(ctx, snapshotKey, payload, snapshotMaxAge)
	pipe.Publish(ctx, snapshotChannel, payload)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) PublishAlert(ctx context.Context, ev domain.AlertEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	return r.client.Publish(ctx, alertsChannel, payload).Err()
}

func alertDedupKey(tripID string, alertType domain.AlertType) string {
	return fmt.Sprintf("alert:%s:%s", tripID, string(alertType))
}

func (r *RedisStore) CheckAlertDedup(ctx context.Context, tripID string, alertType domain.AlertType) (bool, error) {
	count, err := r.client.Exists(ctx, alertDedupKey(tripID, alertType)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return count > 0, nil
}

func (r *RedisStore) SetAlertDedup(ctx context.Context, tripID string, alertType domain.AlertType) error {
	return r.client.Set(ctx, alertDedupKey(tripID, alertType), "1", alertDedupTTL).Err()
}

func (r *RedisStore) ClearAlertDedup(ctx context.Context, tripID string, alertType domain.AlertType) error {
	return r.client.Del(ctx, alertDedupKey(tripID, alertType)).Err()
}

func decodeSample(tripID string, body []byte, now time.Time) (domain.LocationSample, error) {
	var p domain.LocationPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.LocationSample{}, fmt.Errorf("invalid location payload: %w", err)
	}
	return p.ToSample(tripID, now)
}
