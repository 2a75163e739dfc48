package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-monitor/tracking/internal/config"
	"fleet-monitor/tracking/internal/domain"
)

var ErrUserNotFound = errors.New("user not found")

type TimescaleStore struct {
	pool         *pgxpool.Pool
	pollInterval time.Duration
}

func NewTimescaleStore(ctx context.Context, cfg *config.Config) (*TimescaleStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	interval := cfg.TripPollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &TimescaleStore{pool: pool, pollInterval: interval}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *TimescaleStore) ActiveTrips(ctx context.Context) ([]domain.Trip, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, vehicle_id, start_time, end_time, status
		FROM trips
		WHERE status = 'active'
	`)
	if err != nil {
		return nil, fmt.Errorf("active trips query failed: %w", err)
	}
	defer rows.Close()

	var trips []domain.Trip
	for rows.Next() {
		var t domain.Trip
		var status string
		if err := rows.Scan(&t.ID, &t.UserID, &t.VehicleID, &t.StartTime, &t.EndTime, &status); err != nil {
			return nil, fmt.Errorf("active trips scan failed: %w", err)
		}
		t.Status = domain.TripStatus(status)
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// WatchActiveTrips polls the trips table and calls onChange with the full
// active set on the first poll and whenever the set changes afterwards.
// It returns on the first query error or when ctx is done.
func (s *TimescaleStore) WatchActiveTrips(ctx context.Context, onChange func([]domain.Trip)) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	last := ""
	first := true
	for {
		trips, err := s.ActiveTrips(ctx)
		if err != nil {
			return err
		}
		if key := tripSetKey(trips); first || key != last {
			onChange(trips)
			last, first = key, false
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tripSetKey is an order-independent fingerprint of the trip rows the
// engine cares about.
func tripSetKey(trips []domain.Trip) string {
	parts := make([]string, len(trips))
	for i, t := range trips {
		parts[i] = t.ID + "/" + t.UserID + "/" + t.VehicleID + "/" + string(t.Status)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (s *TimescaleStore) LookupUser(ctx context.Context, userID string) (domain.UserProfile, error) {
	var p domain.UserProfile
	err := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(name, ''), COALESCE(phone, '')
		FROM users
		WHERE id = $1
	`, userID).Scan(&p.ID, &p.Name, &p.Contact)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserProfile{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("user lookup failed: %w", err)
	}
	return p, nil
}

var locationColumns = []string{
	"timestamp",
	"received_at",
	"trip_id",
	"latitude",
	"longitude",
	"bearing",
	"speed",
	"accuracy",
	"altitude",
	"battery_level",
}

func (s *TimescaleStore) BatchInsert(ctx context.Context, samples []domain.LocationSample) error {
	if len(samples) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(samples))
	for i, m := range samples {
		rows[i] = []interface{}{
			m.Timestamp,
			m.ReceivedAt,
			m.TripID,
			m.Latitude,
			m.Longitude,
			m.Bearing,
			m.Speed,
			m.Accuracy,
			m.Altitude,
			m.BatteryLevel,
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"trip_locations"},
		locationColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(samples), err)
	}

	return nil
}

func (s *TimescaleStore) InsertAlertEvent(ctx context.Context, ev domain.AlertEvent) error {
	query := `
		INSERT INTO trip_alerts
			(alert_id, trip_id, alert_type, severity, transition, message, first_raised_at, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		ev.Alert.ID,
		ev.Alert.TripID,
		string(ev.Alert.Type),
		string(ev.Alert.Severity),
		string(ev.Transition),
		ev.Alert.Message,
		ev.Alert.FirstRaisedAt,
		ev.At,
	)
	if err != nil {
		return fmt.Errorf("alert insert failed: %w", err)
	}
	return nil
}
