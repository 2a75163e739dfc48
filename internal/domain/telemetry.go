package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrMissingCoordinates = errors.New("sample is missing latitude or longitude")
	ErrInvalidCoordinates = errors.New("sample coordinates out of range")
)

type TripStatus string

const (
	TripActive    TripStatus = "active"
	TripCompleted TripStatus = "completed"
)

// Trip is owned by the booking subsystem. The tracker only reads it.
type Trip struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	VehicleID string     `json:"vehicle_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Status    TripStatus `json:"status"`
}

type LocationSample struct {
	TripID       string   `json:"trip_id"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	Bearing      float64  `json:"bearing"`
	Speed        float64  `json:"speed"`    // m/s
	Accuracy     float64  `json:"accuracy"` // m
	Altitude     float64  `json:"altitude"`
	BatteryLevel *float64 `json:"battery_level,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	// ReceivedAt is stamped by the tracker clock, never by the device.
	ReceivedAt time.Time `json:"received_at"`
}

func (s LocationSample) Validate() error {
	if math.IsNaN(s.Latitude) || math.IsNaN(s.Longitude) {
		return ErrMissingCoordinates
	}
	if !ValidCoordinates(s.Latitude, s.Longitude) {
		return fmt.Errorf("%w: (%f, %f)", ErrInvalidCoordinates, s.Latitude, s.Longitude)
	}
	return nil
}

// LocationPayload is the JSON shape published by vehicles. Every sensor
// field is optional on the wire.
type LocationPayload struct {
	TripID       string     `json:"trip_id"`
	Latitude     *float64   `json:"latitude"`
	Longitude    *float64   `json:"longitude"`
	Bearing      *float64   `json:"bearing"`
	Speed        *float64   `json:"speed"`
	Accuracy     *float64   `json:"accuracy"`
	Altitude     *float64   `json:"altitude"`
	BatteryLevel *float64   `json:"battery_level"`
	Timestamp    *time.Time `json:"timestamp"`
}

// ToSample converts a wire payload, defaulting absent sensor readings.
// A missing timestamp falls back to fallbackTS.
func (p LocationPayload) ToSample(tripID string, fallbackTS time.Time) (LocationSample, error) {
	if p.Latitude == nil || p.Longitude == nil {
		return LocationSample{}, ErrMissingCoordinates
	}
	if p.TripID != "" && p.TripID != tripID {
		return LocationSample{}, fmt.Errorf("payload for trip %s delivered on trip %s", p.TripID, tripID)
	}

	s := LocationSample{
		TripID:       tripID,
		Latitude:     *p.Latitude,
		Longitude:    *p.Longitude,
		Bearing:      valueOr(p.Bearing, 0),
		Speed:        valueOr(p.Speed, 0),
		Accuracy:     valueOr(p.Accuracy, 0),
		Altitude:     valueOr(p.Altitude, 0),
		BatteryLevel: p.BatteryLevel,
		Timestamp:    fallbackTS,
	}
	if p.Timestamp != nil {
		s.Timestamp = *p.Timestamp
	}
	if s.Speed < 0 || math.IsNaN(s.Speed) {
		s.Speed = 0
	}
	if err := s.Validate(); err != nil {
		return LocationSample{}, err
	}
	return s, nil
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

type Freshness string

const (
	FreshnessLive    Freshness = "live"
	FreshnessDelayed Freshness = "delayed"
	FreshnessOffline Freshness = "offline"
)

func ParseFreshness(s string) (Freshness, bool) {
	switch f := Freshness(s); f {
	case FreshnessLive, FreshnessDelayed, FreshnessOffline:
		return f, true
	}
	return "", false
}

// TripState is derived per tracked trip and owned by the location store.
type TripState struct {
	TripID         string         `json:"trip_id"`
	Latest         LocationSample `json:"latest"`
	IsMoving       bool           `json:"is_moving"`
	Freshness      Freshness      `json:"freshness"`
	LastReceivedAt time.Time      `json:"last_received_at"`
	// StationarySince is zero while the trip is moving.
	StationarySince time.Time `json:"stationary_since,omitempty"`
}

type RouteRecord struct {
	TripID                   string           `json:"trip_id"`
	Samples                  []LocationSample `json:"samples"`
	CumulativeDistanceMeters float64          `json:"cumulative_distance_meters"`
	MaxSpeed                 float64          `json:"max_speed"`
	RejectedSegments         int              `json:"rejected_segments"`
}

type UserProfile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

const UnknownRider = "Unknown rider"
