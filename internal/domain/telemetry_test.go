package domain

import (
	"errors"
	"math"
	"testing"
	"time"
)

func ptr(v float64) *float64 { return &v }

func TestLocationPayloadToSample(t *testing.T) {
	fallback := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	devTS := fallback.Add(-3 * time.Second)

	tests := []struct {
		name    string
		payload LocationPayload
		wantErr error
		check   func(t *testing.T, s LocationSample)
	}{
		{
			name:    "missing latitude",
			payload: LocationPayload{Longitude: ptr(121)},
			wantErr: ErrMissingCoordinates,
		},
		{
			name:    "out of range",
			payload: LocationPayload{Latitude: ptr(91), Longitude: ptr(121)},
			wantErr: ErrInvalidCoordinates,
		},
		{
			name:    "coordinates only",
			payload: LocationPayload{Latitude: ptr(14.6), Longitude: ptr(121)},
			check: func(t *testing.T, s LocationSample) {
				if s.Speed != 0 || s.Bearing != 0 || s.Accuracy != 0 || s.BatteryLevel != nil {
					t.Errorf("absent fields not defaulted: %+v", s)
				}
				if !s.Timestamp.Equal(fallback) {
					t.Errorf("timestamp = %v, want fallback", s.Timestamp)
				}
			},
		},
		{
			name: "device timestamp and battery",
			payload: LocationPayload{
				Latitude: ptr(14.6), Longitude: ptr(121), Speed: ptr(4.2),
				BatteryLevel: ptr(64), Timestamp: &devTS,
			},
			check: func(t *testing.T, s LocationSample) {
				if !s.Timestamp.Equal(devTS) {
					t.Errorf("timestamp = %v, want device time", s.Timestamp)
				}
				if s.BatteryLevel == nil || *s.BatteryLevel != 64 || s.Speed != 4.2 {
					t.Errorf("sample = %+v", s)
				}
			},
		},
		{
			name:    "negative speed clamps to zero",
			payload: LocationPayload{Latitude: ptr(1), Longitude: ptr(1), Speed: ptr(-3)},
			check: func(t *testing.T, s LocationSample) {
				if s.Speed != 0 {
					t.Errorf("speed = %v, want 0", s.Speed)
				}
			},
		},
		{
			name:    "NaN speed clamps to zero",
			payload: LocationPayload{Latitude: ptr(1), Longitude: ptr(1), Speed: ptr(math.NaN())},
			check: func(t *testing.T, s LocationSample) {
				if s.Speed != 0 {
					t.Errorf("speed = %v, want 0", s.Speed)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.payload.ToSample("trip-1", fallback)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.TripID != "trip-1" {
				t.Errorf("trip id = %q", s.TripID)
			}
			tt.check(t, s)
		})
	}
}

func TestLocationPayloadTripMismatch(t *testing.T) {
	p := LocationPayload{TripID: "trip-2", Latitude: ptr(1), Longitude: ptr(1)}
	if _, err := p.ToSample("trip-1", time.Now()); err == nil {
		t.Fatalf("payload for another trip was accepted")
	}
}

func TestParseFreshness(t *testing.T) {
	for _, s := range []string{"live", "delayed", "offline"} {
		if f, ok := ParseFreshness(s); !ok || string(f) != s {
			t.Errorf("ParseFreshness(%q) = %q, %v", s, f, ok)
		}
	}
	if _, ok := ParseFreshness("stale"); ok {
		t.Errorf("unknown freshness accepted")
	}
}

func TestAlertID(t *testing.T) {
	a := AlertID(AlertOffline, "trip-1")
	if a != AlertID(AlertOffline, "trip-1") {
		t.Errorf("alert id not stable")
	}
	if a == AlertID(AlertLowBattery, "trip-1") || a == AlertID(AlertOffline, "trip-2") {
		t.Errorf("alert ids collide across type or trip")
	}
}

func TestTripsWithFreshness(t *testing.T) {
	snap := FleetSnapshot{Trips: []TripSummary{
		{TripID: "a", Freshness: FreshnessLive},
		{TripID: "b", Freshness: FreshnessOffline},
		{TripID: "c", Freshness: FreshnessLive},
	}}
	got := snap.TripsWithFreshness(FreshnessLive)
	if len(got) != 2 || got[0].TripID != "a" || got[1].TripID != "c" {
		t.Errorf("live trips = %+v", got)
	}
	if got := snap.TripsWithFreshness(FreshnessDelayed); len(got) != 0 {
		t.Errorf("delayed trips = %+v", got)
	}
}
