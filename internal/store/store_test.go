package store

import (
	"errors"
	"testing"
	"time"

	"fleet-monitor/tracking/internal/domain"
)

func TestDecodeSample(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		body    string
		wantErr bool
		want    func(domain.LocationSample) bool
	}{
		{
			name: "full payload",
			body: `{"trip_id":"t-1","latitude":14.6,"longitude":121.0,"speed":5.5,"battery_level":42,"timestamp":"2026-03-01T08:59:58Z"}`,
			want: func(s domain.LocationSample) bool {
				return s.Speed == 5.5 && *s.BatteryLevel == 42 && s.Timestamp.Equal(now.Add(-2*time.Second))
			},
		},
		{
			name: "no timestamp uses receipt time",
			body: `{"latitude":14.6,"longitude":121.0}`,
			want: func(s domain.LocationSample) bool {
				return s.Timestamp.Equal(now) && s.BatteryLevel == nil
			},
		},
		{name: "not json", body: `lat=1`, wantErr: true},
		{name: "missing longitude", body: `{"latitude":14.6}`, wantErr: true},
		{name: "other trip", body: `{"trip_id":"t-9","latitude":1,"longitude":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := decodeSample("t-1", []byte(tt.body), now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", s)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.TripID != "t-1" || !tt.want(s) {
				t.Errorf("decoded %+v", s)
			}
		})
	}

	if _, err := decodeSample("t-1", []byte(`{"latitude":14.6}`), now); !errors.Is(err, domain.ErrMissingCoordinates) {
		t.Errorf("missing coordinate error = %v", err)
	}
}

func TestTripSetKey(t *testing.T) {
	a := []domain.Trip{
		{ID: "1", UserID: "u1", VehicleID: "v1", Status: domain.TripActive},
		{ID: "2", UserID: "u2", VehicleID: "v2", Status: domain.TripActive},
	}
	b := []domain.Trip{a[1], a[0]}
	if tripSetKey(a) != tripSetKey(b) {
		t.Errorf("key depends on row order")
	}

	c := []domain.Trip{a[0]}
	if tripSetKey(a) == tripSetKey(c) {
		t.Errorf("removing a trip did not change the key")
	}

	d := []domain.Trip{a[0], {ID: "2", UserID: "u2", VehicleID: "v3", Status: domain.TripActive}}
	if tripSetKey(a) == tripSetKey(d) {
		t.Errorf("vehicle swap did not change the key")
	}
	if tripSetKey(nil) != "" {
		t.Errorf("empty set key = %q", tripSetKey(nil))
	}
}

func TestChannelNames(t *testing.T) {
	if got := TelemetryChannel("t-1"); got != "trip:t-1:telemetry" {
		t.Errorf("TelemetryChannel = %q", got)
	}
	if got := LocationRoutingKey("t-1"); got != "trip.t-1.location" {
		t.Errorf("LocationRoutingKey = %q", got)
	}
	if got := alertDedupKey("t-1", domain.AlertOffline); got != "alert:t-1:OFFLINE" {
		t.Errorf("alertDedupKey = %q", got)
	}
}
