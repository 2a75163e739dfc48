package tracking

import (
	"testing"
	"time"

	"fleet-monitor/tracking/internal/domain"
)

func received(s domain.LocationSample, at time.Duration) domain.LocationSample {
	s.ReceivedAt = t0.Add(at)
	return s
}

func TestLocationStoreApply(t *testing.T) {
	st := NewLocationStore(DefaultConfig())

	if !st.Apply(received(sampleAt("A", 10*time.Second, 1, 1, 2), 10*time.Second)) {
		t.Fatalf("first sample rejected")
	}
	if st.Apply(received(sampleAt("A", 10*time.Second, 2, 2, 2), 11*time.Second)) {
		t.Errorf("equal timestamp accepted")
	}
	if st.Apply(received(sampleAt("A", 9*time.Second, 2, 2, 2), 12*time.Second)) {
		t.Errorf("older timestamp accepted")
	}

	s, ok := st.Get("A")
	if !ok {
		t.Fatalf("state missing")
	}
	if s.Latest.Latitude != 1 || !s.IsMoving || s.Freshness != domain.FreshnessLive {
		t.Errorf("unexpected state %+v", s)
	}
	if !s.LastReceivedAt.Equal(t0.Add(10 * time.Second)) {
		t.Errorf("last received = %v", s.LastReceivedAt)
	}
}

func TestLocationStoreMovingThreshold(t *testing.T) {
	st := NewLocationStore(DefaultConfig())

	cases := []struct {
		speed  float64
		moving bool
	}{
		{0, false},
		{0.5, false},
		{0.51, true},
		{12, true},
	}
	for i, c := range cases {
		off := time.Duration(i) * time.Second
		st.Apply(received(sampleAt("A", off, 1, 1, c.speed), off))
		s, _ := st.Get("A")
		if s.IsMoving != c.moving {
			t.Errorf("speed %v: moving = %v, want %v", c.speed, s.IsMoving, c.moving)
		}
	}
}

func TestLocationStoreStationarySince(t *testing.T) {
	st := NewLocationStore(DefaultConfig())

	st.Apply(received(sampleAt("A", 0, 1, 1, 0), 0))
	st.Apply(received(sampleAt("A", 20*time.Second, 1, 1, 0), 20*time.Second))
	s, _ := st.Get("A")
	if !s.StationarySince.Equal(t0) {
		t.Errorf("stationary since %v, want start of stop", s.StationarySince)
	}

	st.Apply(received(sampleAt("A", 30*time.Second, 1, 1, 3), 30*time.Second))
	s, _ = st.Get("A")
	if !s.StationarySince.IsZero() {
		t.Errorf("moving trip still has stationary since %v", s.StationarySince)
	}

	st.Apply(received(sampleAt("A", 40*time.Second, 1, 1, 0), 40*time.Second))
	s, _ = st.Get("A")
	if !s.StationarySince.Equal(t0.Add(40 * time.Second)) {
		t.Errorf("stationary since %v, want restart at 40s", s.StationarySince)
	}
}

func TestLocationStoreReclassify(t *testing.T) {
	st := NewLocationStore(DefaultConfig())
	st.Apply(received(sampleAt("B", 0, 1, 1, 0), 0))
	st.Apply(received(sampleAt("A", 0, 1, 1, 0), 100*time.Second))

	changed := st.Reclassify(t0.Add(110 * time.Second))
	if len(changed) != 1 || changed[0] != "B" {
		t.Fatalf("changed = %v, want [B]", changed)
	}
	if s, _ := st.Get("B"); s.Freshness != domain.FreshnessDelayed {
		t.Errorf("B freshness = %s, want delayed", s.Freshness)
	}
	if changed := st.Reclassify(t0.Add(110 * time.Second)); len(changed) != 0 {
		t.Errorf("second reclassify at the same instant changed %v", changed)
	}

	changed = st.Reclassify(t0.Add(240 * time.Second))
	if len(changed) != 2 || changed[0] != "A" || changed[1] != "B" {
		t.Errorf("changed = %v, want [A B]", changed)
	}

	all := st.All()
	if len(all) != 2 || all[0].TripID != "A" {
		t.Errorf("All() not ordered by trip ID: %+v", all)
	}
	st.Remove("A")
	if st.Len() != 1 {
		t.Errorf("Len after Remove = %d, want 1", st.Len())
	}
}
