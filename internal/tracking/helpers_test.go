package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"fleet-monitor/tracking/internal/domain"
)

var errUnavailable = errors.New("telemetry source unavailable")

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(at time.Time) *manualClock { return &manualClock{now: at} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(at time.Time) {
	c.mu.Lock()
	c.now = at
	c.mu.Unlock()
}

type fakeSource struct {
	mu         sync.Mutex
	handlers   map[string]func(domain.LocationSample)
	subscribes map[string]int
	closes     map[string]int
	failures   map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		handlers:   make(map[string]func(domain.LocationSample)),
		subscribes: make(map[string]int),
		closes:     make(map[string]int),
		failures:   make(map[string]int),
	}
}

func (f *fakeSource) SubscribeLocations(ctx context.Context, tripID string, h func(domain.LocationSample)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes[tripID]++
	if f.failures[tripID] > 0 {
		f.failures[tripID]--
		return nil, errUnavailable
	}
	f.handlers[tripID] = h
	return &fakeSubscription{src: f, tripID: tripID}, nil
}

func (f *fakeSource) failNext(tripID string, n int) {
	f.mu.Lock()
	f.failures[tripID] = n
	f.mu.Unlock()
}

// push delivers s through the most recent handler for its trip, even
// when that subscription has been closed, to mimic in-flight messages.
func (f *fakeSource) push(s domain.LocationSample) {
	f.mu.Lock()
	h := f.handlers[s.TripID]
	f.mu.Unlock()
	if h != nil {
		h(s)
	}
}

func (f *fakeSource) counts(tripID string) (subscribes, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes[tripID], f.closes[tripID]
}

type fakeSubscription struct {
	src    *fakeSource
	tripID string
}

func (s *fakeSubscription) Close() error {
	s.src.mu.Lock()
	s.src.closes[s.tripID]++
	s.src.mu.Unlock()
	return nil
}

type fakeDirectory struct {
	mu       sync.Mutex
	profiles map[string]domain.UserProfile
	cached   map[string]domain.UserProfile
	lookups  int
}

func (d *fakeDirectory) Lookup(ctx context.Context, userID string) (domain.UserProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	p, ok := d.profiles[userID]
	if !ok {
		return domain.UserProfile{}, errors.New("user not found")
	}
	if d.cached == nil {
		d.cached = make(map[string]domain.UserProfile)
	}
	d.cached[userID] = p
	return p, nil
}

func (d *fakeDirectory) Cached(userID string) (domain.UserProfile, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.cached[userID]
	return p, ok
}

// expire drops a cached profile the way a TTL would.
func (d *fakeDirectory) expire(userID string) {
	d.mu.Lock()
	delete(d.cached, userID)
	d.mu.Unlock()
}

func (d *fakeDirectory) lookupCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookups
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) SampleApplied(domain.LocationSample) {}

func (r *recordingSink) AlertRaised(a domain.Alert) { r.record("raised " + string(a.Type)) }

func (r *recordingSink) AlertCleared(a domain.Alert) { r.record("cleared " + string(a.Type)) }

func (r *recordingSink) SnapshotTaken(domain.FleetSnapshot) {}

func (r *recordingSink) record(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestEngine(t *testing.T, cfg Config, src TelemetrySource, clk Clock, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(clk), WithLogger(discardLogger())}, opts...)
	e := NewEngine(cfg, src, opts...)
	t.Cleanup(e.Stop)
	return e
}

func activeTrips(ids ...string) []domain.Trip {
	out := make([]domain.Trip, len(ids))
	for i, id := range ids {
		out[i] = domain.Trip{ID: id, UserID: "user-" + id, VehicleID: "bike-" + id, Status: domain.TripActive}
	}
	return out
}

func battery(v float64) *float64 { return &v }

func sampleAt(tripID string, offset time.Duration, lat, lng, speed float64) domain.LocationSample {
	return domain.LocationSample{
		TripID:    tripID,
		Latitude:  lat,
		Longitude: lng,
		Speed:     speed,
		Timestamp: t0.Add(offset),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasAlert(alerts []domain.Alert, tripID string, typ domain.AlertType) bool {
	for _, a := range alerts {
		if a.TripID == tripID && a.Type == typ {
			return true
		}
	}
	return false
}
