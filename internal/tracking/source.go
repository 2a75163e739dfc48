package tracking

import (
	"context"

	"fleet-monitor/tracking/internal/domain"
)

// Subscription is the cancel handle for one trip's telemetry stream.
type Subscription interface {
	Close() error
}

// TelemetrySource pushes samples for a single trip until the returned
// subscription is closed. The handler must be called from one goroutine
// per subscription so arrival order is preserved.
type TelemetrySource interface {
	SubscribeLocations(ctx context.Context, tripID string, handler func(domain.LocationSample)) (Subscription, error)
}

// ActiveTripFeed reports the full set of active trips every time it
// changes. WatchActiveTrips blocks until ctx is done or the feed fails.
type ActiveTripFeed interface {
	WatchActiveTrips(ctx context.Context, onChange func([]domain.Trip)) error
}

// UserDirectory resolves rider details for display only.
type UserDirectory interface {
	Lookup(ctx context.Context, userID string) (domain.UserProfile, error)
	// Cached must not block. ok is false when nothing is known yet.
	Cached(userID string) (domain.UserProfile, bool)
}

// EventSink receives engine output for persistence and fan-out. Calls
// are made with the engine lock held, in the order changes were decided,
// and must not block.
type EventSink interface {
	SampleApplied(s domain.LocationSample)
	AlertRaised(a domain.Alert)
	AlertCleared(a domain.Alert)
	SnapshotTaken(s domain.FleetSnapshot)
}
