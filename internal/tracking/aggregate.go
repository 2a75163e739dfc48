package tracking

import (
	"time"

	"fleet-monitor/tracking/internal/domain"
)

// FleetAggregator composes the per-trip components into a read-only view.
// It performs no I/O.
type FleetAggregator struct {
	store  *LocationStore
	routes *RouteAccumulator
	alerts *AlertEngine
	subs   *SubscriptionManager
	// describe returns booking metadata and a display name for a trip.
	describe func(tripID string) (domain.Trip, string)
}

func (a *FleetAggregator) Snapshot(now time.Time) domain.FleetSnapshot {
	states := a.store.All()
	alerts := a.alerts.Active()

	alertCount := make(map[string]int, len(alerts))
	for _, al := range alerts {
		alertCount[al.TripID]++
	}

	snap := domain.FleetSnapshot{
		GeneratedAt:         now,
		TrackedTrips:        len(states),
		TotalDistanceMeters: a.routes.TotalDistance(),
		Alerts:              alerts,
		Trips:               make([]domain.TripSummary, 0, len(states)),
	}
	if a.subs != nil {
		snap.SubscribedTrips, _ = a.subs.Stats()
	}

	var speedSum float64
	for _, st := range states {
		switch st.Freshness {
		case domain.FreshnessLive:
			snap.Live++
		case domain.FreshnessDelayed:
			snap.Delayed++
		case domain.FreshnessOffline:
			snap.Offline++
		}
		if st.IsMoving {
			snap.Moving++
		}
		speedSum += st.Latest.Speed

		trip, name := domain.Trip{ID: st.TripID}, domain.UnknownRider
		if a.describe != nil {
			trip, name = a.describe(st.TripID)
		}
		snap.Trips = append(snap.Trips, domain.TripSummary{
			TripID:           st.TripID,
			UserID:           trip.UserID,
			VehicleID:        trip.VehicleID,
			RiderName:        name,
			Freshness:        st.Freshness,
			Latitude:         st.Latest.Latitude,
			Longitude:        st.Latest.Longitude,
			Speed:            st.Latest.Speed,
			MaxSpeed:         a.routes.MaxSpeed(st.TripID),
			IsMoving:         st.IsMoving,
			BatteryLevel:     st.Latest.BatteryLevel,
			DistanceMeters:   a.routes.Distance(st.TripID),
			LastUpdate:       st.LastReceivedAt,
			ActiveAlertCount: alertCount[st.TripID],
		})
	}
	if len(states) > 0 {
		snap.MeanSpeed = speedSum / float64(len(states))
	}
	return snap
}
