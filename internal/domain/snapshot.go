package domain

import "time"

// TripSummary is one row of the fleet view.
type TripSummary struct {
	TripID           string    `json:"trip_id"`
	UserID           string    `json:"user_id"`
	VehicleID        string    `json:"vehicle_id"`
	RiderName        string    `json:"rider_name"`
	Freshness        Freshness `json:"freshness"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	Speed            float64   `json:"speed"`
	MaxSpeed         float64   `json:"max_speed"`
	IsMoving         bool      `json:"is_moving"`
	BatteryLevel     *float64  `json:"battery_level,omitempty"`
	DistanceMeters   float64   `json:"distance_meters"`
	LastUpdate       time.Time `json:"last_update"`
	ActiveAlertCount int       `json:"active_alert_count"`
}

type FleetSnapshot struct {
	Sequence            uint64        `json:"sequence"`
	GeneratedAt         time.Time     `json:"generated_at"`
	TrackedTrips        int           `json:"tracked_trips"`
	SubscribedTrips     int           `json:"subscribed_trips"`
	Live                int           `json:"live"`
	Delayed             int           `json:"delayed"`
	Offline             int           `json:"offline"`
	Moving              int           `json:"moving"`
	MeanSpeed           float64       `json:"mean_speed"`
	TotalDistanceMeters float64       `json:"total_distance_meters"`
	Alerts              []Alert       `json:"alerts"`
	Trips               []TripSummary `json:"trips"`
}

func (s FleetSnapshot) TripsWithFreshness(f Freshness) []TripSummary {
	out := make([]TripSummary, 0, len(s.Trips))
	for _, t := range s.Trips {
		if t.Freshness == f {
			out = append(out, t)
		}
	}
	return out
}
