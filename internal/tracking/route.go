package tracking

import (
	"sync"

	"fleet-monitor/tracking/internal/domain"
)

// ring holds the most recent samples of one trip in arrival order.
type ring struct {
	buf   []domain.LocationSample
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]domain.LocationSample, capacity)}
}

func (r *ring) push(s domain.LocationSample) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = s
		r.size++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) last() (domain.LocationSample, bool) {
	if r.size == 0 {
		return domain.LocationSample{}, false
	}
	return r.buf[(r.start+r.size-1)%len(r.buf)], true
}

func (r *ring) items() []domain.LocationSample {
	out := make([]domain.LocationSample, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

type route struct {
	history  *ring
	distance float64
	maxSpeed float64
	rejected int
}

// RouteAccumulator keeps a bounded per-trip history and a running
// great-circle distance that filters GPS jumps.
type RouteAccumulator struct {
	mu                sync.RWMutex
	routes            map[string]*route
	capacity          int
	maxPlausibleSpeed float64
}

func NewRouteAccumulator(capacity int, maxPlausibleSpeed float64) *RouteAccumulator {
	if capacity <= 0 {
		capacity = DefaultConfig().HistoryCapacity
	}
	if maxPlausibleSpeed <= 0 {
		maxPlausibleSpeed = DefaultConfig().MaxPlausibleSpeed
	}
	return &RouteAccumulator{
		routes:            make(map[string]*route),
		capacity:          capacity,
		maxPlausibleSpeed: maxPlausibleSpeed,
	}
}

// Append stores s and returns the distance added to the trip total.
func (ra *RouteAccumulator) Append(tripID string, s domain.LocationSample) float64 {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	r, ok := ra.routes[tripID]
	if !ok {
		r = &route{history: newRing(ra.capacity)}
		ra.routes[tripID] = r
	}

	var added float64
	if prev, ok := r.history.last(); ok {
		d := domain.SampleDistance(prev, s)
		if ra.plausible(d, s.Timestamp.Sub(prev.Timestamp).Seconds()) {
			r.distance += d
			added = d
		} else {
			r.rejected++
		}
	}
	if s.Speed > r.maxSpeed {
		r.maxSpeed = s.Speed
	}
	r.history.push(s)
	return added
}

// plausible reports whether covering meters in seconds is physically
// possible. Without a positive interval the segment cannot be judged.
func (ra *RouteAccumulator) plausible(meters, seconds float64) bool {
	if seconds <= 0 {
		return true
	}
	return meters/seconds <= ra.maxPlausibleSpeed
}

func (ra *RouteAccumulator) Get(tripID string) (domain.RouteRecord, bool) {
	ra.mu.RLock()
	defer ra.mu.RUnlock()

	r, ok := ra.routes[tripID]
	if !ok {
		return domain.RouteRecord{}, false
	}
	return domain.RouteRecord{
		TripID:                   tripID,
		Samples:                  r.history.items(),
		CumulativeDistanceMeters: r.distance,
		MaxSpeed:                 r.maxSpeed,
		RejectedSegments:         r.rejected,
	}, true
}

func (ra *RouteAccumulator) Distance(tripID string) float64 {
	ra.mu.RLock()
	defer ra.mu.RUnlock()
	if r, ok := ra.routes[tripID]; ok {
		return r.distance
	}
	return 0
}

func (ra *RouteAccumulator) MaxSpeed(tripID string) float64 {
	ra.mu.RLock()
	defer ra.mu.RUnlock()
	if r, ok := ra.routes[tripID]; ok {
		return r.maxSpeed
	}
	return 0
}

func (ra *RouteAccumulator) TotalDistance() float64 {
	ra.mu.RLock()
	defer ra.mu.RUnlock()
	var total float64
	for _, r := range ra.routes {
		total += r.distance
	}
	return total
}

func (ra *RouteAccumulator) Remove(tripID string) {
	ra.mu.Lock()
	delete(ra.routes, tripID)
	ra.mu.Unlock()
}
