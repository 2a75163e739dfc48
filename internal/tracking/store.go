package tracking

import (
	"sort"
	"sync"
	"time"

	"fleet-monitor/tracking/internal/domain"
)

// LocationStore is the single owner of per-trip state.
type LocationStore struct {
	mu              sync.RWMutex
	trips           map[string]*domain.TripState
	movingThreshold float64
	liveWindow      time.Duration
	delayedWindow   time.Duration
}

func NewLocationStore(cfg Config) *LocationStore {
	cfg = cfg.withDefaults()
	return &LocationStore{
		trips:           make(map[string]*domain.TripState),
		movingThreshold: cfg.MovingThreshold,
		liveWindow:      cfg.LiveWindow,
		delayedWindow:   cfg.DelayedWindow,
	}
}

// Apply stores s as the latest sample for its trip. It returns false when
// s is not newer than what is already stored.
func (st *LocationStore) Apply(s domain.LocationSample) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	cur, ok := st.trips[s.TripID]
	if ok && !s.Timestamp.After(cur.Latest.Timestamp) {
		return false
	}
	if !ok {
		cur = &domain.TripState{TripID: s.TripID}
		st.trips[s.TripID] = cur
	}

	moving := s.Speed > st.movingThreshold
	switch {
	case moving:
		cur.StationarySince = time.Time{}
	case cur.StationarySince.IsZero():
		cur.StationarySince = s.ReceivedAt
	}

	cur.Latest = s
	cur.IsMoving = moving
	cur.LastReceivedAt = s.ReceivedAt
	cur.Freshness = Classify(s.ReceivedAt, s.ReceivedAt, st.liveWindow, st.delayedWindow)
	return true
}

// Reclassify recomputes freshness for every trip and returns the IDs
// whose bucket changed.
func (st *LocationStore) Reclassify(now time.Time) []string {
	st.mu.Lock()
	defer st.mu.Unlock()

	var changed []string
	for id, s := range st.trips {
		f := Classify(s.LastReceivedAt, now, st.liveWindow, st.delayedWindow)
		if f != s.Freshness {
			s.Freshness = f
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}

func (st *LocationStore) Get(tripID string) (domain.TripState, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.trips[tripID]
	if !ok {
		return domain.TripState{}, false
	}
	return *s, true
}

// All returns a copy of every trip state ordered by trip ID.
func (st *LocationStore) All() []domain.TripState {
	st.mu.RLock()
	out := make([]domain.TripState, 0, len(st.trips))
	for _, s := range st.trips {
		out = append(out, *s)
	}
	st.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TripID < out[j].TripID })
	return out
}

func (st *LocationStore) Remove(tripID string) {
	st.mu.Lock()
	delete(st.trips, tripID)
	st.mu.Unlock()
}

func (st *LocationStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.trips)
}
