package tracking

import (
	"sort"
	"sync"
	"time"

	"fleet-monitor/tracking/internal/domain"
)

// AlertEngine keeps the deduplicated set of active alerts, keyed by
// domain.AlertID(type, trip).
type AlertEngine struct {
	mu         sync.RWMutex
	active     map[string]*domain.Alert
	rules      []domain.AlertRule
	thresholds domain.AlertThresholds
}

func NewAlertEngine(thresholds domain.AlertThresholds, rules []domain.AlertRule) *AlertEngine {
	if rules == nil {
		rules = domain.DefaultAlertRules
	}
	return &AlertEngine{
		active:     make(map[string]*domain.Alert),
		rules:      rules,
		thresholds: thresholds,
	}
}

// Evaluate runs every rule against one trip. raised holds alerts that
// were not active before this call; cleared holds alerts whose
// condition no longer holds.
func (ae *AlertEngine) Evaluate(state domain.TripState, riderName string, now time.Time) (raised, cleared []domain.Alert) {
	in := domain.RuleInput{
		State:      state,
		Now:        now,
		RiderName:  riderName,
		Thresholds: ae.thresholds,
	}

	ae.mu.Lock()
	defer ae.mu.Unlock()

	for _, rule := range ae.rules {
		id := domain.AlertID(rule.Type, state.TripID)
		if rule.Evaluator(in) {
			if a, created := ae.raiseLocked(id, rule, in); created {
				raised = append(raised, a)
			}
			continue
		}
		if a, ok := ae.active[id]; ok {
			cleared = append(cleared, *a)
			delete(ae.active, id)
		}
	}
	return raised, cleared
}

func (ae *AlertEngine) raiseLocked(id string, rule domain.AlertRule, in domain.RuleInput) (domain.Alert, bool) {
	msg := string(rule.Type)
	if rule.Message != nil {
		msg = rule.Message(in)
	}

	if a, ok := ae.active[id]; ok {
		a.RaisedAt = in.Now
		a.Message = msg
		return *a, false
	}

	a := &domain.Alert{
		ID:            id,
		Type:          rule.Type,
		Severity:      rule.Severity,
		Message:       msg,
		TripID:        in.State.TripID,
		RaisedAt:      in.Now,
		FirstRaisedAt: in.Now,
	}
	ae.active[id] = a
	return *a, true
}

// RemoveTrip drops every alert of tripID and returns them.
func (ae *AlertEngine) RemoveTrip(tripID string) []domain.Alert {
	ae.mu.Lock()
	defer ae.mu.Unlock()

	var removed []domain.Alert
	for id, a := range ae.active {
		if a.TripID == tripID {
			removed = append(removed, *a)
			delete(ae.active, id)
		}
	}
	return removed
}

// Active returns the alert list, most recently raised first.
func (ae *AlertEngine) Active() []domain.Alert {
	ae.mu.RLock()
	out := make([]domain.Alert, 0, len(ae.active))
	for _, a := range ae.active {
		out = append(out, *a)
	}
	ae.mu.RUnlock()

	sortAlerts(out)
	return out
}

func (ae *AlertEngine) ForTrip(tripID string) []domain.Alert {
	ae.mu.RLock()
	var out []domain.Alert
	for _, a := range ae.active {
		if a.TripID == tripID {
			out = append(out, *a)
		}
	}
	ae.mu.RUnlock()

	sortAlerts(out)
	return out
}

func (ae *AlertEngine) Len() int {
	ae.mu.RLock()
	defer ae.mu.RUnlock()
	return len(ae.active)
}

func sortAlerts(alerts []domain.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if !a.RaisedAt.Equal(b.RaisedAt) {
			return a.RaisedAt.After(b.RaisedAt)
		}
		if !a.FirstRaisedAt.Equal(b.FirstRaisedAt) {
			return a.FirstRaisedAt.After(b.FirstRaisedAt)
		}
		return a.ID < b.ID
	})
}
