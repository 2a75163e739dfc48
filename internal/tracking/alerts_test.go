package tracking

import (
	"testing"
	"time"

	"fleet-monitor/tracking/internal/domain"
)

func stateAt(tripID string, received time.Duration, f domain.Freshness) domain.TripState {
	return domain.TripState{
		TripID:         tripID,
		Latest:         sampleAt(tripID, received, 1, 1, 3),
		IsMoving:       true,
		Freshness:      f,
		LastReceivedAt: t0.Add(received),
	}
}

func TestAlertEngineDeduplicates(t *testing.T) {
	ae := NewAlertEngine(DefaultConfig().alertThresholds(), nil)

	st := stateAt("A", 0, domain.FreshnessLive)
	st.Latest.BatteryLevel = battery(15)

	raised, _ := ae.Evaluate(st, "Ana", t0)
	if len(raised) != 1 || raised[0].Type != domain.AlertLowBattery {
		t.Fatalf("raised = %+v, want one LowBattery", raised)
	}

	st.Latest.BatteryLevel = battery(12)
	raised, cleared := ae.Evaluate(st, "Ana", t0.Add(time.Minute))
	if len(raised) != 0 || len(cleared) != 0 {
		t.Errorf("re-raise reported raised=%v cleared=%v", raised, cleared)
	}

	active := ae.Active()
	if len(active) != 1 {
		t.Fatalf("active = %d alerts, want 1", len(active))
	}
	a := active[0]
	if !a.RaisedAt.Equal(t0.Add(time.Minute)) || !a.FirstRaisedAt.Equal(t0) {
		t.Errorf("raised=%v first=%v", a.RaisedAt, a.FirstRaisedAt)
	}
	if a.ID != domain.AlertID(domain.AlertLowBattery, "A") {
		t.Errorf("alert id %q is not the stable id", a.ID)
	}
	if a.Message != "Ana's vehicle battery is low (12%)" {
		t.Errorf("message = %q", a.Message)
	}

	st.Latest.BatteryLevel = battery(80)
	_, cleared = ae.Evaluate(st, "Ana", t0.Add(2*time.Minute))
	if len(cleared) != 1 || ae.Len() != 0 {
		t.Errorf("battery recovery cleared %d, %d remain", len(cleared), ae.Len())
	}
}

func TestAlertEngineOffline(t *testing.T) {
	ae := NewAlertEngine(DefaultConfig().alertThresholds(), nil)

	st := stateAt("A", 0, domain.FreshnessDelayed)
	if raised, _ := ae.Evaluate(st, "Ana", t0.Add(119*time.Second)); len(raised) != 0 {
		t.Errorf("delayed trip raised %+v", raised)
	}

	st.Freshness = domain.FreshnessOffline
	raised, _ := ae.Evaluate(st, "Ana", t0.Add(300*time.Second))
	if len(raised) != 1 || raised[0].Type != domain.AlertOffline || raised[0].Severity != domain.SeverityCritical {
		t.Fatalf("raised = %+v, want one critical Offline", raised)
	}
	if raised[0].Message != "Ana has been offline for 5m0s" {
		t.Errorf("message = %q", raised[0].Message)
	}
}

func TestAlertEngineStationary(t *testing.T) {
	ae := NewAlertEngine(DefaultConfig().alertThresholds(), nil)

	st := stateAt("A", 0, domain.FreshnessLive)
	st.IsMoving = false
	st.StationarySince = t0

	if raised, _ := ae.Evaluate(st, "Ana", t0.Add(600*time.Second)); len(raised) != 0 {
		t.Errorf("stationary raised at exactly the window")
	}
	raised, _ := ae.Evaluate(st, "Ana", t0.Add(601*time.Second))
	if len(raised) != 1 || raised[0].Type != domain.AlertStationary {
		t.Fatalf("raised = %+v, want Stationary", raised)
	}

	st.Freshness = domain.FreshnessOffline
	_, cleared := ae.Evaluate(st, "Ana", t0.Add(700*time.Second))
	if len(cleared) != 1 || cleared[0].Type != domain.AlertStationary {
		t.Errorf("going offline should clear Stationary, cleared %+v", cleared)
	}
}

func TestAlertEngineOrderingAndRemoval(t *testing.T) {
	ae := NewAlertEngine(DefaultConfig().alertThresholds(), nil)

	for i, id := range []string{"A", "B", "C"} {
		st := stateAt(id, 0, domain.FreshnessLive)
		st.Latest.BatteryLevel = battery(5)
		ae.Evaluate(st, "", t0.Add(time.Duration(i)*time.Second))
	}

	active := ae.Active()
	if len(active) != 3 || active[0].TripID != "C" || active[2].TripID != "A" {
		t.Errorf("active not newest first: %+v", active)
	}

	removed := ae.RemoveTrip("B")
	if len(removed) != 1 || removed[0].TripID != "B" {
		t.Errorf("RemoveTrip(B) = %+v", removed)
	}
	if len(ae.ForTrip("B")) != 0 || len(ae.ForTrip("A")) != 1 {
		t.Errorf("ForTrip after removal wrong")
	}
}

func TestAlertEngineCustomRules(t *testing.T) {
	always := domain.AlertRule{
		Type:      domain.AlertType("TEST"),
		Severity:  domain.SeverityInfo,
		Evaluator: func(domain.RuleInput) bool { return true },
	}
	ae := NewAlertEngine(DefaultConfig().alertThresholds(), []domain.AlertRule{always})

	raised, _ := ae.Evaluate(stateAt("A", 0, domain.FreshnessOffline), "", t0.Add(time.Hour))
	if len(raised) != 1 || raised[0].Message != "TEST" {
		t.Errorf("custom rule raised %+v", raised)
	}
}
