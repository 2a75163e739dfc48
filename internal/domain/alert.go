package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

type AlertType string

const (
	AlertOffline    AlertType = "OFFLINE"
	AlertLowBattery AlertType = "LOW_BATTERY"
	AlertStationary AlertType = "STATIONARY"
)

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

type Alert struct {
	ID            string        `json:"id"`
	Type          AlertType     `json:"type"`
	Severity      AlertSeverity `json:"severity"`
	Message       string        `json:"message"`
	TripID        string        `json:"trip_id"`
	RaisedAt      time.Time     `json:"raised_at"`
	FirstRaisedAt time.Time     `json:"first_raised_at"`
}

// AlertID is stable for a (type, trip) pair so re-raising never duplicates.
func AlertID(t AlertType, tripID string) string {
	return strconv.FormatUint(xxhash.Sum64String(string(t)+"|"+tripID), 16)
}

type AlertThresholds struct {
	OfflineAlertWindow  time.Duration
	StationaryWindow    time.Duration
	LowBatteryThreshold float64
}

// RuleInput is everything a rule may look at for one trip at one instant.
type RuleInput struct {
	State      TripState
	Now        time.Time
	RiderName  string
	Thresholds AlertThresholds
}

func (in RuleInput) sinceLastUpdate() time.Duration {
	return in.Now.Sub(in.State.LastReceivedAt)
}

type AlertRule struct {
	Type      AlertType
	Severity  AlertSeverity
	Evaluator func(in RuleInput) bool
	Message   func(in RuleInput) string
}

var DefaultAlertRules = []AlertRule{
	{
		Type:     AlertOffline,
		Severity: SeverityCritical,
		Evaluator: func(in RuleInput) bool {
			return in.State.Freshness == FreshnessOffline &&
				in.sinceLastUpdate() >= in.Thresholds.OfflineAlertWindow
		},
		Message: func(in RuleInput) string {
			return fmt.Sprintf("%s has been offline for %s", in.RiderName, roundDuration(in.sinceLastUpdate()))
		},
	},
	{
		Type:     AlertLowBattery,
		Severity: SeverityWarning,
		Evaluator: func(in RuleInput) bool {
			b := in.State.Latest.BatteryLevel
			return b != nil && *b < in.Thresholds.LowBatteryThreshold
		},
		Message: func(in RuleInput) string {
			return fmt.Sprintf("%s's vehicle battery is low (%.0f%%)", in.RiderName, *in.State.Latest.BatteryLevel)
		},
	},
	{
		Type:     AlertStationary,
		Severity: SeverityWarning,
		Evaluator: func(in RuleInput) bool {
			s := in.State
			if s.IsMoving || s.StationarySince.IsZero() || s.Freshness == FreshnessOffline {
				return false
			}
			return in.Now.Sub(s.StationarySince) > in.Thresholds.StationaryWindow
		},
		Message: func(in RuleInput) string {
			return fmt.Sprintf("%s has been stationary for %s", in.RiderName, roundDuration(in.Now.Sub(in.State.StationarySince)))
		},
	},
}

func roundDuration(d time.Duration) time.Duration {
	if d >= time.Minute {
		return d.Round(time.Minute)
	}
	return d.Round(time.Second)
}

type AlertTransition string

const (
	AlertTransitionRaised  AlertTransition = "raised"
	AlertTransitionCleared AlertTransition = "cleared"
)

// AlertEvent is an alert state change as persisted and published.
type AlertEvent struct {
	Transition AlertTransition `json:"transition"`
	Alert      Alert           `json:"alert"`
	At         time.Time       `json:"at"`
}
