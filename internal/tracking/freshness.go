package tracking

import (
	"time"

	"fleet-monitor/tracking/internal/domain"
)

// Classify maps the time since the last received sample to a freshness
// bucket. Both windows are lower-bound inclusive for the worse state.
func Classify(lastUpdate, now time.Time, liveWindow, delayedWindow time.Duration) domain.Freshness {
	elapsed := now.Sub(lastUpdate)
	switch {
	case elapsed < liveWindow:
		return domain.FreshnessLive
	case elapsed < delayedWindow:
		return domain.FreshnessDelayed
	default:
		return domain.FreshnessOffline
	}
}
