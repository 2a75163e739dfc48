package pipeline

import (
	"context"
	"log/slog"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
)

type AlertLog interface {
	InsertAlertEvent(ctx context.Context, ev domain.AlertEvent) error
}

// AlertDedup remembers which alerts were already recorded, across
// restarts of the tracker.
type AlertDedup interface {
	CheckAlertDedup(ctx context.Context, tripID string, alertType domain.AlertType) (bool, error)
	SetAlertDedup(ctx context.Context, tripID string, alertType domain.AlertType) error
	ClearAlertDedup(ctx context.Context, tripID string, alertType domain.AlertType) error
}

type AlertSink interface {
	PublishAlert(ctx context.Context, ev domain.AlertEvent) error
}

// AlertPublisher records alert transitions and fans them out. A raise
// that was already recorded, for example before a restart, is skipped.
type AlertPublisher struct {
	ch    <-chan domain.AlertEvent
	db    AlertLog
	dedup AlertDedup
	sinks []AlertSink
	log   *slog.Logger
}

func NewAlertPublisher(
	ch <-chan domain.AlertEvent,
	db AlertLog,
	dedup AlertDedup,
	log *slog.Logger,
	sinks ...AlertSink,
) *AlertPublisher {
	return &AlertPublisher{
		ch:    ch,
		db:    db,
		dedup: dedup,
		sinks: sinks,
		log:   log,
	}
}

func (p *AlertPublisher) Run(ctx context.Context) {
	for {
		select {
		case ev, ok := <-p.ch:
			if !ok {
				return
			}
			p.handle(ctx, ev)

		case <-ctx.Done():
			return
		}
	}
}

func (p *AlertPublisher) handle(ctx context.Context, ev domain.AlertEvent) {
	a := ev.Alert

	switch ev.Transition {
	case domain.AlertTransitionRaised:
		if p.dedup != nil {
			isDuplicate, err := p.dedup.CheckAlertDedup(ctx, a.TripID, a.Type)
			if err != nil {
				p.log.Warn("alert dedup check failed",
					"action", "alert_dedup_failed", "trip_id", a.TripID, "alert_type", string(a.Type), "error", err)
			}
			if isDuplicate {
				return
			}
		}
	case domain.AlertTransitionCleared:
		if p.dedup != nil {
			if err := p.dedup.ClearAlertDedup(ctx, a.TripID, a.Type); err != nil {
				p.log.Warn("alert dedup clear failed",
					"action", "alert_dedup_failed", "trip_id", a.TripID, "alert_type", string(a.Type), "error", err)
			}
		}
	}

	if p.db != nil {
		if err := p.db.InsertAlertEvent(ctx, ev); err != nil {
			metrics.AlertPublishFailures.Add(1)
			p.log.Warn("alert insert failed",
				"action", "alert_insert_failed", "trip_id", a.TripID, "alert_type", string(a.Type), "error", err)
			return
		}
	}

	if ev.Transition == domain.AlertTransitionRaised && p.dedup != nil {
		if err := p.dedup.SetAlertDedup(ctx, a.TripID, a.Type); err != nil {
			p.log.Warn("alert dedup set failed",
				"action", "alert_dedup_failed", "trip_id", a.TripID, "alert_type", string(a.Type), "error", err)
		}
	}

	for _, s := range p.sinks {
		if err := s.PublishAlert(ctx, ev); err != nil {
			metrics.AlertPublishFailures.Add(1)
			p.log.Warn("alert publish failed",
				"action", "alert_publish_failed", "trip_id", a.TripID, "alert_type", string(a.Type), "error", err)
		}
	}
}
