package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
)

type StateStore interface {
	PipelineStateUpdate(ctx context.Context, trips []domain.TripSummary) error
	RemoveTripState(ctx context.Context, tripID string) error
	PublishSnapshot(ctx context.Context, payload []byte) error
}

// StateWriter mirrors the newest fleet snapshot into the shared state
// store. Snapshots arriving between flushes are coalesced to the latest.
type StateWriter struct {
	ch       <-chan domain.FleetSnapshot
	redis    StateStore
	log      *slog.Logger
	interval time.Duration

	pending *domain.FleetSnapshot
	written map[string]struct{}
}

func NewStateWriter(
	ch <-chan domain.FleetSnapshot,
	redis StateStore,
	log *slog.Logger,
) *StateWriter {
	return &StateWriter{
		ch:       ch,
		redis:    redis,
		log:      log,
		interval: 250 * time.Millisecond,
		written:  make(map[string]struct{}),
	}
}

func (w *StateWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-w.ch:
			if !ok {
				w.flush(context.Background())
				return
			}
			if w.pending == nil || snap.Sequence > w.pending.Sequence {
				w.pending = &snap
			}

		case <-ticker.C:
			w.flush(ctx)

		case <-ctx.Done():
			return
		}
	}
}

func (w *StateWriter) flush(ctx context.Context) {
	if w.pending == nil {
		return
	}
	snap := *w.pending
	w.pending = nil

	if err := w.redis.PipelineStateUpdate(ctx, snap.Trips); err != nil {
		metrics.StateWriteFailures.Add(1)
		w.log.Warn("state update failed",
			"action", "state_write_failed", "trips", len(snap.Trips), "error", err)
	}

	current := make(map[string]struct{}, len(snap.Trips))
	for _, t := range snap.Trips {
		current[t.TripID] = struct{}{}
	}
	for id := range w.written {
		if _, ok := current[id]; ok {
			continue
		}
		if err := w.redis.RemoveTripState(ctx, id); err != nil {
			metrics.StateWriteFailures.Add(1)
			w.log.Warn("state removal failed",
				"action", "state_remove_failed", "trip_id", id, "error", err)
			current[id] = struct{}{}
		}
	}
	w.written = current

	payload, err := json.Marshal(snap)
	if err != nil {
		w.log.Error("snapshot marshal failed", "action", "snapshot_marshal_failed", "error", err)
		return
	}
	if err := w.redis.PublishSnapshot(ctx, payload); err != nil {
		metrics.StateWriteFailures.Add(1)
		w.log.Warn("snapshot publish failed", "action", "snapshot_publish_failed", "error", err)
	}
}
