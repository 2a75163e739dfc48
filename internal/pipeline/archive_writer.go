package pipeline

import (
	"context"
	"log/slog"
	"time"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
)

type SampleArchive interface {
	BatchInsert(ctx context.Context, samples []domain.LocationSample) error
}

// ArchiveWriter batches applied samples into the location history table.
type ArchiveWriter struct {
	ch         <-chan domain.LocationSample
	db         SampleArchive
	log        *slog.Logger
	batchSize  int
	flushMS    int
	retryDelay time.Duration
}

func NewArchiveWriter(
	ch <-chan domain.LocationSample,
	db SampleArchive,
	log *slog.Logger,
	batchSize int,
	flushMS int,
) *ArchiveWriter {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushMS <= 0 {
		flushMS = 100
	}
	return &ArchiveWriter{
		ch:         ch,
		db:         db,
		log:        log,
		batchSize:  batchSize,
		flushMS:    flushMS,
		retryDelay: 500 * time.Millisecond,
	}
}

func (w *ArchiveWriter) Run(ctx context.Context) {
	batch := make([]domain.LocationSample, 0, w.batchSize)
	ticker := time.NewTicker(time.Duration(w.flushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case s, ok := <-w.ch:
			if !ok {
				if len(batch) > 0 {
					w.flush(context.Background(), batch)
				}
				return
			}
			batch = append(batch, s)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			if len(batch) > 0 {
				// ctx is already cancelled; give the final batch its own deadline.
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				w.flush(flushCtx, batch)
				cancel()
			}
			return
		}
	}
}

func (w *ArchiveWriter) flush(ctx context.Context, batch []domain.LocationSample) {
	err := w.db.BatchInsert(ctx, batch)
	if err != nil {
		w.log.Warn("archive write failed, retrying",
			"action", "archive_write_retry", "batch", len(batch), "error", err)
		time.Sleep(w.retryDelay)
		err = w.db.BatchInsert(ctx, batch)
		if err != nil {
			w.log.Error("archive write permanently failed",
				"action", "archive_write_failed", "batch", len(batch), "error", err)
			metrics.ArchiveWriteFailures.Add(int64(len(batch)))
			return
		}
	}
	metrics.ArchiveWriteSuccess.Add(int64(len(batch)))
}
