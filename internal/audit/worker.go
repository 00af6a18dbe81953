package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Worker drains the outbox to the publisher. Rows are only marked published
// after a successful produce, so delivery is at-least-once; consumers
// deduplicate on event ID.
type Worker struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

func NewWorker(store Store, publisher Publisher, logger *slog.Logger, pollEvery time.Duration, batchSize int) *Worker {
	if pollEvery <= 0 {
		pollEvery = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Worker{
		store:     store,
		publisher: publisher,
		logger:    logger,
		pollEvery: pollEvery,
		batchSize: batchSize,
	}
}

// Run polls until ctx is cancelled. Publish failures are logged and retried
// on the next tick; they never stop the worker.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drainOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

func (w *Worker) drainOnce(ctx context.Context) error {
	batch, err := w.store.UnpublishedBatch(ctx, w.batchSize)
	if err != nil {
		return err
	}

	var published []uuid.UUID
	for _, row := range batch {
		if err := w.publisher.Publish(ctx, row); err != nil {
			// Stop at the first failure to preserve per-aggregate order.
			w.logger.WarnContext(ctx, "audit publish failed, will retry",
				"event_id", row.ID, "error", err)
			break
		}
		published = append(published, row.ID)
	}

	if len(published) == 0 {
		return nil
	}
	return w.store.MarkPublished(ctx, published)
}
