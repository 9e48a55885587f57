package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/caregem-api/pkg/logger"
)

// Cleaner drops processed outbox events older than the retention window.
type Cleaner interface {
	CleanupProcessedEvents(ctx context.Context, retention time.Duration) (int64, error)
}

type OutboxCleanupWorker struct {
	cleaner   Cleaner
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
}

func NewOutboxCleanupWorker(cleaner Cleaner, retention, interval time.Duration, logger *logger.Logger) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		cleaner:   cleaner,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.cleaner.CleanupProcessedEvents(ctx, w.retention); err != nil {
				w.logger.Error(err, "outbox cleanup failed")
			}
		}
	}
}
