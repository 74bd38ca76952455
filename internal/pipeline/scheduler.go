package pipeline

// scheduler.go runs background jobs on a fixed interval. The serve command
// uses it to download fresh archives and start an extraction periodically.
//
// A failing job is logged and retried at the next tick; it never stops the
// schedule. The loop exits when its context is cancelled.

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/propertysales/internal/logging"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Schedule runs job once immediately, then every interval, until ctx is
// cancelled. It blocks; start it in its own goroutine.
func Schedule(ctx context.Context, name string, interval time.Duration, job Job, logger *slog.Logger) {
	logger = logging.OrDefault(logger).With("job", name)
	logger.Info("scheduler started", "interval", interval)

	runJob(ctx, job, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			runJob(ctx, job, logger)
		}
	}
}

func runJob(ctx context.Context, job Job, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := job(ctx); err != nil {
		logger.Error("scheduled job failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	logger.Info("scheduled job completed", "duration_ms", time.Since(start).Milliseconds())
}
