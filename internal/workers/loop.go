package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/thrillee/aegisbulk/internal/logging"
)

const workTimeout = time.Minute

// WorkerFunc defines the function signature for work performed by a worker loop.
// It returns the number of items processed and any error encountered.
type WorkerFunc func(ctx context.Context, batchSize int) (int, error)

// RunWorkerLoop runs workerFunc every interval until ctx is done.
func RunWorkerLoop(ctx context.Context, name string, interval time.Duration, batchSize int, workerFunc WorkerFunc) {
	ctx = logging.ContextWithWorkerID(ctx, name)
	logger := slog.Default()
	logger.InfoContext(ctx, "Worker starting", slog.Duration("interval", interval), slog.Int("batch_size", batchSize))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "Worker stopping")
			return
		case <-ticker.C:
			runWork(ctx, logger, batchSize, workerFunc)
		}
	}
}

// runWork executes a single batch of work with a timeout.
func runWork(ctx context.Context, logger *slog.Logger, batchSize int, workerFunc WorkerFunc) {
	runCtx, cancel := context.WithTimeout(ctx, workTimeout)
	defer cancel()

	processed, err := workerFunc(runCtx, batchSize)
	if err != nil {
		logger.ErrorContext(ctx, "Worker run failed", slog.Int("processed", processed), slog.Any("error", err))
		return
	}
	if processed > 0 {
		logger.DebugContext(ctx, "Worker run processed items", slog.Int("processed", processed))
	}
}
