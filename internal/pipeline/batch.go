package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/shopwalk/internal/model"
)

// SessionFunc runs one complete browsing session for a query.
// It must always return a record, recording failures on it.
type SessionFunc func(ctx context.Context, query string) *model.SessionRecord

// BatchProcessor runs sessions for many queries concurrently.
//
// Design decision: Each query runs through SessionFunc rather than a shared
// pipeline, so every session gets its own browser page and its own filter
// state; nothing mutable is shared between concurrent sessions except the
// proxy registry, which synchronizes itself.
type BatchProcessor struct {
	// run executes one session.
	run SessionFunc

	// concurrency is the maximum number of concurrent sessions.
	concurrency int

	// logger is used for batch-level logging.
	logger *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent sessions.
// Default is 2 if not specified; non-positive values are ignored.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a new BatchProcessor.
func NewBatchProcessor(run SessionFunc, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		run:         run,
		concurrency: 2,
	}

	for _, opt := range opts {
		opt(bp)
	}

	if bp.logger == nil {
		bp.logger = slog.Default()
	}

	return bp
}

// ProcessBatch runs a session per query and returns the records in query
// order. Queries not started before cancellation have a nil record.
// The error is non-nil only when the context was cancelled.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, queries []string) ([]*model.SessionRecord, error) {
	results := make([]*model.SessionRecord, len(queries))

	// Each goroutine writes its own index, so no lock is needed.
	err := bp.ProcessBatchWithCallback(ctx, queries, func(record *model.SessionRecord, index int) {
		results[index] = record
	})

	return results, err
}

// ProcessBatchWithCallback runs a session per query and calls callback for
// each completed session from the goroutine that ran it. The callback must
// be safe for concurrent use if it touches shared state.
func (bp *BatchProcessor) ProcessBatchWithCallback(
	ctx context.Context,
	queries []string,
	callback func(record *model.SessionRecord, index int),
) error {
	bp.logger.Info("starting batch",
		"sessions", len(queries),
		"concurrency", bp.concurrency,
	)

	startTime := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, query := range queries {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			bp.logger.Info("starting session",
				"query", query,
				"index", i+1,
				"total", len(queries),
			)

			record := bp.run(gctx, query)
			if record == nil {
				record = model.NewSessionRecord(query)
				record.Error = "session produced no record"
			}

			if !record.Succeeded() {
				bp.logger.Warn("session failed",
					"query", query,
					"error", record.Error,
				)
			}

			callback(record, i)

			// Failures are recorded on the record; other sessions continue.
			return nil
		})
	}

	err := g.Wait()

	bp.logger.Info("batch complete",
		"sessions", len(queries),
		"elapsed", time.Since(startTime),
	)

	return err
}
