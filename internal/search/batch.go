package search

import (
	"context"
	"fmt"
	"time"

	"github.com/renderinc/annotation-search/internal/metrics"
	"github.com/renderinc/annotation-search/internal/storage"
	"go.uber.org/zap"
)

// Default batch indexer configuration values.
const (
	BatchIndexerDefaultBatchSize   = 100
	BatchIndexerDefaultMaxAttempts = 3
	BatchIndexerDefaultRetryDelay  = 200 * time.Millisecond
)

// Fetcher loads annotations by id. Missing ids are left out of the result.
type Fetcher interface {
	FetchAnnotations(ctx context.Context, ids []string) ([]*storage.Annotation, error)
}

// BatchWriter writes documents into a named index
type BatchWriter interface {
	Index(ctx context.Context, doc *Document, target string) error
	IndexBatch(ctx context.Context, docs []*Document, target string) error
}

// BatchProgressFunc is called after every batch with the number of ids handled so far
type BatchProgressFunc func(done, total int)

// BatchIndexerConfig configures the batch indexer.
type BatchIndexerConfig struct {
	// BatchSize is the number of annotations per batch (default: 100)
	BatchSize int

	// MaxAttempts bounds the per-document retries after a failed batch (default: 3)
	MaxAttempts int

	// RetryDelay is the first backoff delay, doubled on each attempt
	RetryDelay time.Duration

	// Progress is called with progress updates during indexing
	Progress BatchProgressFunc
}

// BatchIndexer indexes many annotations by id, reporting the ids it could
// not write.
type BatchIndexer struct {
	config  BatchIndexerConfig
	fetcher Fetcher
	writer  BatchWriter
	logger  *zap.Logger
}

// NewBatchIndexer creates a new batch indexer
func NewBatchIndexer(config BatchIndexerConfig, fetcher Fetcher, writer BatchWriter, logger *zap.Logger) *BatchIndexer {
	if config.BatchSize <= 0 {
		config.BatchSize = BatchIndexerDefaultBatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = BatchIndexerDefaultMaxAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = BatchIndexerDefaultRetryDelay
	}
	return &BatchIndexer{
		config:  config,
		fetcher: fetcher,
		writer:  writer,
		logger:  logger,
	}
}

// WithProgress returns a copy of the indexer reporting progress to fn
func (b *BatchIndexer) WithProgress(fn BatchProgressFunc) *BatchIndexer {
	cp := *b
	cp.config.Progress = fn
	return &cp
}

// Index writes the annotations with the given ids into target. A store
// error aborts the run; a write error only marks the affected ids as failed
// once their retries are exhausted.
func (b *BatchIndexer) Index(ctx context.Context, ids []string, target string) ([]string, error) {
	var failed []string

	for start := 0; start < len(ids); start += b.config.BatchSize {
		end := min(start+b.config.BatchSize, len(ids))

		annotations, err := b.fetcher.FetchAnnotations(ctx, ids[start:end])
		if err != nil {
			return failed, fmt.Errorf("fetch annotations: %w", err)
		}

		docs := make([]*Document, 0, len(annotations))
		for _, a := range annotations {
			docs = append(docs, NewDocument(a))
		}

		failed = append(failed, b.writeBatch(ctx, docs, target)...)

		if b.config.Progress != nil {
			b.config.Progress(end, len(ids))
		}
		if err := ctx.Err(); err != nil {
			return failed, err
		}
	}

	return failed, nil
}

// writeBatch commits docs as one batch, falling back to per-document
// retries when the batch fails
func (b *BatchIndexer) writeBatch(ctx context.Context, docs []*Document, target string) []string {
	if len(docs) == 0 {
		return nil
	}

	started := time.Now()
	err := b.writer.IndexBatch(ctx, docs, target)
	metrics.BulkBatchDuration.Observe(time.Since(started).Seconds())
	if err == nil {
		metrics.BulkDocumentsTotal.WithLabelValues("ok").Add(float64(len(docs)))
		return nil
	}

	b.logger.Warn("batch commit failed, retrying documents individually",
		zap.String("target", target),
		zap.Int("documents", len(docs)),
		zap.Error(err))

	var failed []string
	for _, doc := range docs {
		if err := b.indexWithRetry(ctx, doc, target); err != nil {
			b.logger.Debug("document failed after retries",
				zap.String("target", target),
				zap.String("id", doc.ID),
				zap.Error(err))
			metrics.BulkDocumentsTotal.WithLabelValues("failed").Inc()
			failed = append(failed, doc.ID)
			continue
		}
		metrics.BulkDocumentsTotal.WithLabelValues("ok").Inc()
	}
	return failed
}

func (b *BatchIndexer) indexWithRetry(ctx context.Context, doc *Document, target string) error {
	var lastErr error
	delay := b.config.RetryDelay

	for attempt := 0; attempt < b.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if lastErr = b.writer.Index(ctx, doc, target); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
