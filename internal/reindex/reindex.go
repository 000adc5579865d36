// Package reindex rebuilds the search index from the annotation store
// without downtime. A new index is built next to the live one; while it is
// being built its name is published in the settings store so that live
// writes reach both indexes. Once complete the alias is switched to it.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/renderinc/annotation-search/internal/metrics"
	"github.com/renderinc/annotation-search/internal/search"
	"go.uber.org/zap"
)

var (
	// ErrReindexInProgress is returned when another reindex holds the setting
	ErrReindexInProgress = errors.New("reindex already in progress")

	// ErrNoReindex is returned when aborting while no reindex runs
	ErrNoReindex = errors.New("no reindex in progress")
)

// IDLister lists every annotation id in the store
type IDLister interface {
	AllAnnotationIDs(ctx context.Context) ([]string, error)
}

// Indexes manages concrete indexes and the alias serving queries
type Indexes interface {
	Alias() string
	CreateIndex(name string) error
	DropIndex(name string) error
	PointAlias(name string) (string, error)
}

// ShadowSettings publishes the index a reindex is building
type ShadowSettings interface {
	ActiveShadowTarget(ctx context.Context) (string, bool, error)
	BeginShadowTarget(ctx context.Context, name string) (bool, error)
	EndShadowTarget(ctx context.Context) error
}

// BulkIndexer indexes annotations by id and returns the ids it gave up on
type BulkIndexer interface {
	Index(ctx context.Context, ids []string, target string) ([]string, error)
}

// Session summarizes a finished reindex
type Session struct {
	Target    string
	Previous  string
	Processed int
	Failed    []string
	Duration  time.Duration
}

// Reindexer runs full rebuilds
type Reindexer struct {
	store    IDLister
	indexes  Indexes
	settings ShadowSettings
	bulk     BulkIndexer
	logger   *zap.Logger
}

// New creates a Reindexer
func New(store IDLister, indexes Indexes, settings ShadowSettings, bulk BulkIndexer, logger *zap.Logger) *Reindexer {
	return &Reindexer{
		store:    store,
		indexes:  indexes,
		settings: settings,
		bulk:     bulk,
		logger:   logger,
	}
}

// Run builds a new index from every stored annotation and promotes it.
// The shadow setting is cleared when Run returns, whatever the outcome.
func (r *Reindexer) Run(ctx context.Context) (*Session, error) {
	started := time.Now()
	target := search.NewIndexName(r.indexes.Alias())

	if err := r.indexes.CreateIndex(target); err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}

	began, err := r.settings.BeginShadowTarget(ctx, target)
	if err != nil || !began {
		r.discard(target)
		if err != nil {
			return nil, err
		}
		return nil, ErrReindexInProgress
	}

	metrics.ReindexActive.Set(1)
	defer metrics.ReindexActive.Set(0)

	// live writes stop going to target before an unpromoted target is dropped
	promoted := false
	defer func() {
		if err := r.settings.EndShadowTarget(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error("could not clear reindex setting", zap.String("target", target), zap.Error(err))
		}
		if !promoted {
			r.discard(target)
		}
	}()

	r.logger.Info("reindex started", zap.String("target", target))

	ids, err := r.store.AllAnnotationIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}

	failed, err := r.bulk.Index(ctx, ids, target)
	if err != nil {
		return nil, fmt.Errorf("bulk index: %w", err)
	}
	if len(failed) > 0 {
		r.logger.Warn("failed to reindex annotations",
			zap.String("target", target),
			zap.Strings("failed_ids", failed))
	}

	previous, err := r.indexes.PointAlias(target)
	if err != nil {
		return nil, fmt.Errorf("point alias: %w", err)
	}
	promoted = true

	if previous != "" {
		if err := r.indexes.DropIndex(previous); err != nil {
			r.logger.Warn("could not drop previous index", zap.String("index", previous), zap.Error(err))
		}
	}

	session := &Session{
		Target:    target,
		Previous:  previous,
		Processed: len(ids),
		Failed:    failed,
		Duration:  time.Since(started),
	}

	r.logger.Info("reindex complete",
		zap.String("target", target),
		zap.String("previous", previous),
		zap.Int("annotations", session.Processed),
		zap.Int("failed", len(failed)),
		zap.Duration("duration", session.Duration))

	return session, nil
}

// discard drops a half-built index
func (r *Reindexer) discard(target string) {
	if err := r.indexes.DropIndex(target); err != nil {
		r.logger.Warn("could not drop abandoned index", zap.String("target", target), zap.Error(err))
	}
}

// Status returns the index a running reindex is building, if any
func (r *Reindexer) Status(ctx context.Context) (string, bool, error) {
	return r.settings.ActiveShadowTarget(ctx)
}

// Abort stops mirroring writes to the shadow index and deletes it. It is
// meant for a reindex whose process died without clearing the setting.
func (r *Reindexer) Abort(ctx context.Context) (string, error) {
	target, ok, err := r.settings.ActiveShadowTarget(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoReindex
	}

	if err := r.settings.EndShadowTarget(ctx); err != nil {
		return "", err
	}
	if err := r.indexes.DropIndex(target); err != nil {
		return target, fmt.Errorf("drop index %s: %w", target, err)
	}

	r.logger.Info("reindex aborted", zap.String("target", target))
	return target, nil
}
