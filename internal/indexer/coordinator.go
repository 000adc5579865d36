// Package indexer keeps the search index in step with the annotation store.
//
// Every mutation goes to the primary index. While a reindex is building a
// replacement index, the same mutation also goes to that shadow index so the
// replacement is current when it is promoted. Whether a shadow index exists
// is read from the settings store for each write, never cached: a reindex can
// start or finish between the two halves of a single event.
package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/renderinc/annotation-search/internal/metrics"
	"github.com/renderinc/annotation-search/internal/search"
	"github.com/renderinc/annotation-search/internal/storage"
	"github.com/renderinc/annotation-search/internal/tasks"
	"go.uber.org/zap"
)

// DocumentStore is the primary data store
type DocumentStore interface {
	FetchAnnotation(ctx context.Context, id string) (*storage.Annotation, error)
	AnnotationIDsByUser(ctx context.Context, userid string) ([]string, error)
}

// SearchIndex writes single documents to a named index
type SearchIndex interface {
	Index(ctx context.Context, doc *search.Document, target string) error
	Delete(ctx context.Context, id string, target string) error
}

// BulkIndexer indexes annotations by id and returns the ids it gave up on
type BulkIndexer interface {
	Index(ctx context.Context, ids []string, target string) ([]string, error)
}

// SettingsLookup reports the index a running reindex is building
type SettingsLookup interface {
	ActiveShadowTarget(ctx context.Context) (string, bool, error)
}

// Dispatcher schedules follow-up tasks
type Dispatcher interface {
	Schedule(ctx context.Context, task tasks.Task) error
}

// Options configures a Coordinator
type Options struct {
	// PrimaryTarget names the index serving live queries
	PrimaryTarget string

	// RetryFailedBulk schedules an add_annotation task for every id a user
	// reindex could not write. When false those ids are only logged.
	RetryFailedBulk bool
}

// Coordinator applies annotation events to the primary index and, during a
// reindex, to the shadow index
type Coordinator struct {
	store    DocumentStore
	index    SearchIndex
	bulk     BulkIndexer
	settings SettingsLookup
	tasks    Dispatcher
	logger   *zap.Logger
	opts     Options
}

// NewCoordinator creates a coordinator from its collaborators
func NewCoordinator(
	store DocumentStore,
	index SearchIndex,
	bulk BulkIndexer,
	settings SettingsLookup,
	dispatcher Dispatcher,
	logger *zap.Logger,
	opts Options,
) *Coordinator {
	return &Coordinator{
		store:    store,
		index:    index,
		bulk:     bulk,
		settings: settings,
		tasks:    dispatcher,
		logger:   logger,
		opts:     opts,
	}
}

// Handlers returns the task handlers to register with the dispatcher
func (c *Coordinator) Handlers() map[string]tasks.Handler {
	return map[string]tasks.Handler{
		TaskAddAnnotation:          c.AddAnnotation,
		TaskDeleteAnnotation:       c.DeleteAnnotation,
		TaskReindexUserAnnotations: c.ReindexUserAnnotations,
	}
}

// Apply handles an event synchronously
func (c *Coordinator) Apply(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case Created, Updated:
		return c.AddAnnotation(ctx, ev.ID)
	case Deleted:
		return c.DeleteAnnotation(ctx, ev.ID)
	default:
		return fmt.Errorf("apply event %s: unknown kind %q", ev.ID, ev.Kind)
	}
}

// AddAnnotation indexes the stored state of an annotation. A missing
// annotation is not an error: it may have been deleted since the event.
// Replies also schedule a reindex of their thread root, whose document
// carries the thread's reply count.
func (c *Coordinator) AddAnnotation(ctx context.Context, id string) error {
	a, err := c.store.FetchAnnotation(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch annotation %s: %w", id, err)
	}
	if a == nil {
		c.logger.Debug("annotation not found, skipping index", zap.String("id", id))
		return nil
	}

	doc := search.NewDocument(a)
	write := func(target string) error {
		return c.index.Index(ctx, doc, target)
	}

	if err := c.writeBoth(ctx, "index", id, write); err != nil {
		return err
	}

	if a.IsReply() {
		root := tasks.Task{Name: TaskAddAnnotation, Arg: a.ThreadRootID()}
		if err := c.tasks.Schedule(ctx, root); err != nil {
			return fmt.Errorf("schedule thread root %s: %w", root.Arg, err)
		}
	}

	return nil
}

// DeleteAnnotation removes an annotation from the index. Deleting an id
// that is not indexed succeeds, so the operation is idempotent.
func (c *Coordinator) DeleteAnnotation(ctx context.Context, id string) error {
	remove := func(target string) error {
		return c.index.Delete(ctx, id, target)
	}
	return c.writeBoth(ctx, "delete", id, remove)
}

// writeBoth applies write to the primary target and then, if a reindex is
// running, to its shadow target. The shadow write is attempted even when
// the primary write failed. Only a primary failure or a failed settings
// lookup is returned; a shadow failure is logged, since the running reindex
// rewrites every document anyway.
func (c *Coordinator) writeBoth(ctx context.Context, op, id string, write func(target string) error) error {
	var primaryErr error
	if err := write(c.opts.PrimaryTarget); err != nil {
		primaryErr = &IndexWriteError{Op: op, Target: c.opts.PrimaryTarget, ID: id, Err: err}
		c.logger.Error("primary index write failed",
			zap.String("op", op),
			zap.String("target", c.opts.PrimaryTarget),
			zap.String("id", id),
			zap.Error(err))
	}
	metrics.IndexWritesTotal.WithLabelValues(op, metrics.RolePrimary, metrics.Result(primaryErr)).Inc()

	shadow, active, err := c.settings.ActiveShadowTarget(ctx)
	if err != nil {
		return errors.Join(primaryErr, fmt.Errorf("%w: %w", ErrSettingsLookup, err))
	}

	if active {
		err := write(shadow)
		if err != nil {
			c.logger.Warn("shadow index write failed",
				zap.String("op", op),
				zap.String("target", shadow),
				zap.String("id", id),
				zap.Error(err))
		}
		metrics.IndexWritesTotal.WithLabelValues(op, metrics.RoleShadow, metrics.Result(err)).Inc()
	}

	return primaryErr
}

// ReindexUserAnnotations rewrites every annotation owned by userid into the
// primary index. Ids the bulk indexer cannot write are logged and, when
// RetryFailedBulk is set, rescheduled one by one; they never fail the task.
func (c *Coordinator) ReindexUserAnnotations(ctx context.Context, userid string) error {
	ids, err := c.store.AnnotationIDsByUser(ctx, userid)
	if err != nil {
		return fmt.Errorf("list annotations of %s: %w", userid, err)
	}

	failed, err := c.bulk.Index(ctx, ids, c.opts.PrimaryTarget)
	if err != nil {
		return fmt.Errorf("bulk index annotations of %s: %w", userid, err)
	}

	c.logger.Info("reindexed user annotations",
		zap.String("userid", userid),
		zap.Int("annotations", len(ids)),
		zap.Int("failed", len(failed)))

	if len(failed) == 0 {
		return nil
	}

	c.logger.Warn("failed to reindex annotations",
		zap.String("userid", userid),
		zap.String("target", c.opts.PrimaryTarget),
		zap.Strings("failed_ids", failed))

	if c.opts.RetryFailedBulk {
		for _, id := range failed {
			if err := c.tasks.Schedule(ctx, tasks.Task{Name: TaskAddAnnotation, Arg: id}); err != nil {
				c.logger.Warn("could not reschedule failed annotation", zap.String("id", id), zap.Error(err))
			}
		}
	}

	return nil
}
