package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/renderinc/annotation-search/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is a unit of background work addressed to a registered handler
type Task struct {
	Name    string
	Arg     string
	Attempt int
}

func (t Task) String() string {
	return fmt.Sprintf("%s(%s)", t.Name, t.Arg)
}

// Handler executes a task. Returning an error asks the queue to retry it.
type Handler func(ctx context.Context, arg string) error

// Config configures a Queue
type Config struct {
	// Workers is the number of concurrent handlers (default: 4)
	Workers int

	// MaxAttempts bounds how often a failing task runs (default: 5)
	MaxAttempts int

	// RetryDelay is the first backoff delay, doubled on each attempt
	RetryDelay time.Duration
}

// Queue is an in-process, unbounded task queue served by a worker pool.
// Delivery is at-least-once and tasks are not ordered relative to each other.
type Queue struct {
	config   Config
	logger   *zap.Logger
	handlers map[string]Handler

	mu      sync.Mutex
	items   []Task
	pending int // queued, running or waiting for a retry
	idle    []chan struct{}
	notify  chan struct{}
}

// NewQueue creates an empty queue
func NewQueue(config Config, logger *zap.Logger) *Queue {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	return &Queue{
		config:   config,
		logger:   logger,
		handlers: map[string]Handler{},
		notify:   make(chan struct{}, 1),
	}
}

// Register binds a handler to a task name. It must be called before Run.
func (q *Queue) Register(name string, h Handler) {
	q.handlers[name] = h
}

// Schedule enqueues a task. It never blocks on a busy pool.
func (q *Queue) Schedule(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	q.pending++
	q.mu.Unlock()

	q.push(task)
	return nil
}

func (q *Queue) push(task Task) {
	q.mu.Lock()
	q.items = append(q.items, task)
	metrics.TaskQueueDepth.Set(float64(len(q.items)))
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Task{}, false
	}
	task := q.items[0]
	q.items = q.items[1:]
	metrics.TaskQueueDepth.Set(float64(len(q.items)))

	// wake another worker if more work remains
	if len(q.items) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return task, true
}

// done marks one task as finished for good
func (q *Queue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending--
	if q.pending == 0 {
		for _, ch := range q.idle {
			close(ch)
		}
		q.idle = nil
	}
}

// Pending returns the number of tasks that have not finished
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Drain blocks until every scheduled task, including follow-ups and
// retries, has finished
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.pending == 0 {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.idle = append(q.idle, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run serves the queue until ctx is cancelled
func (q *Queue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for range q.config.Workers {
		g.Go(func() error {
			q.worker(ctx)
			return nil
		})
	}

	return g.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	for {
		task, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.notify:
				continue
			}
		}
		q.execute(ctx, task)
	}
}

func (q *Queue) execute(ctx context.Context, task Task) {
	h, ok := q.handlers[task.Name]
	if !ok {
		q.logger.Error("dropping task with no handler", zap.String("task", task.Name), zap.String("arg", task.Arg))
		metrics.TasksTotal.WithLabelValues(task.Name, "unknown").Inc()
		q.done()
		return
	}

	started := time.Now()
	err := h(ctx, task.Arg)
	metrics.TaskDuration.WithLabelValues(task.Name).Observe(time.Since(started).Seconds())

	if err == nil {
		metrics.TasksTotal.WithLabelValues(task.Name, "ok").Inc()
		q.done()
		return
	}

	task.Attempt++
	if task.Attempt >= q.config.MaxAttempts || ctx.Err() != nil {
		q.logger.Error("task failed",
			zap.String("task", task.Name),
			zap.String("arg", task.Arg),
			zap.Int("attempts", task.Attempt),
			zap.Error(err))
		metrics.TasksTotal.WithLabelValues(task.Name, "failed").Inc()
		q.done()
		return
	}

	delay := q.config.RetryDelay << (task.Attempt - 1)
	q.logger.Warn("task failed, retrying",
		zap.String("task", task.Name),
		zap.String("arg", task.Arg),
		zap.Int("attempt", task.Attempt),
		zap.Duration("delay", delay),
		zap.Error(err))
	metrics.TasksTotal.WithLabelValues(task.Name, "retry").Inc()

	time.AfterFunc(delay, func() { q.push(task) })
}
