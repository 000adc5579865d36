package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/renderinc/annotation-search/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func drain(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
}

func newTestQueue() *Queue {
	return NewQueue(Config{Workers: 3, MaxAttempts: 3, RetryDelay: time.Millisecond}, logging.DiscardLogger())
}

func TestQueue_RunsEveryTask(t *testing.T) {
	q := newTestQueue()

	var mu sync.Mutex
	seen := map[string]int{}
	q.Register("record", func(ctx context.Context, arg string) error {
		mu.Lock()
		seen[arg]++
		mu.Unlock()
		return nil
	})
	startQueue(t, q)

	for _, arg := range []string{"a1", "a2", "a3", "a4", "a5", "a6"} {
		require.NoError(t, q.Schedule(context.Background(), Task{Name: "record", Arg: arg}))
	}
	drain(t, q)

	assert.Len(t, seen, 6)
	for arg, n := range seen {
		assert.Equal(t, 1, n, arg)
	}
	assert.Equal(t, 0, q.Pending())
}

func TestQueue_FollowUpsAreDrained(t *testing.T) {
	q := newTestQueue()

	var roots atomic.Int32
	q.Register("reply", func(ctx context.Context, arg string) error {
		return q.Schedule(ctx, Task{Name: "root", Arg: "root-of-" + arg})
	})
	q.Register("root", func(ctx context.Context, arg string) error {
		roots.Add(1)
		return nil
	})
	startQueue(t, q)

	require.NoError(t, q.Schedule(context.Background(), Task{Name: "reply", Arg: "a2"}))
	drain(t, q)

	assert.Equal(t, int32(1), roots.Load())
}

func TestQueue_RetriesUntilSuccess(t *testing.T) {
	q := newTestQueue()

	var calls atomic.Int32
	q.Register("flaky", func(ctx context.Context, arg string) error {
		if calls.Add(1) < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	startQueue(t, q)

	require.NoError(t, q.Schedule(context.Background(), Task{Name: "flaky", Arg: "a1"}))
	drain(t, q)

	assert.Equal(t, int32(3), calls.Load())
}

func TestQueue_GivesUpAfterMaxAttempts(t *testing.T) {
	q := newTestQueue()

	var calls atomic.Int32
	q.Register("broken", func(ctx context.Context, arg string) error {
		calls.Add(1)
		return errors.New("mapping failure")
	})
	startQueue(t, q)

	require.NoError(t, q.Schedule(context.Background(), Task{Name: "broken", Arg: "a1"}))
	drain(t, q)

	assert.Equal(t, int32(3), calls.Load())
}

func TestQueue_UnknownTaskIsDropped(t *testing.T) {
	q := newTestQueue()
	startQueue(t, q)

	require.NoError(t, q.Schedule(context.Background(), Task{Name: "nope"}))
	drain(t, q)
	assert.Equal(t, 0, q.Pending())
}

func TestQueue_DrainEmpty(t *testing.T) {
	q := newTestQueue()
	assert.NoError(t, q.Drain(context.Background()))
}

func TestQueue_DrainHonoursContext(t *testing.T) {
	q := newTestQueue()
	q.Register("noop", func(ctx context.Context, arg string) error { return nil })
	// not running: the task stays pending
	require.NoError(t, q.Schedule(context.Background(), Task{Name: "noop"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Drain(ctx), context.DeadlineExceeded)
}

func TestQueue_ScheduleCancelled(t *testing.T) {
	q := newTestQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, q.Schedule(ctx, Task{Name: "noop"}), context.Canceled)
	assert.Equal(t, 0, q.Pending())
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Schedule(context.Background(), Task{Name: "add_annotation", Arg: "a1"}))
	assert.Equal(t, []Task{{Name: "add_annotation", Arg: "a1"}}, r.Tasks())

	r.Err = errors.New("queue closed")
	assert.Error(t, r.Schedule(context.Background(), Task{Name: "add_annotation", Arg: "a2"}))
	assert.Len(t, r.Tasks(), 1)
}
