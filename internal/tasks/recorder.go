package tasks

import (
	"context"
	"sync"
)

// Recorder collects scheduled tasks without running them
type Recorder struct {
	mu    sync.Mutex
	tasks []Task
	Err   error
}

// Schedule records task, or returns Err when set
func (r *Recorder) Schedule(ctx context.Context, task Task) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

// Tasks returns a copy of the recorded tasks
func (r *Recorder) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Task(nil), r.tasks...)
}
