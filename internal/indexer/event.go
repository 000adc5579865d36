package indexer

import (
	"fmt"

	"github.com/renderinc/annotation-search/internal/tasks"
)

// Task names handled by the coordinator
const (
	TaskAddAnnotation          = "add_annotation"
	TaskDeleteAnnotation       = "delete_annotation"
	TaskReindexUserAnnotations = "reindex_user_annotations"
)

// EventKind is the kind of change made to an annotation
type EventKind string

const (
	Created EventKind = "created"
	Updated EventKind = "updated"
	Deleted EventKind = "deleted"
)

// ParseEventKind validates a kind received from outside the process
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case Created, Updated, Deleted:
		return k, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", s)
	}
}

// Event reports a change to an annotation. IsReply and ThreadRootID are
// informational: the coordinator decides reply handling from the stored
// annotation, which may have changed since the event was emitted.
type Event struct {
	Kind         EventKind `json:"kind"`
	ID           string    `json:"id"`
	IsReply      bool      `json:"is_reply,omitempty"`
	ThreadRootID string    `json:"thread_root_id,omitempty"`
}

// Task converts the event to the task that applies it
func (e Event) Task() tasks.Task {
	if e.Kind == Deleted {
		return tasks.Task{Name: TaskDeleteAnnotation, Arg: e.ID}
	}
	return tasks.Task{Name: TaskAddAnnotation, Arg: e.ID}
}
