package indexer

import (
	"errors"
	"fmt"
)

// ErrSettingsLookup wraps failures to read the active shadow target. There
// is no safe default: assuming "no reindex" could silently skip writes.
var ErrSettingsLookup = errors.New("settings lookup failed")

// IndexWriteError reports a failed write to one index
type IndexWriteError struct {
	Op     string // "index" or "delete"
	Target string
	ID     string
	Err    error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("%s %s in %s: %v", e.Op, e.ID, e.Target, e.Err)
}

func (e *IndexWriteError) Unwrap() error {
	return e.Err
}
