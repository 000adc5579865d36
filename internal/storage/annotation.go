package storage

import "time"

// Annotation represents an annotation row in the primary data store
type Annotation struct {
	ID         string    `db:"id"`
	UserID     string    `db:"userid"`
	URI        string    `db:"target_uri"`
	Text       string    `db:"text"`
	Tags       []string  `db:"tags"` // JSON array
	Shared     bool      `db:"shared"`
	References []string  `db:"refs"` // JSON array, thread root first
	Created    time.Time `db:"created"`
	Updated    time.Time `db:"updated"`

	// ReplyCount is computed on fetch: the number of annotations whose
	// thread root is this annotation.
	ReplyCount int `db:"-"`
}

// IsReply reports whether the annotation belongs to another annotation's thread
func (a *Annotation) IsReply() bool {
	return len(a.References) > 0
}

// ThreadRootID returns the top-level annotation of the thread, or "" for
// a top-level annotation
func (a *Annotation) ThreadRootID() string {
	if len(a.References) == 0 {
		return ""
	}
	return a.References[0]
}

// ParentID returns the annotation this one directly replies to
func (a *Annotation) ParentID() string {
	if len(a.References) == 0 {
		return ""
	}
	return a.References[len(a.References)-1]
}
