package search

import (
	"time"

	"github.com/renderinc/annotation-search/internal/storage"
)

// Document is the indexed presentation of an annotation
type Document struct {
	ID           string    `json:"id"`
	User         string    `json:"user"`
	URI          string    `json:"uri"`
	Text         string    `json:"text"`
	Tags         []string  `json:"tags"`
	Shared       bool      `json:"shared"`
	ThreadRootID string    `json:"thread_root_id"`
	ParentID     string    `json:"parent_id"`
	IsReply      bool      `json:"is_reply"`
	ReplyCount   int       `json:"reply_count"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// NewDocument builds the index document for an annotation
func NewDocument(a *storage.Annotation) *Document {
	return &Document{
		ID:           a.ID,
		User:         a.UserID,
		URI:          a.URI,
		Text:         a.Text,
		Tags:         a.Tags,
		Shared:       a.Shared,
		ThreadRootID: a.ThreadRootID(),
		ParentID:     a.ParentID(),
		IsReply:      a.IsReply(),
		ReplyCount:   a.ReplyCount,
		Created:      a.Created,
		Updated:      a.Updated,
	}
}
