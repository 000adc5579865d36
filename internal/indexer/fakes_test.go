package indexer

import (
	"context"
	"sync"

	"github.com/renderinc/annotation-search/internal/search"
	"github.com/renderinc/annotation-search/internal/storage"
)

type fakeStore struct {
	annotations map[string]*storage.Annotation
	err         error
}

func newFakeStore(annotations ...*storage.Annotation) *fakeStore {
	s := &fakeStore{annotations: map[string]*storage.Annotation{}}
	for _, a := range annotations {
		s.annotations[a.ID] = a
	}
	return s
}

func (s *fakeStore) FetchAnnotation(ctx context.Context, id string) (*storage.Annotation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.annotations[id], nil
}

func (s *fakeStore) AnnotationIDsByUser(ctx context.Context, userid string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	var ids []string
	for id, a := range s.annotations {
		if a.UserID == userid {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type indexCall struct {
	Op     string
	ID     string
	Target string
}

type fakeIndex struct {
	mu    sync.Mutex
	calls []indexCall
	docs  map[string]map[string]*search.Document
	fail  map[string]error // target -> error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: map[string]map[string]*search.Document{}, fail: map[string]error{}}
}

func (f *fakeIndex) Index(ctx context.Context, doc *search.Document, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, indexCall{"index", doc.ID, target})
	if err := f.fail[target]; err != nil {
		return err
	}
	if f.docs[target] == nil {
		f.docs[target] = map[string]*search.Document{}
	}
	f.docs[target][doc.ID] = doc
	return nil
}

func (f *fakeIndex) Delete(ctx context.Context, id string, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, indexCall{"delete", id, target})
	if err := f.fail[target]; err != nil {
		return err
	}
	delete(f.docs[target], id)
	return nil
}

func (f *fakeIndex) callsTo(target string) []indexCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []indexCall
	for _, c := range f.calls {
		if c.Target == target {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeIndex) snapshot() map[string]map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]map[string]bool{}
	for target, docs := range f.docs {
		out[target] = map[string]bool{}
		for id := range docs {
			out[target][id] = true
		}
	}
	return out
}

type fakeBulk struct {
	failed  []string
	err     error
	ids     []string
	targets []string
}

func (b *fakeBulk) Index(ctx context.Context, ids []string, target string) ([]string, error) {
	b.ids = append(b.ids, ids...)
	b.targets = append(b.targets, target)
	if b.err != nil {
		return nil, b.err
	}
	return b.failed, nil
}

// fakeSettings returns the shadow values in order, repeating the last one
type fakeSettings struct {
	mu      sync.Mutex
	shadows []string
	err     error
	lookups int
}

func (s *fakeSettings) ActiveShadowTarget(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.err != nil {
		return "", false, s.err
	}
	if len(s.shadows) == 0 {
		return "", false, nil
	}
	shadow := s.shadows[0]
	if len(s.shadows) > 1 {
		s.shadows = s.shadows[1:]
	}
	return shadow, shadow != "", nil
}
