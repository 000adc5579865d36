package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"
)

var (
	// ErrUnknownTarget is returned for a target that names neither the alias
	// nor an existing index.
	ErrUnknownTarget = errors.New("unknown index target")

	// ErrIndexExists is returned when creating an index whose name is taken
	ErrIndexExists = errors.New("index already exists")

	// ErrIndexAliased is returned when dropping the index the alias points at
	ErrIndexAliased = errors.New("index is the current alias target")
)

// Cluster manages a set of named Bleve indexes stored under one directory.
// One alias names the index currently serving queries; writes addressed to
// the alias go to whichever index it points at.
type Cluster struct {
	dir   string
	alias string

	mu       sync.Mutex
	indexes  map[string]bleve.Index
	manifest *manifest
}

// SearchResult represents a search result
type SearchResult struct {
	ID        string              `json:"id"`
	User      string              `json:"user"`
	URI       string              `json:"uri"`
	Text      string              `json:"text"`
	Score     float64             `json:"score"`
	Fragments map[string][]string `json:"fragments,omitempty"` // Highlighted snippets
}

// OpenCluster opens the index directory, creating it and a first index
// behind alias if needed
func OpenCluster(dir, alias string) (*Cluster, error) {
	if err := os.MkdirAll(filepath.Join(dir, "indexes"), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	c := &Cluster{
		dir:      dir,
		alias:    alias,
		indexes:  map[string]bleve.Index{},
		manifest: m,
	}

	if _, ok := m.Aliases[alias]; !ok {
		name := NewIndexName(alias)
		if err := c.CreateIndex(name); err != nil {
			return nil, err
		}
		if _, err := c.PointAlias(name); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// NewIndexName returns a fresh concrete index name for alias
func NewIndexName(alias string) string {
	return fmt.Sprintf("%s-%s", alias, uuid.NewString())
}

// buildIndexMapping creates the annotation document mapping
func buildIndexMapping() mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = "en" // English analyzer for better stemming

	keyword := bleve.NewKeywordFieldMapping

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("id", keyword())
	docMapping.AddFieldMappingsAt("user", keyword())
	docMapping.AddFieldMappingsAt("uri", keyword())
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("tags", keyword())
	docMapping.AddFieldMappingsAt("shared", bleve.NewBooleanFieldMapping())
	docMapping.AddFieldMappingsAt("thread_root_id", keyword())
	docMapping.AddFieldMappingsAt("parent_id", keyword())
	docMapping.AddFieldMappingsAt("is_reply", bleve.NewBooleanFieldMapping())
	docMapping.AddFieldMappingsAt("reply_count", bleve.NewNumericFieldMapping())
	docMapping.AddFieldMappingsAt("created", bleve.NewDateTimeFieldMapping())
	docMapping.AddFieldMappingsAt("updated", bleve.NewDateTimeFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	// query strings hit the _all field, which must stem like "text"
	indexMapping.DefaultAnalyzer = "en"

	return indexMapping
}

// Alias returns the alias name writes to the serving index are addressed to
func (c *Cluster) Alias() string {
	return c.alias
}

// Close closes every open index
func (c *Cluster) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, idx := range c.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(c.indexes, name)
	}
	return errors.Join(errs...)
}

func (c *Cluster) indexPath(name string) string {
	return filepath.Join(c.dir, "indexes", name)
}

// CreateIndex creates a new empty index
func (c *Cluster) CreateIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name == "" || name == c.alias {
		return fmt.Errorf("create index %q: invalid name", name)
	}
	if _, err := os.Stat(c.indexPath(name)); err == nil {
		return fmt.Errorf("create index %s: %w", name, ErrIndexExists)
	}

	idx, err := bleve.New(c.indexPath(name), buildIndexMapping())
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	c.indexes[name] = idx
	return nil
}

// DropIndex closes and deletes an index. The alias target cannot be dropped.
func (c *Cluster) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.manifest.Aliases[c.alias] == name {
		return fmt.Errorf("drop index %s: %w", name, ErrIndexAliased)
	}

	if idx, ok := c.indexes[name]; ok {
		if err := idx.Close(); err != nil {
			return fmt.Errorf("close index %s: %w", name, err)
		}
		delete(c.indexes, name)
	}

	if err := os.RemoveAll(c.indexPath(name)); err != nil {
		return fmt.Errorf("remove index %s: %w", name, err)
	}
	return nil
}

// PointAlias makes the alias serve name and returns the index it served before
func (c *Cluster) PointAlias(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.openLocked(name); err != nil {
		return "", err
	}

	previous := c.manifest.Aliases[c.alias]
	c.manifest.Aliases[c.alias] = name
	if err := c.manifest.write(c.dir); err != nil {
		c.manifest.Aliases[c.alias] = previous
		return "", err
	}
	return previous, nil
}

// Resolve maps a target to a concrete index name
func (c *Cluster) Resolve(target string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.resolveLocked(target)
}

func (c *Cluster) resolveLocked(target string) (string, error) {
	if target == c.alias {
		name, ok := c.manifest.Aliases[c.alias]
		if !ok {
			return "", fmt.Errorf("alias %s: %w", c.alias, ErrUnknownTarget)
		}
		return name, nil
	}
	return target, nil
}

// Indexes lists the concrete index names on disk
func (c *Cluster) Indexes() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(c.dir, "indexes"))
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// open returns the index behind target, opening it from disk if needed
func (c *Cluster) open(target string) (bleve.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name, err := c.resolveLocked(target)
	if err != nil {
		return nil, err
	}
	return c.openLocked(name)
}

func (c *Cluster) openLocked(name string) (bleve.Index, error) {
	if idx, ok := c.indexes[name]; ok {
		return idx, nil
	}

	idx, err := bleve.Open(c.indexPath(name))
	if err == bleve.ErrorIndexPathDoesNotExist {
		return nil, fmt.Errorf("index %s: %w", name, ErrUnknownTarget)
	} else if err != nil {
		return nil, fmt.Errorf("open index %s: %w", name, err)
	}

	c.indexes[name] = idx
	return idx, nil
}

// Index adds or updates a document in target
func (c *Cluster) Index(ctx context.Context, doc *Document, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := c.open(target)
	if err != nil {
		return err
	}
	return idx.Index(doc.ID, doc)
}

// IndexBatch adds or updates documents in target in a single batch
func (c *Cluster) IndexBatch(ctx context.Context, docs []*Document, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := c.open(target)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", doc.ID, err)
		}
	}

	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Delete removes a document from target. Deleting a missing id succeeds.
func (c *Cluster) Delete(ctx context.Context, id string, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := c.open(target)
	if err != nil {
		return err
	}
	return idx.Delete(id)
}

// Count returns the number of documents in target
func (c *Cluster) Count(target string) (uint64, error) {
	idx, err := c.open(target)
	if err != nil {
		return 0, err
	}
	return idx.DocCount()
}

// Search runs a query string search against target
func (c *Cluster) Search(target, queryStr string, limit int) ([]*SearchResult, error) {
	idx, err := c.open(target)
	if err != nil {
		return nil, err
	}

	// Parse query string (supports quotes, boolean operators, fuzzy ~)
	query := bleve.NewQueryStringQuery(queryStr)

	search := bleve.NewSearchRequestOptions(query, limit, 0, false)
	search.Highlight = bleve.NewHighlightWithStyle("html")
	search.Fields = []string{"user", "uri", "text"}

	results, err := idx.Search(search)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var searchResults []*SearchResult
	for _, hit := range results.Hits {
		result := &SearchResult{
			ID:        hit.ID,
			Score:     hit.Score,
			Fragments: hit.Fragments,
		}

		if user, ok := hit.Fields["user"].(string); ok {
			result.User = user
		}
		if uri, ok := hit.Fields["uri"].(string); ok {
			result.URI = uri
		}
		if text, ok := hit.Fields["text"].(string); ok {
			result.Text = text
		}

		searchResults = append(searchResults, result)
	}

	return searchResults, nil
}
