package search

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/renderinc/annotation-search/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCluster(t *testing.T) (*Cluster, string) {
	t.Helper()
	dir := t.TempDir()
	c, err := OpenCluster(dir, "annotations")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, dir
}

func testDocument(id, text string) *Document {
	return NewDocument(&storage.Annotation{
		ID:      id,
		UserID:  "acct:u1@example.com",
		URI:     "https://example.com/page",
		Text:    text,
		Tags:    []string{"review"},
		Shared:  true,
		Created: time.Now(),
		Updated: time.Now(),
	})
}

func TestOpenCluster_CreatesAliasedIndex(t *testing.T) {
	c, dir := openTestCluster(t)

	name, err := c.Resolve("annotations")
	require.NoError(t, err)
	assert.Contains(t, name, "annotations-")

	names, err := c.Indexes()
	require.NoError(t, err)
	assert.Equal(t, []string{name}, names)

	_, err = os.Stat(filepath.Join(dir, manifestFile))
	require.NoError(t, err)
}

func TestOpenCluster_ReopenKeepsAlias(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenCluster(dir, "annotations")
	require.NoError(t, err)
	first, err := c.Resolve("annotations")
	require.NoError(t, err)
	require.NoError(t, c.Index(context.Background(), testDocument("a1", "hello"), "annotations"))
	require.NoError(t, c.Close())

	c, err = OpenCluster(dir, "annotations")
	require.NoError(t, err)
	defer c.Close()

	second, err := c.Resolve("annotations")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	count, err := c.Count("annotations")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestCluster_IndexDeleteSearch(t *testing.T) {
	ctx := context.Background()
	c, _ := openTestCluster(t)

	require.NoError(t, c.Index(ctx, testDocument("a1", "kubernetes deployment notes"), "annotations"))
	require.NoError(t, c.Index(ctx, testDocument("a2", "postgres configuration"), "annotations"))

	results, err := c.Search("annotations", "kubernetes", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a1", results[0].ID)
	assert.Equal(t, "https://example.com/page", results[0].URI)

	require.NoError(t, c.Delete(ctx, "a1", "annotations"))
	require.NoError(t, c.Delete(ctx, "a1", "annotations"), "deleting a missing id succeeds")

	count, err := c.Count("annotations")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestCluster_UnknownTarget(t *testing.T) {
	c, _ := openTestCluster(t)

	err := c.Index(context.Background(), testDocument("a1", "x"), "no-such-index")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestCluster_ShadowIndexAndPromote(t *testing.T) {
	ctx := context.Background()
	c, _ := openTestCluster(t)

	old, err := c.Resolve("annotations")
	require.NoError(t, err)

	require.NoError(t, c.CreateIndex("annotations-new"))
	assert.ErrorIs(t, c.CreateIndex("annotations-new"), ErrIndexExists)

	require.NoError(t, c.Index(ctx, testDocument("a1", "one"), "annotations"))
	require.NoError(t, c.Index(ctx, testDocument("a1", "one"), "annotations-new"))
	require.NoError(t, c.Index(ctx, testDocument("a2", "two"), "annotations-new"))

	previous, err := c.PointAlias("annotations-new")
	require.NoError(t, err)
	assert.Equal(t, old, previous)

	assert.ErrorIs(t, c.DropIndex("annotations-new"), ErrIndexAliased)
	require.NoError(t, c.DropIndex(old))

	count, err := c.Count("annotations")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	names, err := c.Indexes()
	require.NoError(t, err)
	assert.Equal(t, []string{"annotations-new"}, names)
}

func TestCluster_IndexBatch(t *testing.T) {
	c, _ := openTestCluster(t)

	docs := []*Document{testDocument("a1", "one"), testDocument("a2", "two"), testDocument("a3", "three")}
	require.NoError(t, c.IndexBatch(context.Background(), docs, "annotations"))

	count, err := c.Count("annotations")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func TestCluster_CancelledContext(t *testing.T) {
	c, _ := openTestCluster(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.Index(ctx, testDocument("a1", "x"), "annotations"), context.Canceled)
	assert.ErrorIs(t, c.Delete(ctx, "a1", "annotations"), context.Canceled)
}

func TestNewDocument_Reply(t *testing.T) {
	doc := NewDocument(&storage.Annotation{
		ID:         "a3",
		References: []string{"a1", "a2"},
		ReplyCount: 0,
	})
	assert.True(t, doc.IsReply)
	assert.Equal(t, "a1", doc.ThreadRootID)
	assert.Equal(t, "a2", doc.ParentID)
}
