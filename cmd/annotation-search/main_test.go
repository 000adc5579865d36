package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/renderinc/annotation-search/internal/config"
	"github.com/renderinc/annotation-search/internal/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, dataDir string, args ...string) {
	t.Helper()
	rootCmd.SetArgs(append([]string{
		"--data-dir", dataDir,
		"--log-level", "error",
		"--env-file", filepath.Join(dataDir, "missing.env"),
	}, args...))
	require.NoError(t, rootCmd.Execute(), args)
}

func indexState(t *testing.T, dataDir string) (string, uint64) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = dataDir

	cluster, err := search.OpenCluster(cfg.IndexDir(), cfg.IndexAlias)
	require.NoError(t, err)
	defer cluster.Close()

	name, err := cluster.Resolve(cfg.IndexAlias)
	require.NoError(t, err)
	n, err := cluster.Count(cfg.IndexAlias)
	require.NoError(t, err)
	return name, n
}

func TestCommands_EndToEnd(t *testing.T) {
	dataDir := t.TempDir()
	input := filepath.Join(t.TempDir(), "annotations.jsonl")
	require.NoError(t, os.WriteFile(input, []byte(`{"id":"a1","userid":"acct:u1@example.com","uri":"https://example.com/k8s","text":"kubernetes operators"}
{"id":"a2","userid":"acct:u2@example.com","uri":"https://example.com/k8s","text":"agreed","references":["a1"]}
{"id":"a3","userid":"acct:u1@example.com","uri":"https://example.com/go","text":"channels"}
`), 0o644))

	execute(t, dataDir, "load", input)
	first, n := indexState(t, dataDir)
	assert.Equal(t, uint64(3), n)

	execute(t, dataDir, "reindex", "run")
	second, n := indexState(t, dataDir)
	assert.NotEqual(t, first, second)
	assert.Equal(t, uint64(3), n)

	execute(t, dataDir, "delete", "a3")
	_, n = indexState(t, dataDir)
	assert.Equal(t, uint64(2), n)

	// absent ids are a no-op
	execute(t, dataDir, "add", "missing")
	execute(t, dataDir, "reindex-user", "acct:u1@example.com")
	execute(t, dataDir, "reindex", "status")
	execute(t, dataDir, "stats")
	execute(t, dataDir, "search", "kubernetes")
}

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("ANNOTATION_SEARCH_DATA_DIR", "/nonexistent")
	t.Setenv("ANNOTATION_SEARCH_LOG_FORMAT", "console")

	require.NoError(t, rootCmd.ParseFlags([]string{
		"--data-dir", dataDir,
		"--env-file", filepath.Join(dataDir, "missing.env"),
	}))

	cfg, err := loadConfig(rootCmd)
	require.NoError(t, err)
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short text", truncate("short\n  text", 20))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
}
