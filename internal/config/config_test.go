package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Embeddings.Provider)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Indexing.Interval)
	assert.Equal(t, 10, cfg.Search.MaxResults)
	assert.NotEmpty(t, cfg.Vault.DataDir)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
vault:
  path: /notes
embeddings:
  provider: ollama
  model: nomic-embed-text
  endpoint: http://localhost:11434
indexing:
  batch_size: 4
search:
  min_score: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	assert.Equal(t, 4, cfg.Indexing.BatchSize)
	assert.Equal(t, 0.5, cfg.Search.MinScore)
	// DataDir derived from the vault path
	assert.Equal(t, filepath.Join("/notes", ".notelink"), cfg.Vault.DataDir)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embeddings:\n  provider: ollama\n"), 0o644))

	t.Setenv("NOTELINK_PROVIDER", "local")
	t.Setenv("NOTELINK_BATCH_SIZE", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Embeddings.Provider)
	assert.Equal(t, 8, cfg.Embeddings.BatchSize)
}

func TestValidate_RejectsUnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.Embeddings.Provider = "quantum"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")
}

func TestValidate_RejectsEmptyModel(t *testing.T) {
	cfg := Default()
	cfg.Embeddings.Model = ""

	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadMinScore(t *testing.T) {
	cfg := Default()
	cfg.Search.MinScore = 2.0

	assert.Error(t, cfg.Validate())
}

func TestArtifactPaths(t *testing.T) {
	cfg := Default()
	cfg.Vault.DataDir = "/data"

	assert.Equal(t, filepath.Join("/data", "vectors.hnsw"), cfg.SnapshotPath())
	assert.Equal(t, filepath.Join("/data", "hashes.gob"), cfg.HashMapPath())
	assert.Equal(t, filepath.Join("/data", "chunks.db"), cfg.MetadataPath())
}
