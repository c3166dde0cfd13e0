package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tribridrag/tribridrag/internal/errors"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	cfg.applyDerivedDefaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "hybrid", cfg.Chunker.Strategy)
	assert.Equal(t, 60, cfg.Fusion.RRFK)
	assert.Equal(t, "none", cfg.Reranker.Mode)
}

func TestLoadAppliesYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: `+dir+`
embedding:
  provider: static
  model: static-test
  dimension: 256
  batch_size: 8
chunker:
  strategy: greedy
  chunk_size: 200
  chunk_overlap: 40
fusion:
  method: weighted
  rrf_k: 30
reranker:
  mode: local
  local_endpoint: http://localhost:9659
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.Embedding.Provider)
	assert.Equal(t, 256, cfg.Embedding.Dimension)
	assert.Equal(t, "greedy", cfg.Chunker.Strategy)
	assert.Equal(t, "weighted", cfg.Fusion.Method)
	assert.Equal(t, 30, cfg.Fusion.RRFK)
	// Derived paths follow data_dir.
	assert.Equal(t, filepath.Join(dir, "cache", "embeddings"), cfg.Embedding.CacheDir)
	assert.Equal(t, filepath.Join(dir, "events", "usage.log"), cfg.Learning.EventLogPath)
}

func TestValidateRejections(t *testing.T) {
	mutate := func(fn func(*Config)) Config {
		cfg := Default()
		cfg.applyDerivedDefaults()
		fn(&cfg)
		return cfg
	}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad provider", mutate(func(c *Config) { c.Embedding.Provider = "cohere" })},
		{"zero dimension", mutate(func(c *Config) { c.Embedding.Dimension = 0 })},
		{"bad strategy", mutate(func(c *Config) { c.Chunker.Strategy = "semantic" })},
		{"overlap >= size", mutate(func(c *Config) { c.Chunker.ChunkOverlap = c.Chunker.ChunkSize })},
		{"all modalities disabled", mutate(func(c *Config) {
			c.VectorSearch.Enabled = false
			c.SparseSearch.Enabled = false
			c.GraphSearch.Enabled = false
		})},
		{"bad tokenizer", mutate(func(c *Config) { c.SparseSearch.Tokenizer = "whitespace" })},
		{"bad fusion method", mutate(func(c *Config) { c.Fusion.Method = "borda" })},
		{"negative weight", mutate(func(c *Config) { c.Fusion.SparseWeight = -1 })},
		{"zero enabled weight sum", mutate(func(c *Config) {
			c.Fusion.VectorWeight = 0
			c.Fusion.SparseWeight = 0
			c.Fusion.GraphWeight = 0
		})},
		{"bad reranker mode", mutate(func(c *Config) { c.Reranker.Mode = "ensemble" })},
		{"learned without adapter path", mutate(func(c *Config) { c.Reranker.Mode = "learned" })},
		{"cloud without endpoint", mutate(func(c *Config) { c.Reranker.Mode = "cloud" })},
		{"neo4j without uri", mutate(func(c *Config) { c.GraphStore.Backend = "neo4j" })},
		{"modality deadline above deadline", mutate(func(c *Config) {
			c.Retrieval.ModalityDeadline = c.Retrieval.Deadline + time.Second
		})},
		{"bad mine mode", mutate(func(c *Config) { c.Learning.MineMode = "merge" })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.KindConfig, errors.KindOf(err))
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding: ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, errors.KindConfig, errors.KindOf(err))
}

func TestCorpusDirLayout(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/srv/tribrid"
	assert.Equal(t, "/srv/tribrid/corpora/c1", cfg.CorpusDir("c1"))
	assert.Equal(t, "/srv/tribrid/manifests", cfg.ManifestsDir())
}
