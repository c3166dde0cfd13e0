// Package config defines the validated configuration shape for TriBridRAG.
//
// Config is loaded once at startup from YAML, validated strictly, and handed
// to the orchestrator as an immutable value. Reload replaces the whole value
// atomically; partial or invalid config is rejected.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tribridrag/tribridrag/internal/errors"
)

// Config is the complete TriBridRAG configuration.
type Config struct {
	DataDir      string             `yaml:"data_dir" json:"data_dir"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
	Embedding    EmbeddingConfig    `yaml:"embedding" json:"embedding"`
	Chat         ChatConfig         `yaml:"chat" json:"chat"`
	Chunker      ChunkerConfig      `yaml:"chunker" json:"chunker"`
	Loader       LoaderConfig       `yaml:"loader" json:"loader"`
	VectorSearch VectorSearchConfig `yaml:"vector_search" json:"vector_search"`
	SparseSearch SparseSearchConfig `yaml:"sparse_search" json:"sparse_search"`
	GraphSearch  GraphSearchConfig  `yaml:"graph_search" json:"graph_search"`
	GraphStore   GraphStoreConfig   `yaml:"graph_store" json:"graph_store"`
	Fusion       FusionConfig       `yaml:"fusion" json:"fusion"`
	Reranker     RerankerConfig     `yaml:"reranker" json:"reranker"`
	Indexer      IndexerConfig      `yaml:"indexer" json:"indexer"`
	Retrieval    RetrievalConfig    `yaml:"retrieval" json:"retrieval"`
	Learning     LearningConfig     `yaml:"learning" json:"learning"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level         string `yaml:"level" json:"level"`
	FilePath      string `yaml:"file_path" json:"file_path"`
	MaxSizeMB     int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles      int    `yaml:"max_files" json:"max_files"`
	WriteToStderr bool   `yaml:"write_to_stderr" json:"write_to_stderr"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider selects the embedding backend: "openai" or "static".
	Provider  string `yaml:"provider" json:"provider"`
	Model     string `yaml:"model" json:"model"`
	Dimension int    `yaml:"dimension" json:"dimension"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	// BaseURL overrides the provider endpoint (OpenAI-compatible servers).
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string        `yaml:"api_key_env" json:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	RetryMax  int           `yaml:"retry_max" json:"retry_max"`
	// CacheDir is the content-addressed embedding cache directory.
	// Empty means <data_dir>/cache/embeddings.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// MemoryCacheSize is the in-memory LRU layer size (entries).
	MemoryCacheSize int `yaml:"memory_cache_size" json:"memory_cache_size"`
}

// ChatConfig configures the chat model used for semantic entity extraction
// and community summaries.
type ChatConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Model     string        `yaml:"model" json:"model"`
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env" json:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// ChunkerConfig configures the chunking strategy for a build.
type ChunkerConfig struct {
	// Strategy is "ast", "greedy", or "hybrid".
	Strategy        string `yaml:"strategy" json:"strategy"`
	ChunkSize       int    `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap    int    `yaml:"chunk_overlap" json:"chunk_overlap"`
	MinChunkChars   int    `yaml:"min_chunk_chars" json:"min_chunk_chars"`
	MaxChunkTokens  int    `yaml:"max_chunk_tokens" json:"max_chunk_tokens"`
	ASTOverlapLines int    `yaml:"ast_overlap_lines" json:"ast_overlap_lines"`
	PreserveImports bool   `yaml:"preserve_imports" json:"preserve_imports"`
}

// LoaderConfig configures corpus file discovery.
type LoaderConfig struct {
	IncludeExtensions []string `yaml:"include_extensions" json:"include_extensions"`
	ExcludePatterns   []string `yaml:"exclude_patterns" json:"exclude_patterns"`
	MaxFileSizeBytes  int64    `yaml:"max_file_size_bytes" json:"max_file_size_bytes"`
	RespectGitignore  bool     `yaml:"respect_gitignore" json:"respect_gitignore"`
}

// VectorSearchConfig configures the dense retriever.
type VectorSearchConfig struct {
	Enabled             bool    `yaml:"enabled" json:"enabled"`
	TopKDense           int     `yaml:"topk_dense" json:"topk_dense"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
}

// SparseSearchConfig configures the lexical retriever.
type SparseSearchConfig struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	TopKSparse int     `yaml:"topk_sparse" json:"topk_sparse"`
	K1         float64 `yaml:"k1" json:"k1"`
	B          float64 `yaml:"b" json:"b"`
	// Tokenizer is "code" (identifier-splitting) or "stemmed".
	Tokenizer string `yaml:"tokenizer" json:"tokenizer"`
	// Backend is "sqlite" (FTS5) or "bleve".
	Backend string `yaml:"backend" json:"backend"`
}

// GraphSearchConfig configures the graph retriever.
type GraphSearchConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	MaxHops           int  `yaml:"max_hops" json:"max_hops"`
	TopKGraph         int  `yaml:"topk_graph" json:"topk_graph"`
	IncludeCommunities bool `yaml:"include_communities" json:"include_communities"`
}

// GraphStoreConfig selects the graph store backend.
type GraphStoreConfig struct {
	// Backend is "sqlite" (default) or "neo4j".
	Backend  string `yaml:"backend" json:"backend"`
	URI      string `yaml:"uri" json:"uri"`
	Username string `yaml:"username" json:"username"`
	// PasswordEnv names the environment variable holding the password.
	PasswordEnv string `yaml:"password_env" json:"password_env"`
}

// FusionConfig configures rank combination.
type FusionConfig struct {
	// Method is "rrf" or "weighted".
	Method       string  `yaml:"method" json:"method"`
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`
	SparseWeight float64 `yaml:"sparse_weight" json:"sparse_weight"`
	GraphWeight  float64 `yaml:"graph_weight" json:"graph_weight"`
	RRFK         int     `yaml:"rrf_k" json:"rrf_k"`
	FinalK       int     `yaml:"final_k" json:"final_k"`
	// MaxPerFile caps chunks per file after fusion (0 = no cap).
	MaxPerFile int `yaml:"max_per_file" json:"max_per_file"`
	// MMREnabled turns on maximal-marginal-relevance diversification.
	MMREnabled bool    `yaml:"mmr_enabled" json:"mmr_enabled"`
	MMRLambda  float64 `yaml:"mmr_lambda" json:"mmr_lambda"`
	// NeighborWindow expands results with adjacent chunks (0 = disabled).
	NeighborWindow int `yaml:"neighbor_window" json:"neighbor_window"`
}

// RerankerConfig configures the cross-encoder reranker.
type RerankerConfig struct {
	// Mode is "none", "local", "learned", or "cloud".
	Mode            string        `yaml:"mode" json:"mode"`
	LocalModel      string        `yaml:"local_model" json:"local_model"`
	LocalEndpoint   string        `yaml:"local_endpoint" json:"local_endpoint"`
	AdapterPath     string        `yaml:"adapter_path" json:"adapter_path"`
	CloudProvider   string        `yaml:"cloud_provider" json:"cloud_provider"`
	CloudModel      string        `yaml:"cloud_model" json:"cloud_model"`
	CloudEndpoint   string        `yaml:"cloud_endpoint" json:"cloud_endpoint"`
	APIKeyEnv       string        `yaml:"api_key_env" json:"api_key_env"`
	TopN            int           `yaml:"top_n" json:"top_n"`
	BatchSize       int           `yaml:"batch_size" json:"batch_size"`
	MaxLength       int           `yaml:"max_length" json:"max_length"`
	ReloadPeriod    time.Duration `yaml:"reload_period" json:"reload_period"`
	UnloadAfter     time.Duration `yaml:"unload_after" json:"unload_after"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	RetryMax        int           `yaml:"retry_max" json:"retry_max"`
	MinReloadInterval time.Duration `yaml:"min_reload_interval" json:"min_reload_interval"`
}

// IndexerConfig configures build orchestration.
type IndexerConfig struct {
	EmbedderConcurrency int `yaml:"embedder_concurrency" json:"embedder_concurrency"`
	WriteBatchSize      int `yaml:"write_batch_size" json:"write_batch_size"`
}

// RetrievalConfig configures the query orchestrator.
type RetrievalConfig struct {
	TopK              int           `yaml:"top_k" json:"top_k"`
	Deadline          time.Duration `yaml:"deadline" json:"deadline"`
	ModalityDeadline  time.Duration `yaml:"modality_deadline" json:"modality_deadline"`
	CancelGracePeriod time.Duration `yaml:"cancel_grace_period" json:"cancel_grace_period"`
}

// LearningConfig configures the learning loop.
type LearningConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// EventLogPath is the append-only usage event log. Empty means
	// <data_dir>/events/usage.log.
	EventLogPath string `yaml:"event_log_path" json:"event_log_path"`
	// TripletsPath is the mined triplet file. Empty means
	// <data_dir>/training/triplets.jsonl.
	TripletsPath string `yaml:"triplets_path" json:"triplets_path"`
	// MineMode is "append" or "replace".
	MineMode string `yaml:"mine_mode" json:"mine_mode"`
	// PreserveExistingOnEmpty keeps existing triplets when a replace-mode
	// mining pass finds nothing.
	PreserveExistingOnEmpty bool `yaml:"preserve_existing_on_empty" json:"preserve_existing_on_empty"`
	// ConfidenceThreshold discards low-confidence triplets.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
	// TrainerEndpoint is the adapter training service URL.
	TrainerEndpoint string `yaml:"trainer_endpoint" json:"trainer_endpoint"`
	// PromoteEpsilon is the minimum metric improvement required to promote.
	PromoteEpsilon float64 `yaml:"promote_epsilon" json:"promote_epsilon"`
	// RunsDir holds per-run adapter output. Empty means <data_dir>/runs.
	RunsDir string `yaml:"runs_dir" json:"runs_dir"`
	// AdaptersDir holds the active adapter. Empty means <data_dir>/adapters.
	AdaptersDir string `yaml:"adapters_dir" json:"adapters_dir"`
}

// Default returns the fully-populated default configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	dataDir := filepath.Join(home, ".tribridrag")

	return Config{
		DataDir: dataDir,
		Logging: LoggingConfig{
			Level:         "info",
			MaxSizeMB:     10,
			MaxFiles:      5,
			WriteToStderr: true,
		},
		Embedding: EmbeddingConfig{
			Provider:        "openai",
			Model:           "text-embedding-3-small",
			Dimension:       1536,
			BatchSize:       32,
			APIKeyEnv:       "OPENAI_API_KEY",
			Timeout:         60 * time.Second,
			RetryMax:        3,
			MemoryCacheSize: 1000,
		},
		Chat: ChatConfig{
			Enabled:   false,
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   60 * time.Second,
		},
		Chunker: ChunkerConfig{
			Strategy:        "hybrid",
			ChunkSize:       512,
			ChunkOverlap:    64,
			MinChunkChars:   50,
			MaxChunkTokens:  512,
			ASTOverlapLines: 4,
			PreserveImports: true,
		},
		Loader: LoaderConfig{
			MaxFileSizeBytes: 10 * 1024 * 1024,
			RespectGitignore: true,
		},
		VectorSearch: VectorSearchConfig{
			Enabled:   true,
			TopKDense: 20,
		},
		SparseSearch: SparseSearchConfig{
			Enabled:    true,
			TopKSparse: 20,
			K1:         1.2,
			B:          0.75,
			Tokenizer:  "code",
			Backend:    "sqlite",
		},
		GraphSearch: GraphSearchConfig{
			Enabled:   true,
			MaxHops:   2,
			TopKGraph: 10,
		},
		GraphStore: GraphStoreConfig{
			Backend: "sqlite",
		},
		Fusion: FusionConfig{
			Method:       "rrf",
			VectorWeight: 1.0,
			SparseWeight: 1.0,
			GraphWeight:  1.0,
			RRFK:         60,
			FinalK:       50,
			MMRLambda:    0.5,
		},
		Reranker: RerankerConfig{
			Mode:              "none",
			TopN:              10,
			BatchSize:         16,
			MaxLength:         512,
			ReloadPeriod:      5 * time.Second,
			UnloadAfter:       10 * time.Minute,
			Timeout:           30 * time.Second,
			RetryMax:          2,
			MinReloadInterval: 10 * time.Second,
		},
		Indexer: IndexerConfig{
			EmbedderConcurrency: 4,
			WriteBatchSize:      128,
		},
		Retrieval: RetrievalConfig{
			TopK:              10,
			Deadline:          10 * time.Second,
			ModalityDeadline:  5 * time.Second,
			CancelGracePeriod: 250 * time.Millisecond,
		},
		Learning: LearningConfig{
			MineMode:                "append",
			PreserveExistingOnEmpty: true,
			ConfidenceThreshold:     0.2,
			PromoteEpsilon:          0.01,
		},
	}
}

// Load reads configuration from path, applies defaults for absent fields,
// and validates the result. An empty path returns validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(errors.KindConfig, "read config file", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrap(errors.KindConfig, "parse config file", err)
		}
	}
	cfg.applyDerivedDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDerivedDefaults fills paths derived from DataDir.
func (c *Config) applyDerivedDefaults() {
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = filepath.Join(c.DataDir, "logs", "tribridrag.log")
	}
	if c.Embedding.CacheDir == "" {
		c.Embedding.CacheDir = filepath.Join(c.DataDir, "cache", "embeddings")
	}
	if c.Learning.EventLogPath == "" {
		c.Learning.EventLogPath = filepath.Join(c.DataDir, "events", "usage.log")
	}
	if c.Learning.TripletsPath == "" {
		c.Learning.TripletsPath = filepath.Join(c.DataDir, "training", "triplets.jsonl")
	}
	if c.Learning.RunsDir == "" {
		c.Learning.RunsDir = filepath.Join(c.DataDir, "runs")
	}
	if c.Learning.AdaptersDir == "" {
		c.Learning.AdaptersDir = filepath.Join(c.DataDir, "adapters")
	}
}

// SetDataDir relocates the installation, rederiving every path that
// lives under the data directory. Paths set explicitly in the config
// file are rederived too; an override moves the whole installation.
func (c *Config) SetDataDir(dir string) {
	c.DataDir = dir
	c.Logging.FilePath = filepath.Join(dir, "logs", "tribridrag.log")
	c.Embedding.CacheDir = filepath.Join(dir, "cache", "embeddings")
	c.Learning.EventLogPath = filepath.Join(dir, "events", "usage.log")
	c.Learning.TripletsPath = filepath.Join(dir, "training", "triplets.jsonl")
	c.Learning.RunsDir = filepath.Join(dir, "runs")
	c.Learning.AdaptersDir = filepath.Join(dir, "adapters")
}

// ManifestsDir returns the per-installation manifest directory.
func (c *Config) ManifestsDir() string {
	return filepath.Join(c.DataDir, "manifests")
}

// CorpusDir returns the store directory for one corpus.
func (c *Config) CorpusDir(corpusID string) string {
	return filepath.Join(c.DataDir, "corpora", corpusID)
}

// Validate checks the configuration for invalid or inconsistent settings.
// Any failure is a config-kind error; the process must not start with it.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New(errors.KindConfig, "data_dir must not be empty")
	}

	switch c.Embedding.Provider {
	case "openai", "static":
	default:
		return errors.Newf(errors.KindConfig, "embedding.provider %q not one of openai, static", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return errors.New(errors.KindConfig, "embedding.dimension must be positive")
	}
	if c.Embedding.BatchSize <= 0 || c.Embedding.BatchSize > 256 {
		return errors.Newf(errors.KindConfig, "embedding.batch_size %d out of range [1,256]", c.Embedding.BatchSize)
	}

	switch c.Chunker.Strategy {
	case "ast", "greedy", "hybrid":
	default:
		return errors.Newf(errors.KindConfig, "chunker.strategy %q not one of ast, greedy, hybrid", c.Chunker.Strategy)
	}
	if c.Chunker.ChunkSize <= 0 {
		return errors.New(errors.KindConfig, "chunker.chunk_size must be positive")
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		return errors.New(errors.KindConfig, "chunker.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Chunker.MaxChunkTokens <= 0 {
		return errors.New(errors.KindConfig, "chunker.max_chunk_tokens must be positive")
	}
	if c.Chunker.MinChunkChars < 0 {
		return errors.New(errors.KindConfig, "chunker.min_chunk_chars must not be negative")
	}

	if !c.VectorSearch.Enabled && !c.SparseSearch.Enabled && !c.GraphSearch.Enabled {
		return errors.New(errors.KindConfig, "at least one retrieval modality must be enabled")
	}
	if c.VectorSearch.Enabled && c.VectorSearch.TopKDense <= 0 {
		return errors.New(errors.KindConfig, "vector_search.topk_dense must be positive")
	}
	if c.SparseSearch.Enabled {
		if c.SparseSearch.TopKSparse <= 0 {
			return errors.New(errors.KindConfig, "sparse_search.topk_sparse must be positive")
		}
		if c.SparseSearch.K1 <= 0 {
			return errors.New(errors.KindConfig, "sparse_search.k1 must be positive")
		}
		if c.SparseSearch.B < 0 || c.SparseSearch.B > 1 {
			return errors.New(errors.KindConfig, "sparse_search.b must be in [0,1]")
		}
		switch c.SparseSearch.Tokenizer {
		case "code", "stemmed":
		default:
			return errors.Newf(errors.KindConfig, "sparse_search.tokenizer %q not one of code, stemmed", c.SparseSearch.Tokenizer)
		}
		switch c.SparseSearch.Backend {
		case "sqlite", "bleve":
		default:
			return errors.Newf(errors.KindConfig, "sparse_search.backend %q not one of sqlite, bleve", c.SparseSearch.Backend)
		}
	}
	if c.GraphSearch.Enabled && c.GraphSearch.MaxHops <= 0 {
		return errors.New(errors.KindConfig, "graph_search.max_hops must be positive")
	}
	switch c.GraphStore.Backend {
	case "sqlite", "neo4j":
	default:
		return errors.Newf(errors.KindConfig, "graph_store.backend %q not one of sqlite, neo4j", c.GraphStore.Backend)
	}
	if c.GraphStore.Backend == "neo4j" && c.GraphStore.URI == "" {
		return errors.New(errors.KindConfig, "graph_store.uri required for neo4j backend")
	}

	switch c.Fusion.Method {
	case "rrf", "weighted":
	default:
		return errors.Newf(errors.KindConfig, "fusion.method %q not one of rrf, weighted", c.Fusion.Method)
	}
	if c.Fusion.RRFK <= 0 {
		return errors.New(errors.KindConfig, "fusion.rrf_k must be positive")
	}
	if c.Fusion.FinalK <= 0 {
		return errors.New(errors.KindConfig, "fusion.final_k must be positive")
	}
	if c.Fusion.VectorWeight < 0 || c.Fusion.SparseWeight < 0 || c.Fusion.GraphWeight < 0 {
		return errors.New(errors.KindConfig, "fusion weights must not be negative")
	}
	if sum := c.enabledWeightSum(); sum <= 0 {
		return errors.New(errors.KindConfig, "fusion weights of enabled modalities must sum to a positive value")
	}
	if c.Fusion.MMREnabled && (c.Fusion.MMRLambda < 0 || c.Fusion.MMRLambda > 1) {
		return errors.New(errors.KindConfig, "fusion.mmr_lambda must be in [0,1]")
	}

	switch c.Reranker.Mode {
	case "none", "local", "learned", "cloud":
	default:
		return errors.Newf(errors.KindConfig, "reranker.mode %q not one of none, local, learned, cloud", c.Reranker.Mode)
	}
	if c.Reranker.Mode != "none" {
		if c.Reranker.TopN <= 0 {
			return errors.New(errors.KindConfig, "reranker.top_n must be positive")
		}
		if c.Reranker.BatchSize <= 0 {
			return errors.New(errors.KindConfig, "reranker.batch_size must be positive")
		}
	}
	if c.Reranker.Mode == "learned" && c.Reranker.AdapterPath == "" {
		return errors.New(errors.KindConfig, "reranker.adapter_path required for learned mode")
	}
	if c.Reranker.Mode == "cloud" && c.Reranker.CloudEndpoint == "" {
		return errors.New(errors.KindConfig, "reranker.cloud_endpoint required for cloud mode")
	}

	if c.Indexer.EmbedderConcurrency <= 0 {
		return errors.New(errors.KindConfig, "indexer.embedder_concurrency must be positive")
	}
	if c.Indexer.WriteBatchSize <= 0 {
		return errors.New(errors.KindConfig, "indexer.write_batch_size must be positive")
	}

	if c.Retrieval.TopK <= 0 {
		return errors.New(errors.KindConfig, "retrieval.top_k must be positive")
	}
	if c.Retrieval.Deadline <= 0 {
		return errors.New(errors.KindConfig, "retrieval.deadline must be positive")
	}
	if c.Retrieval.ModalityDeadline <= 0 || c.Retrieval.ModalityDeadline > c.Retrieval.Deadline {
		return errors.New(errors.KindConfig, "retrieval.modality_deadline must be in (0, deadline]")
	}

	switch c.Learning.MineMode {
	case "append", "replace":
	default:
		return errors.Newf(errors.KindConfig, "learning.mine_mode %q not one of append, replace", c.Learning.MineMode)
	}
	if c.Learning.PromoteEpsilon < 0 {
		return errors.New(errors.KindConfig, "learning.promote_epsilon must not be negative")
	}

	return nil
}

// enabledWeightSum sums the fusion weights of enabled modalities.
func (c *Config) enabledWeightSum() float64 {
	var sum float64
	if c.VectorSearch.Enabled {
		sum += c.Fusion.VectorWeight
	}
	if c.SparseSearch.Enabled {
		sum += c.Fusion.SparseWeight
	}
	if c.GraphSearch.Enabled {
		sum += c.Fusion.GraphWeight
	}
	return sum
}

// APIKey resolves the embedding provider API key from the environment.
func (e *EmbeddingConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(e.APIKeyEnv))
}

// APIKey resolves the chat model API key from the environment.
func (c *ChatConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

// Password resolves the graph store password from the environment.
func (g *GraphStoreConfig) Password() string {
	if g.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(g.PasswordEnv)
}

// APIKey resolves the cloud reranker API key from the environment.
func (r *RerankerConfig) APIKey() string {
	if r.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(r.APIKeyEnv))
}

// String renders a redacted summary for diagnostics.
func (c *Config) String() string {
	return fmt.Sprintf("config{embedding=%s/%s dim=%d chunker=%s fusion=%s reranker=%s}",
		c.Embedding.Provider, c.Embedding.Model, c.Embedding.Dimension,
		c.Chunker.Strategy, c.Fusion.Method, c.Reranker.Mode)
}
