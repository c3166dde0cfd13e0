// Package store is the persistence layer: chunk metadata and
// embeddings in SQLite, sparse keyword indexes (bleve or SQLite FTS5),
// and an HNSW vector index.
package store

import (
	"context"
	"fmt"

	"github.com/tribridrag/tribridrag/internal/chunk"
)

// Tokenizer selects how sparse-index text is analyzed.
const (
	TokenizerCode    = "code"    // identifier-aware: camelCase/snake_case splitting
	TokenizerStemmed = "stemmed" // English stemming, for prose-heavy corpora
)

// Sparse backends.
const (
	SparseBackendBleve  = "bleve"
	SparseBackendSQLite = "sqlite"
)

// Document is one sparse-index entry.
type Document struct {
	ID      string
	Content string
}

// SparseResult is a single keyword search hit.
type SparseResult struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// SparseStats describes a sparse index.
type SparseStats struct {
	DocumentCount int
}

// SparseIndex provides BM25-scored keyword search.
type SparseIndex interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*SparseResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() ([]string, error)
	Stats() (*SparseStats, error)
	Close() error
}

// SparseConfig configures sparse indexing.
type SparseConfig struct {
	K1             float64 // term frequency saturation (default 1.2)
	B              float64 // length normalization (default 0.75)
	Tokenizer      string  // "code" or "stemmed"
	StopWords      []string
	MinTokenLength int
}

// DefaultSparseConfig returns the code-search defaults.
func DefaultSparseConfig() SparseConfig {
	return SparseConfig{
		K1:             1.2,
		B:              0.75,
		Tokenizer:      TokenizerCode,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords are keywords too frequent in source text to
// carry ranking signal.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ChunkID  string
	Distance float32 // lower is closer
	Score    float32 // normalized similarity, higher is better
}

// VectorConfig configures the HNSW index.
type VectorConfig struct {
	Dimensions int
	Metric     string // "cos" or "l2"
	M          int    // max connections per layer
	EfSearch   int    // query-time search width
}

// DefaultVectorConfig returns HNSW defaults for the given dimension.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          32,
		EfSearch:   64,
	}
}

// VectorIndex provides approximate nearest-neighbor search.
type VectorIndex interface {
	// Add inserts vectors. An existing ID is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// FileRecord tracks an indexed file for delta rebuilds.
type FileRecord struct {
	Path        string
	ContentHash string
	Language    string
	ChunkCount  int
	IndexedAt   int64 // unix seconds
}

// StoreStats summarizes a corpus store.
type StoreStats struct {
	FileCount      int
	ChunkCount     int
	EmbeddingCount int
}

// ChunkStore persists chunks, file records, and embeddings for one
// corpus.
type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []*chunk.Chunk) error
	GetChunk(ctx context.Context, id string) (*chunk.Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*chunk.Chunk, error)
	GetChunksByFile(ctx context.Context, filePath string) ([]*chunk.Chunk, error)
	DeleteChunksByFile(ctx context.Context, filePath string) ([]string, error)
	AllChunkIDs(ctx context.Context) ([]string, error)

	// Neighbors returns chunks from the same file whose line ranges
	// fall within window lines of the given chunk.
	Neighbors(ctx context.Context, chunkID string, window int) ([]*chunk.Chunk, error)

	SaveFileRecords(ctx context.Context, records []*FileRecord) error
	FileHashes(ctx context.Context) (map[string]string, error)
	DeleteFileRecord(ctx context.Context, path string) error

	SaveEmbeddings(ctx context.Context, ids []string, vectors [][]float32) error
	AllEmbeddings(ctx context.Context) (map[string][]float32, error)

	Stats(ctx context.Context) (*StoreStats, error)
	Close() error
}

// ErrDimensionMismatch indicates a vector of the wrong dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
