// Package manifest records what an index build produced: which
// embedder and chunker built it, which sparse backend it pinned, and
// whether the build completed. The query path refuses to search an
// index whose manifest disagrees with its own configuration.
package manifest

import (
	"strconv"
	"time"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// BuildStatus is the lifecycle state of a corpus index.
type BuildStatus string

const (
	StatusIdle     BuildStatus = "idle"
	StatusBuilding BuildStatus = "building"
	StatusComplete BuildStatus = "complete"
	StatusError    BuildStatus = "error"
)

// ChunkerSnapshot pins the chunking parameters an index was built
// with. Chunk IDs are only stable under identical parameters.
type ChunkerSnapshot struct {
	Strategy        string `json:"strategy"`
	ChunkSize       int    `json:"chunk_size"`
	ChunkOverlap    int    `json:"chunk_overlap"`
	MinChunkChars   int    `json:"min_chunk_chars"`
	MaxChunkTokens  int    `json:"max_chunk_tokens"`
	ASTOverlapLines int    `json:"ast_overlap_lines"`
	PreserveImports bool   `json:"preserve_imports"`
}

// AdapterPointer references the reranker adapter active when the
// manifest was last written.
type AdapterPointer struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
	PromotedAt  string `json:"promoted_at,omitempty"`
}

// Manifest describes one corpus index.
type Manifest struct {
	CorpusID  string    `json:"corpus_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Embedding lock. A query-time embedder must match all three
	// fields before any retriever runs against this index.
	EmbeddingProvider  string `json:"embedding_provider"`
	EmbeddingModel     string `json:"embedding_model"`
	EmbeddingDimension int    `json:"embedding_dimension"`

	Chunker ChunkerSnapshot `json:"chunker"`

	// Sparse index pin: backend and tokenizer must match at query
	// time or scores are incomparable.
	SparseBackend   string `json:"sparse_backend"`
	SparseTokenizer string `json:"sparse_tokenizer"`

	GraphBackend string `json:"graph_backend,omitempty"`

	BuildStatus BuildStatus `json:"build_status"`
	BuildError  string      `json:"build_error,omitempty"`

	FileCount   int `json:"file_count"`
	ChunkCount  int `json:"chunk_count"`
	EntityCount int `json:"entity_count"`

	Adapter      *AdapterPointer `json:"adapter,omitempty"`
	TripletCount int             `json:"triplet_count"`
}

// EmbedderInfo is what a manifest compatibility check needs to know
// about the query-time embedder.
type EmbedderInfo struct {
	Provider  string
	Model     string
	Dimension int
}

// SparseInfo pins the query-time sparse configuration.
type SparseInfo struct {
	Backend   string
	Tokenizer string
}

// CheckEmbedder verifies the dimension lock. Any mismatch returns a
// ManifestMismatch error naming both sides; the caller must not run a
// single retriever after that.
func (m *Manifest) CheckEmbedder(info EmbedderInfo) error {
	if m.EmbeddingDimension != info.Dimension {
		return apperrors.Newf(apperrors.KindManifestMismatch,
			"index built with dimension %d, embedder produces %d",
			m.EmbeddingDimension, info.Dimension).
			WithDetail("corpus_id", m.CorpusID).
			WithDetail("index_dimension", strconv.Itoa(m.EmbeddingDimension)).
			WithDetail("embedder_dimension", strconv.Itoa(info.Dimension))
	}
	if m.EmbeddingProvider != info.Provider || m.EmbeddingModel != info.Model {
		return apperrors.Newf(apperrors.KindManifestMismatch,
			"index built with %s/%s, embedder is %s/%s",
			m.EmbeddingProvider, m.EmbeddingModel, info.Provider, info.Model).
			WithDetail("corpus_id", m.CorpusID)
	}
	return nil
}

// CheckSparse verifies the sparse backend and tokenizer pin.
func (m *Manifest) CheckSparse(info SparseInfo) error {
	if m.SparseBackend != info.Backend {
		return apperrors.Newf(apperrors.KindManifestMismatch,
			"index built with sparse backend %q, configured backend is %q",
			m.SparseBackend, info.Backend).
			WithDetail("corpus_id", m.CorpusID)
	}
	if m.SparseTokenizer != info.Tokenizer {
		return apperrors.Newf(apperrors.KindManifestMismatch,
			"index built with tokenizer %q, configured tokenizer is %q",
			m.SparseTokenizer, info.Tokenizer).
			WithDetail("corpus_id", m.CorpusID)
	}
	return nil
}

// CheckReady rejects searches against incomplete or failed builds.
func (m *Manifest) CheckReady() error {
	switch m.BuildStatus {
	case StatusComplete:
		return nil
	case StatusBuilding:
		return apperrors.Newf(apperrors.KindBuildConflict,
			"corpus %s is still building", m.CorpusID)
	case StatusError:
		return apperrors.Newf(apperrors.KindBuildFailed,
			"corpus %s last build failed: %s", m.CorpusID, m.BuildError)
	default:
		return apperrors.Newf(apperrors.KindBuildFailed,
			"corpus %s has never completed a build", m.CorpusID)
	}
}
