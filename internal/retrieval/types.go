// Package retrieval is the query path: three retrievers (dense vector,
// sparse BM25, graph walk) fanned out in parallel, rank fusion, result
// shaping, and cross-encoder reranking, orchestrated under an overall
// deadline with per-modality sub-deadlines.
package retrieval

import (
	"time"

	"github.com/tribridrag/tribridrag/internal/chunk"
)

// Modality names, also the keys of Response.PerModality.
const (
	ModalityVector = "vector"
	ModalitySparse = "sparse"
	ModalityGraph  = "graph"
)

// ModalityState describes how one retriever fared during a query.
type ModalityState string

const (
	StateOK       ModalityState = "ok"
	StateDisabled ModalityState = "disabled"
	StateTimeout  ModalityState = "timeout"
	StateFailed   ModalityState = "failed"
)

// ModalityStatus is the per-retriever slice of a query's metadata.
type ModalityStatus struct {
	State   ModalityState `json:"state"`
	Count   int           `json:"count"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// VirtualDoc carries content for a match with no backing chunk, such
// as a community summary surfaced by the graph retriever.
type VirtualDoc struct {
	Kind    string
	Title   string
	Content string
}

// Candidate is one retriever hit before fusion. Rank is 1-based within
// the retriever's own list.
type Candidate struct {
	ChunkID string
	Score   float64
	Rank    int
	Virtual *VirtualDoc
}

// Match is a final result row. Score is in the space of the last stage
// that scored it; FusedScore preserves the fusion score when a
// reranker replaced it.
type Match struct {
	ChunkID    string            `json:"chunk_id"`
	Chunk      *chunk.Chunk      `json:"chunk,omitempty"`
	Score      float64           `json:"score"`
	FusedScore float64           `json:"fused_score"`
	Sources    []string          `json:"sources"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Request is the query contract.
type Request struct {
	CorpusID string
	Query    string
	// TopK overrides the configured result count when positive.
	TopK int
	// Deadline overrides the configured overall deadline when positive.
	Deadline time.Duration
	// IncludeVector/Sparse/Graph override the configured enablement for
	// this query; nil keeps the config value.
	IncludeVector *bool
	IncludeSparse *bool
	IncludeGraph  *bool
}

// Response is what a query returns.
type Response struct {
	Matches         []Match                   `json:"matches"`
	FusionMethod    string                    `json:"fusion_method"`
	RerankerMode    string                    `json:"reranker_mode"`
	RerankerVersion string                    `json:"reranker_version,omitempty"`
	Degraded        bool                      `json:"degraded,omitempty"`
	Latency         time.Duration             `json:"latency"`
	PerModality     map[string]ModalityStatus `json:"per_modality"`
}
