package retrieval

import (
	"context"

	"github.com/tribridrag/tribridrag/internal/store"
)

// SparseRetriever runs BM25 keyword search over the corpus lexical
// index. Scores are in BM25 space; fusion normalizes across spaces.
type SparseRetriever struct {
	index store.SparseIndex
	topK  int
}

func NewSparseRetriever(index store.SparseIndex, topK int) *SparseRetriever {
	if topK <= 0 {
		topK = 20
	}
	return &SparseRetriever{index: index, topK: topK}
}

func (r *SparseRetriever) Name() string { return ModalitySparse }

func (r *SparseRetriever) Retrieve(ctx context.Context, _, query string) ([]Candidate, error) {
	hits, err := r.index.Search(ctx, query, r.topK)
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, len(hits))
	for i, h := range hits {
		candidates[i] = Candidate{ChunkID: h.ChunkID, Score: h.Score, Rank: i + 1}
	}
	return candidates, nil
}
