package retrieval

import (
	"context"

	"github.com/tribridrag/tribridrag/internal/embed"
	"github.com/tribridrag/tribridrag/internal/store"
)

// VectorRetriever embeds the query and runs nearest-neighbor search
// over the corpus vector index. Hits below the similarity floor are
// dropped.
type VectorRetriever struct {
	embedder  embed.Embedder
	index     store.VectorIndex
	topK      int
	threshold float64
}

func NewVectorRetriever(embedder embed.Embedder, index store.VectorIndex, topK int, threshold float64) *VectorRetriever {
	if topK <= 0 {
		topK = 20
	}
	return &VectorRetriever{embedder: embedder, index: index, topK: topK, threshold: threshold}
}

func (r *VectorRetriever) Name() string { return ModalityVector }

func (r *VectorRetriever) Retrieve(ctx context.Context, _, query string) ([]Candidate, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := r.index.Search(ctx, vec, r.topK)
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) < r.threshold {
			continue
		}
		candidates = append(candidates, Candidate{
			ChunkID: h.ChunkID,
			Score:   float64(h.Score),
			Rank:    len(candidates) + 1,
		})
	}
	return candidates, nil
}
