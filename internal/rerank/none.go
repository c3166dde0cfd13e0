package rerank

import "context"

// NoneReranker is the identity reranker. It preserves the incoming
// order, assigns no scores, and truncates to top-n.
type NoneReranker struct {
	topN int
}

func NewNoneReranker(topN int) *NoneReranker {
	return &NoneReranker{topN: topN}
}

func (r *NoneReranker) Mode() string { return ModeNone }

func (r *NoneReranker) Rerank(_ context.Context, _ string, docs []Document) (*Output, error) {
	n := len(docs)
	if r.topN > 0 && n > r.topN {
		n = r.topN
	}
	scores := make([]Score, n)
	for i := 0; i < n; i++ {
		scores[i] = Score{ChunkID: docs[i].ChunkID}
	}
	return &Output{Scores: scores, Version: ModeNone}, nil
}

func (r *NoneReranker) Close() error { return nil }
