package rerank

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tribridrag/tribridrag/internal/config"
	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// LocalReranker scores pairs with a fixed cross-encoder on a local
// scoring server. No adapter is involved; Version is the model name.
type LocalReranker struct {
	scorer *scorerClient
	model  string
	topN   int
	log    *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewLocalReranker(cfg config.RerankerConfig, log *slog.Logger) (*LocalReranker, error) {
	if cfg.LocalModel == "" {
		return nil, apperrors.New(apperrors.KindConfig, "local reranker requires local_model")
	}
	return &LocalReranker{
		scorer: newScorerClient(cfg.LocalEndpoint, cfg.LocalModel, cfg.BatchSize, cfg.MaxLength, cfg.Timeout),
		model:  cfg.LocalModel,
		topN:   cfg.TopN,
		log:    log,
	}, nil
}

func (r *LocalReranker) Mode() string { return ModeLocal }

func (r *LocalReranker) Rerank(ctx context.Context, query string, docs []Document) (*Output, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, apperrors.New(apperrors.KindInternal, "reranker is closed")
	}
	r.mu.RUnlock()

	if len(docs) == 0 {
		return &Output{Version: r.model}, nil
	}

	contents := make([]string, len(docs))
	for i, d := range docs {
		contents[i] = d.Content
	}
	scores, err := r.scorer.score(ctx, query, contents, "")
	if err != nil {
		return nil, err
	}
	return &Output{Scores: rankByScore(docs, scores, r.topN), Version: r.model}, nil
}

func (r *LocalReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
