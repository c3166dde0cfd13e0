// Package rerank re-scores fused retrieval candidates with a
// cross-encoder. Four modes: none (identity), local (fixed model on a
// local scoring server), learned (local plus a hot-reloadable adapter),
// and cloud (external rerank API). A reranker only reorders and
// truncates: it never introduces chunks the fused list did not contain.
package rerank

import (
	"context"
	"log/slog"

	"github.com/tribridrag/tribridrag/internal/config"
	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// Reranking modes.
const (
	ModeNone    = "none"
	ModeLocal   = "local"
	ModeLearned = "learned"
	ModeCloud   = "cloud"
)

// Document is one candidate pair member: the chunk content scored
// against the query.
type Document struct {
	ChunkID string
	Content string
}

// Score is one reranked candidate.
type Score struct {
	ChunkID string
	Score   float64
}

// Output is a rerank batch result. Version identifies the weights that
// scored it: the model name for local and cloud, the adapter
// fingerprint for learned. One batch is always scored by exactly one
// version.
type Output struct {
	Scores  []Score
	Version string
}

// Reranker scores query/document pairs and returns the top documents
// in descending score order, truncated to the configured top-n.
type Reranker interface {
	Mode() string
	Rerank(ctx context.Context, query string, docs []Document) (*Output, error)
	Close() error
}

// New builds the reranker named by the configuration.
func New(cfg config.RerankerConfig, log *slog.Logger) (Reranker, error) {
	if log == nil {
		log = slog.Default()
	}
	switch cfg.Mode {
	case ModeNone, "":
		return NewNoneReranker(cfg.TopN), nil
	case ModeLocal:
		return NewLocalReranker(cfg, log)
	case ModeLearned:
		return NewLearnedReranker(cfg, log)
	case ModeCloud:
		return NewCloudReranker(cfg, log)
	default:
		return nil, apperrors.Newf(apperrors.KindConfig, "unknown reranker mode %q", cfg.Mode)
	}
}
