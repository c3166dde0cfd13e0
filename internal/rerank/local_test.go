package rerank

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tribridrag/tribridrag/internal/config"
	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

func localConfig(endpoint string) config.RerankerConfig {
	return config.RerankerConfig{
		Mode:          ModeLocal,
		LocalModel:    "cross-encoder-base",
		LocalEndpoint: endpoint,
		TopN:          2,
		BatchSize:     16,
		MaxLength:     128,
	}
}

func TestLocalRerankerOrdersByScore(t *testing.T) {
	server := newScoreServer(t, func(req scoreRequest) []float64 {
		scores := make([]float64, len(req.Documents))
		for i, d := range req.Documents {
			if strings.Contains(d, "Login") {
				scores[i] = 0.95
			} else {
				scores[i] = 0.1
			}
		}
		return scores
	})
	defer server.Close()

	r, err := NewLocalReranker(localConfig(server.URL), slog.Default())
	require.NoError(t, err)
	defer r.Close()

	out, err := r.Rerank(context.Background(), "login", testDocs())
	require.NoError(t, err)
	require.Len(t, out.Scores, 2)
	assert.Equal(t, "c1", out.Scores[0].ChunkID)
	assert.InDelta(t, 0.95, out.Scores[0].Score, 1e-9)
	assert.Equal(t, "cross-encoder-base", out.Version)
}

func TestLocalRerankerNeverInventsChunks(t *testing.T) {
	server := newScoreServer(t, func(req scoreRequest) []float64 {
		return make([]float64, len(req.Documents))
	})
	defer server.Close()

	r, err := NewLocalReranker(localConfig(server.URL), slog.Default())
	require.NoError(t, err)
	defer r.Close()

	docs := testDocs()
	out, err := r.Rerank(context.Background(), "login", docs)
	require.NoError(t, err)

	known := map[string]bool{}
	for _, d := range docs {
		known[d.ChunkID] = true
	}
	for _, s := range out.Scores {
		assert.True(t, known[s.ChunkID])
	}
}

func TestLocalRerankerBatchesLargeLists(t *testing.T) {
	var calls int
	server := newScoreServer(t, func(req scoreRequest) []float64 {
		calls++
		assert.LessOrEqual(t, len(req.Documents), 2)
		return make([]float64, len(req.Documents))
	})
	defer server.Close()

	cfg := localConfig(server.URL)
	cfg.BatchSize = 2
	cfg.TopN = 10
	r, err := NewLocalReranker(cfg, slog.Default())
	require.NoError(t, err)
	defer r.Close()

	out, err := r.Rerank(context.Background(), "login", testDocs())
	require.NoError(t, err)
	assert.Len(t, out.Scores, 3)
	assert.Equal(t, 2, calls)
}

func TestLocalRerankerServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model load failed", http.StatusInternalServerError)
	}))
	defer server.Close()

	r, err := NewLocalReranker(localConfig(server.URL), slog.Default())
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Rerank(context.Background(), "login", testDocs())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUpstreamFailure, apperrors.KindOf(err))
}

func TestLocalRerankerRequiresModel(t *testing.T) {
	_, err := NewLocalReranker(config.RerankerConfig{Mode: ModeLocal}, slog.Default())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConfig, apperrors.KindOf(err))
}

func TestLocalRerankerEmptyInput(t *testing.T) {
	r, err := NewLocalReranker(localConfig("http://localhost:1"), slog.Default())
	require.NoError(t, err)
	defer r.Close()

	out, err := r.Rerank(context.Background(), "login", nil)
	require.NoError(t, err)
	assert.Empty(t, out.Scores)
}
