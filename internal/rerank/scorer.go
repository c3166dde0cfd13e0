package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// Local scoring server defaults.
const (
	defaultScorerEndpoint = "http://localhost:9659"
	defaultScorerTimeout  = 30 * time.Second
	defaultBatchSize      = 16
	defaultMaxLength      = 512
)

// scorerClient talks to a local cross-encoder scoring server. The
// server exposes POST /rerank scoring (query, documents) pairs with an
// optional adapter layered over the base model.
type scorerClient struct {
	client    *http.Client
	endpoint  string
	model     string
	batchSize int
	maxLength int
	timeout   time.Duration
}

func newScorerClient(endpoint, model string, batchSize, maxLength int, timeout time.Duration) *scorerClient {
	if endpoint == "" {
		endpoint = defaultScorerEndpoint
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}
	if timeout <= 0 {
		timeout = defaultScorerTimeout
	}
	return &scorerClient{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		endpoint:  endpoint,
		model:     model,
		batchSize: batchSize,
		maxLength: maxLength,
		timeout:   timeout,
	}
}

type scoreRequest struct {
	Query       string   `json:"query"`
	Documents   []string `json:"documents"`
	Model       string   `json:"model,omitempty"`
	AdapterPath string   `json:"adapter_path,omitempty"`
	MaxLength   int      `json:"max_length,omitempty"`
}

type scoreResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// score returns one score per document, in document order. Documents
// are split into batches so a large fused list never exceeds the
// server's pair limit. adapterPath is empty for base-model scoring.
func (c *scorerClient) score(ctx context.Context, query string, docs []string, adapterPath string) ([]float64, error) {
	scores := make([]float64, len(docs))
	for start := 0; start < len(docs); start += c.batchSize {
		end := start + c.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch, err := c.scoreBatch(ctx, query, docs[start:end], adapterPath)
		if err != nil {
			return nil, err
		}
		copy(scores[start:], batch)
	}
	return scores, nil
}

func (c *scorerClient) scoreBatch(ctx context.Context, query string, docs []string, adapterPath string) ([]float64, error) {
	truncated := make([]string, len(docs))
	for i, d := range docs {
		truncated[i] = truncateChars(d, c.maxLength*charsPerToken)
	}
	body, err := json.Marshal(scoreRequest{
		Query:       query,
		Documents:   truncated,
		Model:       c.model,
		AdapterPath: adapterPath,
		MaxLength:   c.maxLength,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "encode rerank request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "create rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.Wrap(apperrors.KindUpstreamTimeout, "rerank request timed out", err)
		}
		return nil, apperrors.Wrap(apperrors.KindUpstreamFailure, "rerank request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperrors.Newf(apperrors.KindUpstreamFailure,
			"rerank failed (status %d): %s", resp.StatusCode, string(raw))
	}

	var parsed scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.Wrap(apperrors.KindUpstreamFailure, "decode rerank response", err)
	}
	if len(parsed.Results) != len(docs) {
		return nil, apperrors.Newf(apperrors.KindUpstreamFailure,
			"rerank returned %d scores for %d documents", len(parsed.Results), len(docs))
	}

	scores := make([]float64, len(docs))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(docs) {
			return nil, apperrors.Newf(apperrors.KindUpstreamFailure,
				"rerank returned out-of-range index %d", r.Index)
		}
		scores[r.Index] = r.Score
	}
	return scores, nil
}

// healthCheck verifies the scoring server is reachable.
func (c *scorerClient) healthCheck(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "create health request", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindUpstreamFailure, "scoring server unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperrors.Newf(apperrors.KindUpstreamFailure,
			"scoring server unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

const charsPerToken = 4

func truncateChars(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// rankByScore builds descending-ordered output from parallel slices,
// truncated to topN. Ties keep the incoming document order so the
// result is deterministic.
func rankByScore(docs []Document, scores []float64, topN int) []Score {
	ranked := make([]Score, len(docs))
	order := make([]int, len(docs))
	for i := range docs {
		order[i] = i
	}
	// Insertion sort by descending score, stable on input order. Fused
	// lists are small (final_k), so this stays cheap.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && scores[order[j]] > scores[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	for i, idx := range order {
		ranked[i] = Score{ChunkID: docs[idx].ChunkID, Score: scores[idx]}
	}
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}
