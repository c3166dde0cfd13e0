package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tribridrag/tribridrag/internal/config"
	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

const defaultCloudTimeout = 30 * time.Second

// CloudReranker sends pairs to an external rerank API. Transient
// failures are retried with backoff up to the configured max.
type CloudReranker struct {
	client   *http.Client
	endpoint string
	model    string
	apiKey   string
	topN     int
	timeout  time.Duration
	retry    apperrors.RetryConfig
	log      *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewCloudReranker(cfg config.RerankerConfig, log *slog.Logger) (*CloudReranker, error) {
	if cfg.CloudEndpoint == "" {
		return nil, apperrors.New(apperrors.KindConfig, "cloud reranker requires cloud_endpoint")
	}
	if cfg.CloudModel == "" {
		return nil, apperrors.New(apperrors.KindConfig, "cloud reranker requires cloud_model")
	}
	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, apperrors.Newf(apperrors.KindConfig,
				"environment variable %s is empty", cfg.APIKeyEnv)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCloudTimeout
	}
	retry := apperrors.DefaultRetryConfig()
	if cfg.RetryMax > 0 {
		retry.MaxRetries = cfg.RetryMax
	}
	return &CloudReranker{
		client:   &http.Client{},
		endpoint: cfg.CloudEndpoint,
		model:    cfg.CloudModel,
		apiKey:   apiKey,
		topN:     cfg.TopN,
		timeout:  timeout,
		retry:    retry,
		log:      log,
	}, nil
}

func (r *CloudReranker) Mode() string { return ModeCloud }

type cloudRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type cloudResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (r *CloudReranker) Rerank(ctx context.Context, query string, docs []Document) (*Output, error) {
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

	parsed, err := apperrors.RetryWithResult(ctx, r.retry, func() (*cloudResponse, error) {
		return r.call(ctx, query, contents)
	})
	if err != nil {
		return nil, err
	}

	scores := make([]Score, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(docs) {
			return nil, apperrors.Newf(apperrors.KindUpstreamFailure,
				"cloud reranker returned out-of-range index %d", res.Index)
		}
		scores = append(scores, Score{ChunkID: docs[res.Index].ChunkID, Score: res.RelevanceScore})
	}
	if r.topN > 0 && len(scores) > r.topN {
		scores = scores[:r.topN]
	}
	return &Output{Scores: scores, Version: r.model}, nil
}

func (r *CloudReranker) call(ctx context.Context, query string, docs []string) (*cloudResponse, error) {
	body, err := json.Marshal(cloudRequest{
		Model:     r.model,
		Query:     query,
		Documents: docs,
		TopN:      r.topN,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "encode cloud rerank request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "create cloud rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.Wrap(apperrors.KindUpstreamTimeout, "cloud rerank timed out", err)
		}
		return nil, apperrors.Wrap(apperrors.KindUpstreamFailure, "cloud rerank request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		wrapped := apperrors.Newf(apperrors.KindUpstreamFailure,
			"cloud rerank failed (status %d): %s", resp.StatusCode, string(raw))
		// 4xx other than rate limiting will not get better on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			wrapped.Retryable = false
		}
		return nil, wrapped
	}

	var parsed cloudResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.Wrap(apperrors.KindUpstreamFailure, "decode cloud rerank response", err)
	}
	return &parsed, nil
}

func (r *CloudReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
