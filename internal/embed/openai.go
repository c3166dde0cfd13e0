package embed

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// OpenAIOptions configures the OpenAI-compatible embedding provider.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string // empty means api.openai.com
	Model      string
	Dimensions int // requested output dimension; 0 uses the model default
	BatchSize  int
	Timeout    time.Duration
	RetryMax   int
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	batchSize  int
	timeout    time.Duration
	retry      apperrors.RetryConfig
	log        *slog.Logger
}

// NewOpenAIEmbedder creates the provider. Dimensions must be set: the
// index layer locks on it before any vector is written.
func NewOpenAIEmbedder(opts OpenAIOptions, log *slog.Logger) (*OpenAIEmbedder, error) {
	if opts.APIKey == "" {
		return nil, apperrors.New(apperrors.KindConfig, "openai embedder requires an API key")
	}
	if opts.Model == "" {
		return nil, apperrors.New(apperrors.KindConfig, "openai embedder requires a model name")
	}
	if opts.Dimensions <= 0 {
		return nil, apperrors.New(apperrors.KindConfig, "openai embedder requires an explicit dimension")
	}
	if opts.BatchSize < MinBatchSize || opts.BatchSize > MaxBatchSize {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	retry := apperrors.DefaultRetryConfig()
	if opts.RetryMax > 0 {
		retry.MaxRetries = opts.RetryMax
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      opts.Model,
		dimensions: opts.Dimensions,
		batchSize:  opts.BatchSize,
		timeout:    opts.Timeout,
		retry:      retry,
		log:        log,
	}, nil
}

func (e *OpenAIEmbedder) Dimensions() int   { return e.dimensions }
func (e *OpenAIEmbedder) Provider() string  { return "openai" }
func (e *OpenAIEmbedder) ModelName() string { return e.model }
func (e *OpenAIEmbedder) Close() error      { return nil }

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in provider-sized batches, retrying
// transient failures with backoff.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedBatchOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}
	return results, nil
}

func (e *OpenAIEmbedder) embedBatchOnce(ctx context.Context, texts []string) ([][]float32, error) {
	return apperrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		resp, err := e.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
			Input:      texts,
			Model:      openai.EmbeddingModel(e.model),
			Dimensions: e.dimensions,
		})
		if err != nil {
			return nil, e.classify(err)
		}
		if len(resp.Data) != len(texts) {
			return nil, apperrors.Newf(apperrors.KindUpstreamFailure,
				"embedding provider returned %d vectors for %d inputs", len(resp.Data), len(texts))
		}

		vecs := make([][]float32, len(texts))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(texts) {
				return nil, apperrors.Newf(apperrors.KindUpstreamFailure,
					"embedding provider returned out-of-range index %d", d.Index)
			}
			if len(d.Embedding) != e.dimensions {
				return nil, apperrors.Newf(apperrors.KindUpstreamFailure,
					"embedding provider returned dimension %d, want %d", len(d.Embedding), e.dimensions)
			}
			vecs[d.Index] = d.Embedding
		}
		return vecs, nil
	})
}

// classify maps a provider error to a structured kind. Timeouts and
// 5xx/429 responses are retryable; everything else is not.
func (e *OpenAIEmbedder) classify(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.KindUpstreamTimeout, "embedding request timed out", err)
	}
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return apperrors.Wrap(apperrors.KindUpstreamFailure, "embedding provider error", err)
		}
		wrapped := apperrors.Wrap(apperrors.KindUpstreamFailure, "embedding provider rejected request", err)
		wrapped.Retryable = false
		return wrapped
	}
	return apperrors.Wrap(apperrors.KindUpstreamFailure, "embedding request failed", err)
}
