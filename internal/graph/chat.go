package graph

import (
	"context"
	stderrors "errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// ChatModel generates text from a prompt. The graph builder uses it for
// semantic entity extraction and community summaries.
type ChatModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ChatOptions configures the OpenAI-compatible chat model.
type ChatOptions struct {
	APIKey  string
	BaseURL string // empty means api.openai.com
	Model   string
	Timeout time.Duration
}

// OpenAIChatModel calls an OpenAI-compatible chat completions endpoint.
type OpenAIChatModel struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	retry   apperrors.RetryConfig
}

var _ ChatModel = (*OpenAIChatModel)(nil)

// NewOpenAIChatModel creates the chat client.
func NewOpenAIChatModel(opts ChatOptions) (*OpenAIChatModel, error) {
	if opts.APIKey == "" {
		return nil, apperrors.New(apperrors.KindConfig, "chat model requires an API key")
	}
	if opts.Model == "" {
		return nil, apperrors.New(apperrors.KindConfig, "chat model requires a model name")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAIChatModel{
		client:  openai.NewClientWithConfig(cfg),
		model:   opts.Model,
		timeout: opts.Timeout,
		retry:   apperrors.DefaultRetryConfig(),
	}, nil
}

func (m *OpenAIChatModel) Generate(ctx context.Context, prompt string) (string, error) {
	return apperrors.RetryWithResult(ctx, m.retry, func() (string, error) {
		reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		resp, err := m.client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
			Model: m.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: 0,
		})
		if err != nil {
			return "", classifyChatError(err)
		}
		if len(resp.Choices) == 0 {
			return "", apperrors.New(apperrors.KindUpstreamFailure, "chat model returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// classifyChatError maps a provider error to a structured kind.
// Timeouts and 5xx/429 responses are retryable, other rejections not.
func classifyChatError(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.KindUpstreamTimeout, "chat request timed out", err)
	}
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return apperrors.Wrap(apperrors.KindUpstreamFailure, "chat provider error", err)
		}
		wrapped := apperrors.Wrap(apperrors.KindUpstreamFailure, "chat provider rejected request", err)
		wrapped.Retryable = false
		return wrapped
	}
	return apperrors.Wrap(apperrors.KindUpstreamFailure, "chat request failed", err)
}
