package embed

import (
	"log/slog"

	"github.com/tribridrag/tribridrag/internal/config"
	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

// New builds the configured embedder wrapped in the content-addressed
// cache.
func New(cfg config.EmbeddingConfig, log *slog.Logger) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch cfg.Provider {
	case "openai":
		inner, err = NewOpenAIEmbedder(OpenAIOptions{
			APIKey:     cfg.APIKey(),
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimension,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
			RetryMax:   cfg.RetryMax,
		}, log)
	case "static":
		inner = NewStaticEmbedder(cfg.Dimension)
	default:
		err = apperrors.Newf(apperrors.KindConfig, "unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewCachedEmbedder(inner, cfg.CacheDir, cfg.MemoryCacheSize, log)
}
