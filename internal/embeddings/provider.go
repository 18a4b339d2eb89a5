package embeddings

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/common/config"
	"github.com/lunarr-ai/a4s/internal/common/logger"
)

// Provide builds the configured embedder. Unknown providers are an error so
// a typo does not silently degrade search quality.
func Provide(cfg config.EmbeddingsConfig, log *logger.Logger) (Embedder, error) {
	switch cfg.Provider {
	case "", "local":
		log.Info("Using local hashing embedder", zap.Int("dimensions", cfg.Dimensions))
		return NewLocalEmbedder(cfg.Dimensions), nil
	case "openai":
		log.Info("Using OpenAI-compatible embedder",
			zap.String("base_url", cfg.BaseURL),
			zap.String("model", cfg.Model))
		return NewOpenAIEmbedder(OpenAIOptions{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.TimeoutDuration(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %q", cfg.Provider)
	}
}
