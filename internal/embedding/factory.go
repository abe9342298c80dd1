package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/callscope/internal/config"
	"github.com/hyperjump/callscope/internal/openai"
)

// New builds the embedder selected by cfg, wrapped in an LRU cache when a cache size
// is configured.
func New(cfg *config.Config, logger *zap.Logger) (Embedder, error) {
	var inner Embedder
	switch provider := cfg.Embedding.ResolvedProvider(cfg.OpenAI.APIKey); provider {
	case config.ProviderOpenAI:
		client := openai.New("embedding", openai.Config{
			BaseURL:           cfg.OpenAI.BaseURL,
			APIKey:            cfg.OpenAI.APIKey,
			Timeout:           cfg.Embedding.Timeout,
			MaxRetries:        cfg.Embedding.MaxRetries,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
			Burst:             1,
		}, openai.WithLogger(logger))
		inner = NewOpenAIEmbedder(client, OpenAIOptions{
			Model:         cfg.Embedding.Model,
			Dimensions:    cfg.Embedding.Dimensions,
			BatchSize:     cfg.Embedding.BatchSize,
			MaxInputChars: cfg.Embedding.MaxInputChars,
		}, logger)
	case config.ProviderLexicon:
		inner = NewLexiconEmbedder()
	case config.ProviderMock:
		inner = NewMockEmbedder(cfg.Embedding.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
	if cfg.Embedding.CacheSize <= 0 {
		return inner, nil
	}
	cached, err := NewCachedEmbedder(inner, cfg.Embedding.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return cached, nil
}
