package embed

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Aman-CERP/recall/internal/config"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOpenAI uses the OpenAI embeddings API.
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings. Offline and deterministic.
	ProviderStatic ProviderType = "static"

	// ProviderAuto picks OpenAI when OPENAI_API_KEY is set, static otherwise.
	ProviderAuto ProviderType = ""
)

// NewEmbedder creates the embedder named by cfg.Provider. The RECALL_EMBEDDER
// environment variable overrides the configured provider.
//
// Query embedding caching is enabled unless RECALL_EMBED_CACHE is false.
func NewEmbedder(cfg config.EmbeddingsConfig) (Embedder, error) {
	provider := ProviderType(strings.ToLower(cfg.Provider))
	if env := os.Getenv("RECALL_EMBEDDER"); env != "" {
		provider = ProviderType(strings.ToLower(env))
	}

	var embedder Embedder
	switch provider {
	case ProviderOpenAI:
		e, err := newOpenAI(cfg)
		if err != nil {
			return nil, err
		}
		embedder = e

	case ProviderStatic:
		embedder = NewStaticEmbedder(StaticDimensions)

	case ProviderAuto:
		if os.Getenv("OPENAI_API_KEY") == "" {
			slog.Info("embeddings using static provider", slog.String("reason", "OPENAI_API_KEY not set"))
			embedder = NewStaticEmbedder(StaticDimensions)
			break
		}
		e, err := newOpenAI(cfg)
		if err != nil {
			return nil, err
		}
		embedder = e

	default:
		return nil, fmt.Errorf("unknown embedding provider %q (want openai or static)", provider)
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}
	return embedder, nil
}

func newOpenAI(cfg config.EmbeddingsConfig) (*OpenAIEmbedder, error) {
	return NewOpenAIEmbedder(OpenAIConfig{
		APIKey:     os.Getenv("OPENAI_API_KEY"),
		BaseURL:    os.Getenv("OPENAI_BASE_URL"),
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		BatchSize:  cfg.BatchSize,
	})
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("RECALL_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}
