package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Aman-CERP/recall/internal/config"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// Provider names accepted by llm.provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderStatic    = "static"
	ProviderAuto      = ""
)

// Capabilities bundles the two capabilities built from one provider.
type Capabilities struct {
	Generator   SubQueryGenerator
	Synthesizer Synthesizer
	Provider    string
	Model       string
}

// New builds the capabilities for cfg. The auto provider prefers OpenAI,
// then Anthropic, by which API key is set, and falls back to static.
func New(cfg config.LLMConfig) (*Capabilities, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == ProviderAuto {
		provider = detectProvider()
		slog.Debug("llm_provider_detected", slog.String("provider", provider))
	}

	var client Client
	switch provider {
	case ProviderOpenAI:
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, missingKey("OPENAI_API_KEY")
		}
		client = NewOpenAIClient(OpenAIConfig{
			APIKey:  key,
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   modelFor(provider, cfg.Model),
		})

	case ProviderAnthropic:
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, missingKey("ANTHROPIC_API_KEY")
		}
		client = NewAnthropicClient(AnthropicConfig{
			APIKey:  key,
			BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			Model:   modelFor(provider, cfg.Model),
		})

	case ProviderStatic:
		s := NewStatic()
		return &Capabilities{Generator: s, Synthesizer: s, Provider: ProviderStatic, Model: ProviderStatic}, nil

	default:
		return nil, rerrors.ConfigError(fmt.Sprintf("unknown llm provider %q", cfg.Provider), nil)
	}

	timeout, _ := time.ParseDuration(cfg.Timeout)
	guarded := NewGuarded(client, GuardConfig{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Timeout:           timeout,
	})
	gen := NewGenerator(guarded, cfg.MaxTokens)
	return &Capabilities{
		Generator:   gen,
		Synthesizer: gen,
		Provider:    client.Provider(),
		Model:       client.Model(),
	}, nil
}

func detectProvider() string {
	switch {
	case os.Getenv("OPENAI_API_KEY") != "":
		return ProviderOpenAI
	case os.Getenv("ANTHROPIC_API_KEY") != "":
		return ProviderAnthropic
	default:
		return ProviderStatic
	}
}

// modelFor drops a model name that belongs to the other provider, so the
// OpenAI default does not leak into Anthropic requests.
func modelFor(provider, model string) string {
	lower := strings.ToLower(model)
	switch provider {
	case ProviderAnthropic:
		if !strings.HasPrefix(lower, "claude") {
			return DefaultAnthropicModel
		}
	case ProviderOpenAI:
		if strings.HasPrefix(lower, "claude") {
			return DefaultOpenAIModel
		}
	}
	return model
}

func missingKey(env string) error {
	return rerrors.ConfigError(env+" is not set", nil).
		WithSuggestion("Export " + env + " or set llm.provider: static")
}
