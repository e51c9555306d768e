package llm

import (
	"os"

	"github.com/rotisserie/eris"

	"github.com/lexreview/lexreview/internal/config"
)

// NewProvider creates the LLM provider selected by cfg, wrapped with usage
// metering and, when cfg.RequestsPerMinute > 0, a rate limiter.
func NewProvider(cfg config.LLMConfig) (*MeteredProvider, error) {
	base, err := newBaseProvider(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerMinute > 0 {
		base = NewRateLimitedProvider(base, cfg.RequestsPerMinute)
	}
	return NewMeteredProvider(base), nil
}

func newBaseProvider(cfg config.LLMConfig) (Provider, error) {
	apiKey := func() (string, error) {
		envVar := config.APIKeyEnvVar(cfg.Provider)
		key := os.Getenv(envVar)
		if key == "" {
			return "", eris.Errorf("%s environment variable is not set", envVar)
		}
		return key, nil
	}

	switch cfg.Provider {
	case config.ProviderAnthropic:
		key, err := apiKey()
		if err != nil {
			return nil, err
		}
		return NewAnthropicProvider(key, cfg.Model, cfg.BaseURL), nil

	case config.ProviderOpenAI:
		key, err := apiKey()
		if err != nil {
			return nil, err
		}
		return NewOpenAICompatibleProvider("openai", key, cfg.Model, cfg.BaseURL), nil

	case config.ProviderMistral:
		key, err := apiKey()
		if err != nil {
			return nil, err
		}
		return NewMistralProvider(key, cfg.Model, cfg.BaseURL), nil

	case config.ProviderOllama:
		host := cfg.BaseURL
		if host == "" {
			host = os.Getenv("OLLAMA_HOST")
		}
		return NewOllamaProvider(host, cfg.Model), nil

	default:
		return nil, eris.Errorf("unsupported provider type: %s", cfg.Provider)
	}
}
