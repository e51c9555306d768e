package embeddings

import (
	"os"

	"github.com/rotisserie/eris"

	"github.com/lexreview/lexreview/internal/config"
)

// New builds the embedder selected by cfg. API keys come from the
// provider's conventional environment variable.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case config.ProviderHash:
		return NewHashEmbedder(cfg.Dimensions), nil
	case config.ProviderOllama:
		return NewOllamaEmbedder(cfg.Model, cfg.Dimensions, cfg.BaseURL), nil
	case config.ProviderOpenAI:
		key := os.Getenv(config.APIKeyEnvVar(config.ProviderOpenAI))
		if key == "" && cfg.BaseURL == "" {
			return nil, eris.New("OPENAI_API_KEY is not set; set it or use embedding.provider=hash")
		}
		return NewOpenAIEmbedder(key, OpenAIModel(cfg.Model), cfg.Dimensions, cfg.BaseURL), nil
	default:
		return nil, eris.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}
