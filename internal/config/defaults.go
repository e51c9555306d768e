package config

import "time"

// DefaultConfigFile is the config path used when --config is not given.
const DefaultConfigFile = ".lexreview.yml"

// modelPresets maps each LLM provider to its default completion model.
var modelPresets = map[ProviderType]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-sonnet-4-5-20250929",
	ProviderMistral:   "mistral-small-latest",
	ProviderOllama:    "llama3",
}

// embeddingPresets maps each embedding provider to its default model and dimensions.
var embeddingPresets = map[ProviderType]struct {
	Model      string
	Dimensions int
}{
	ProviderOpenAI: {Model: "text-embedding-3-small", Dimensions: 1536},
	ProviderOllama: {Model: "nomic-embed-text", Dimensions: 768},
	ProviderHash:   {Model: "hash-384", Dimensions: 384},
}

// DefaultConfig returns a configuration that works offline for indexing and
// review storage; an LLM API key is still required for suggestions.
func DefaultConfig() *Config {
	return &Config{
		DataDir:      "data",
		TemplatesDir: "data/templates",
		ChunksFile:   "data/chunks/processed_chunks.json",
		LLM: LLMConfig{
			Provider:          ProviderMistral,
			Model:             modelPresets[ProviderMistral],
			RequestsPerMinute: 60,
		},
		Embedding: EmbeddingConfig{
			Provider:   ProviderOpenAI,
			Model:      embeddingPresets[ProviderOpenAI].Model,
			Dimensions: embeddingPresets[ProviderOpenAI].Dimensions,
		},
		Vector: VectorConfig{
			Backend:  BackendChromem,
			Compress: true,
			Table:    "lexreview_vectors",
		},
		Retrieval: RetrievalConfig{
			DefaultK:     5,
			MinScore:     0,
			PreviewChars: 500,
		},
		Review: ReviewConfig{
			Store:               SessionStoreMemory,
			SessionTTL:          24 * time.Hour,
			SweepInterval:       10 * time.Minute,
			ConfidenceThreshold: 0.7,
			MaxConcurrency:      4,
		},
		Server: ServerConfig{
			Port:           8000,
			RequestTimeout: 120 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultModel returns the default completion model for a provider, or ""
// when the provider is unknown.
func DefaultModel(provider ProviderType) string {
	return modelPresets[provider]
}

// DefaultEmbedding returns the default embedding model and dimension count
// for a provider. Unknown providers fall back to the OpenAI preset.
func DefaultEmbedding(provider ProviderType) (string, int) {
	if p, ok := embeddingPresets[provider]; ok {
		return p.Model, p.Dimensions
	}
	p := embeddingPresets[ProviderOpenAI]
	return p.Model, p.Dimensions
}
