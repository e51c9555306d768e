package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rotisserie/eris"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides. Nested keys use a
// double underscore, e.g. LEXREVIEW_REVIEW__SESSION_TTL=2h.
const EnvPrefix = "LEXREVIEW_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (LEXREVIEW_*). A .env file in the working
// directory is loaded first when present; variables already set win.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, eris.Wrapf(err, "reading config %s", path)
		}
	} else if !os.IsNotExist(err) {
		return nil, eris.Wrapf(err, "accessing config %s", path)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, eris.Wrap(err, "loading env overrides")
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, eris.Wrap(err, "unmarshalling config")
	}

	return cfg, nil
}

// envKey maps LEXREVIEW_REVIEW__SESSION_TTL to review.session_ttl.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "marshalling config")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return eris.Wrapf(err, "writing config to %s", path)
	}
	return nil
}

var validLLMProviders = map[ProviderType]bool{
	ProviderOpenAI:    true,
	ProviderAnthropic: true,
	ProviderMistral:   true,
	ProviderOllama:    true,
}

var validEmbeddingProviders = map[ProviderType]bool{
	ProviderOpenAI: true,
	ProviderOllama: true,
	ProviderHash:   true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if !validLLMProviders[c.LLM.Provider] {
		return eris.Errorf("invalid llm.provider %q: must be one of openai, anthropic, mistral, ollama", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return eris.New("llm.model is required")
	}
	if c.LLM.RequestsPerMinute < 0 {
		return eris.New("llm.requests_per_minute must be non-negative")
	}

	if !validEmbeddingProviders[c.Embedding.Provider] {
		return eris.Errorf("invalid embedding.provider %q: must be one of openai, ollama, hash", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return eris.New("embedding.dimensions must be positive")
	}

	switch c.Vector.Backend {
	case BackendChromem:
	case BackendPGVector:
		if c.Vector.PostgresDSN == "" {
			return eris.New("vector.postgres_dsn is required for the pgvector backend")
		}
		if c.Vector.Table == "" {
			return eris.New("vector.table is required for the pgvector backend")
		}
	default:
		return eris.Errorf("invalid vector.backend %q: must be chromem or pgvector", c.Vector.Backend)
	}

	if c.Retrieval.DefaultK <= 0 {
		return eris.New("retrieval.default_k must be positive")
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return eris.New("retrieval.min_score must be within [0,1]")
	}
	if c.Retrieval.PreviewChars <= 0 {
		return eris.New("retrieval.preview_chars must be positive")
	}

	switch c.Review.Store {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if c.Review.RedisURL == "" {
			return eris.New("review.redis_url is required for the redis session store")
		}
	default:
		return eris.Errorf("invalid review.store %q: must be memory or redis", c.Review.Store)
	}
	if c.Review.SessionTTL <= 0 {
		return eris.New("review.session_ttl must be positive")
	}
	if c.Review.ConfidenceThreshold < 0 || c.Review.ConfidenceThreshold > 1 {
		return eris.New("review.confidence_threshold must be within [0,1]")
	}
	if c.Review.MaxConcurrency < 0 {
		return eris.New("review.max_concurrency must be non-negative")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return eris.Errorf("invalid server.port %d", c.Server.Port)
	}

	if c.DataDir == "" {
		return eris.New("data_dir is required")
	}

	return nil
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderMistral:
		return "MISTRAL_API_KEY"
	default:
		return ""
	}
}
