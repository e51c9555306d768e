package config

import "time"

// ProviderType identifies an LLM or embedding provider.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderMistral   ProviderType = "mistral"
	ProviderOllama    ProviderType = "ollama"
	// ProviderHash is a local feature-hashing embedder that needs no network.
	ProviderHash ProviderType = "hash"
)

// VectorBackend selects the vector index implementation.
type VectorBackend string

const (
	BackendChromem  VectorBackend = "chromem"
	BackendPGVector VectorBackend = "pgvector"
)

// SessionStoreType selects where review sessions are kept.
type SessionStoreType string

const (
	SessionStoreMemory SessionStoreType = "memory"
	SessionStoreRedis  SessionStoreType = "redis"
)

// Config is the top-level lexreview configuration, corresponding to .lexreview.yml.
type Config struct {
	DataDir      string          `yaml:"data_dir" koanf:"data_dir"`
	TemplatesDir string          `yaml:"templates_dir" koanf:"templates_dir"`
	ChunksFile   string          `yaml:"chunks_file" koanf:"chunks_file"`
	LLM          LLMConfig       `yaml:"llm" koanf:"llm"`
	Embedding    EmbeddingConfig `yaml:"embedding" koanf:"embedding"`
	Vector       VectorConfig    `yaml:"vector" koanf:"vector"`
	Retrieval    RetrievalConfig `yaml:"retrieval" koanf:"retrieval"`
	Review       ReviewConfig    `yaml:"review" koanf:"review"`
	Server       ServerConfig    `yaml:"server" koanf:"server"`
	Log          LogConfig       `yaml:"log" koanf:"log"`
}

// LLMConfig configures the completion provider used for suggestions,
// classification, letters and explanations.
type LLMConfig struct {
	Provider          ProviderType `yaml:"provider" koanf:"provider"`
	Model             string       `yaml:"model" koanf:"model"`
	BaseURL           string       `yaml:"base_url" koanf:"base_url"`
	RequestsPerMinute int          `yaml:"requests_per_minute" koanf:"requests_per_minute"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider   ProviderType `yaml:"provider" koanf:"provider"`
	Model      string       `yaml:"model" koanf:"model"`
	Dimensions int          `yaml:"dimensions" koanf:"dimensions"`
	BaseURL    string       `yaml:"base_url" koanf:"base_url"`
}

// VectorConfig configures the vector index backend.
type VectorConfig struct {
	Backend     VectorBackend `yaml:"backend" koanf:"backend"`
	Compress    bool          `yaml:"compress" koanf:"compress"`
	PostgresDSN string        `yaml:"postgres_dsn" koanf:"postgres_dsn"`
	Table       string        `yaml:"table" koanf:"table"`
}

// RetrievalConfig holds retrieval pipeline tuning.
type RetrievalConfig struct {
	DefaultK     int     `yaml:"default_k" koanf:"default_k"`
	MinScore     float64 `yaml:"min_score" koanf:"min_score"`
	PreviewChars int     `yaml:"preview_chars" koanf:"preview_chars"`
}

// ReviewConfig holds HITL review session settings.
type ReviewConfig struct {
	Store               SessionStoreType `yaml:"store" koanf:"store"`
	RedisURL            string           `yaml:"redis_url" koanf:"redis_url"`
	SessionTTL          time.Duration    `yaml:"session_ttl" koanf:"session_ttl"`
	SweepInterval       time.Duration    `yaml:"sweep_interval" koanf:"sweep_interval"`
	ConfidenceThreshold float64          `yaml:"confidence_threshold" koanf:"confidence_threshold"`
	MaxConcurrency      int              `yaml:"max_concurrency" koanf:"max_concurrency"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" koanf:"port"`
	AllowAllOrigins bool          `yaml:"allow_all_origins" koanf:"allow_all_origins"`
	RequestTimeout  time.Duration `yaml:"request_timeout" koanf:"request_timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" koanf:"level"`
	Format string `yaml:"format" koanf:"format"` // "json" or "console"
	File   string `yaml:"file" koanf:"file"`     // optional rotating log file
}
