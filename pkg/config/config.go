package config

// Config represents the top-level configuration for the recall service.
type Config struct {
	// Server configures the HTTP surface
	Server ServerConfig `yaml:"server"`

	// Index configures the vector index backend
	Index IndexConfig `yaml:"index"`

	// Embedding configures the embedding gateway
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Scripting configures the Lua hook engine
	Scripting ScriptingConfig `yaml:"scripting"`

	// Logging configures the logging behavior
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8090"
	Addr string `yaml:"addr"`
}

// IndexConfig configures the vector index backend.
type IndexConfig struct {
	// Dimensions is the embedding dimensionality the index enforces
	Dimensions int `yaml:"dimensions"`

	// ForceFallback pins the in-process engine regardless of backend health
	ForceFallback bool `yaml:"force_fallback"`

	// PgVector configures the external pgvector backend
	PgVector PgVectorConfig `yaml:"pgvector"`

	// Snapshot configures on-disk persistence for the in-process engine
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// PgVectorConfig configures the PostgreSQL pgvector backend.
type PgVectorConfig struct {
	// ConnectionString is the PostgreSQL connection string; empty disables
	// the external backend entirely
	ConnectionString string `yaml:"connection_string"`

	// TableName is the name of the table to use
	TableName string `yaml:"table_name"`

	// ProbeTimeoutMs bounds the startup health probe in milliseconds
	ProbeTimeoutMs int `yaml:"probe_timeout_ms"`
}

// SnapshotConfig configures bbolt persistence for the in-process engine.
type SnapshotConfig struct {
	// Path is the bbolt database file; empty keeps everything in memory
	Path string `yaml:"path"`
}

// EmbeddingConfig configures the embedding gateway.
type EmbeddingConfig struct {
	// Provider is the embedding provider ("openai", "mock")
	Provider string `yaml:"provider"`

	// OpenAI configures the OpenAI embedding provider
	OpenAI OpenAIConfig `yaml:"openai"`

	// CacheEntries bounds the content-hash cache; 0 disables caching
	CacheEntries int64 `yaml:"cache_entries"`

	// MaxAttempts bounds retries against the provider (minimum 1)
	MaxAttempts int `yaml:"max_attempts"`
}

// OpenAIConfig configures the OpenAI embedding provider.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key
	APIKey string `yaml:"api_key"`

	// Model is the embedding model, e.g. "text-embedding-3-small"
	Model string `yaml:"model"`

	// BaseURL overrides the API endpoint (proxies, tests)
	BaseURL string `yaml:"base_url"`

	// Dimensions is the vector size the model produces
	Dimensions int `yaml:"dimensions"`
}

// ScriptingConfig configures the Lua hook engine.
type ScriptingConfig struct {
	// Enabled turns hook execution on
	Enabled bool `yaml:"enabled"`

	// Paths is a list of directories containing Lua hook scripts
	Paths []string `yaml:"paths"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level is the logging level ("debug", "info", "warn", "error")
	Level string `yaml:"level"`

	// Format is the output format ("text", "json")
	Format string `yaml:"format"`
}
