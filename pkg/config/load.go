package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values applied during validation.
const (
	DefaultAddr         = ":8090"
	DefaultDimensions   = 384
	DefaultTableName    = "agent_memories"
	DefaultProbeTimeout = 3000
	DefaultCacheEntries = 4096
	DefaultMaxAttempts  = 3
)

// LoadFromFile loads configuration from a YAML file. A .env file in the
// working directory is applied first so that ${ENV} style overrides work
// the same in development and in containers.
func LoadFromFile(path string) (*Config, error) {
	// Missing .env is fine; only real read errors matter
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from a byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	var config Config

	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvironmentOverrides(&config)

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with all defaults applied and the
// in-process engine selected. Used when no config file is given.
func Default() *Config {
	config := &Config{}
	applyEnvironmentOverrides(config)
	// Validation on a zero config only fills defaults
	_ = validateConfig(config)
	return config
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func applyEnvironmentOverrides(config *Config) {
	if addr := os.Getenv("RECALL_HTTP_ADDR"); addr != "" {
		config.Server.Addr = addr
	}

	if connStr := os.Getenv("RECALL_PGVECTOR_URL"); connStr != "" {
		config.Index.PgVector.ConnectionString = connStr
	}

	if force := os.Getenv("RECALL_FORCE_FALLBACK"); force != "" {
		if v, err := strconv.ParseBool(force); err == nil {
			config.Index.ForceFallback = v
		}
	}

	if dims := os.Getenv("RECALL_DIMENSIONS"); dims != "" {
		if v, err := strconv.Atoi(dims); err == nil && v > 0 {
			config.Index.Dimensions = v
		}
	}

	if path := os.Getenv("RECALL_SNAPSHOT_PATH"); path != "" {
		config.Index.Snapshot.Path = path
	}

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Embedding.OpenAI.APIKey = apiKey
	}

	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.Embedding.OpenAI.BaseURL = baseURL
	}
}

// validateConfig validates the configuration and fills in defaults.
func validateConfig(config *Config) error {
	if config.Server.Addr == "" {
		config.Server.Addr = DefaultAddr
	}

	if config.Index.Dimensions < 0 {
		return fmt.Errorf("index dimensions cannot be negative")
	}
	if config.Index.Dimensions == 0 {
		config.Index.Dimensions = DefaultDimensions
	}

	if config.Index.PgVector.TableName == "" {
		config.Index.PgVector.TableName = DefaultTableName
	}
	if config.Index.PgVector.ProbeTimeoutMs <= 0 {
		config.Index.PgVector.ProbeTimeoutMs = DefaultProbeTimeout
	}

	switch strings.ToLower(config.Embedding.Provider) {
	case "":
		config.Embedding.Provider = "mock"
	case "mock":
	case "openai":
		// API key may arrive via environment, so only model defaults here
		if config.Embedding.OpenAI.Model == "" {
			config.Embedding.OpenAI.Model = "text-embedding-3-small"
		}
		if config.Embedding.OpenAI.Dimensions <= 0 {
			config.Embedding.OpenAI.Dimensions = 1536
		}
	default:
		return fmt.Errorf("unsupported embedding provider: %s", config.Embedding.Provider)
	}

	if config.Embedding.CacheEntries == 0 {
		config.Embedding.CacheEntries = DefaultCacheEntries
	}
	if config.Embedding.MaxAttempts <= 0 {
		config.Embedding.MaxAttempts = DefaultMaxAttempts
	}

	// The openai provider dictates the index dimensionality; a mismatch
	// here would reject every insert at runtime.
	if strings.ToLower(config.Embedding.Provider) == "openai" &&
		config.Index.Dimensions != config.Embedding.OpenAI.Dimensions {
		if config.Index.Dimensions != DefaultDimensions {
			return fmt.Errorf("index dimensions (%d) do not match embedding dimensions (%d)",
				config.Index.Dimensions, config.Embedding.OpenAI.Dimensions)
		}
		config.Index.Dimensions = config.Embedding.OpenAI.Dimensions
	}

	if config.Scripting.Enabled && len(config.Scripting.Paths) == 0 {
		return fmt.Errorf("scripting enabled but no script paths configured")
	}

	return nil
}
