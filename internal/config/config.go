// Package config provides YAML-based configuration for docsight.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. DOCSIGHT_CONFIG environment variable
//  3. ~/.docsight/config.yaml
//  4. ./docsight.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Index configures the vector index.
	Index IndexConfig `yaml:"index"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Store configures database persistence.
	Store StoreConfig `yaml:"store"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Limits configures request and ingestion bounds.
	Limits LimitsConfig `yaml:"limits"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: openai, ollama, or none (demo mode).
	Provider string `yaml:"provider"`

	// Model is the chat model name for the selected provider.
	Model string `yaml:"model"`

	// APIKey is the provider API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the provider base URL.
	Endpoint string `yaml:"endpoint"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`

	// CacheSize is the response cache entry capacity.
	CacheSize int `yaml:"cache_size"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend: ollama, openai, fake.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// CacheSize is the embedding cache entry capacity.
	CacheSize int `yaml:"cache_size"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	// Path is the snapshot file path. Empty disables persistence.
	Path string `yaml:"path"`
	// MigrateThreshold is the vector count that triggers the clustered
	// rebuild.
	MigrateThreshold int `yaml:"migrate_threshold"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var DOCSIGHT_API_KEY.
	APIKey string `yaml:"api_key"`
}

// StoreConfig holds database persistence settings.
type StoreConfig struct {
	// DBPath is the SQLite database path.
	DBPath string `yaml:"db_path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// LimitsConfig holds request and ingestion bounds.
type LimitsConfig struct {
	// MaxDocumentBytes caps the uploaded text size.
	MaxDocumentBytes int `yaml:"max_document_bytes"`
	// RateLimitRPS is the per-client request rate.
	RateLimitRPS float32 `yaml:"rate_limit_rps"`
	// RateLimitBurst is the per-client burst allowance.
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"LLM_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"LLM_MODEL", func(c *Config) string { return c.Model.Model }},
	{"LLM_API_KEY", func(c *Config) string { return c.Model.APIKey }},
	{"LLM_ENDPOINT", func(c *Config) string { return c.Model.Endpoint }},
	{"LLM_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"LLM_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"LLM_CACHE_SIZE", func(c *Config) string { return intStr(c.Model.CacheSize) }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_CACHE_SIZE", func(c *Config) string { return intStr(c.Embedding.CacheSize) }},
	{"INDEX_PATH", func(c *Config) string { return c.Index.Path }},
	{"INDEX_MIGRATE_THRESHOLD", func(c *Config) string { return intStr(c.Index.MigrateThreshold) }},
	{"SERVER_HOST", func(c *Config) string { return c.Server.Host }},
	{"SERVER_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"DOCSIGHT_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"DOCSIGHT_DB", func(c *Config) string { return c.Store.DBPath }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"MAX_DOCUMENT_BYTES", func(c *Config) string { return intStr(c.Limits.MaxDocumentBytes) }},
	{"RATE_LIMIT_RPS", func(c *Config) string { return float32Str(c.Limits.RateLimitRPS) }},
	{"RATE_LIMIT_BURST", func(c *Config) string { return intStr(c.Limits.RateLimitBurst) }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set, do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("DOCSIGHT_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".docsight", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("docsight.yaml"); err == nil {
		return "docsight.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
