package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: openai
  model: gpt-4o-mini
  max_tokens: 2000
  temperature: 0.1
embedding:
  provider: ollama
  model: nomic-embed-text
  dimensions: 768
index:
  path: /var/lib/docsight/index.json
  migrate_threshold: 512
server:
  host: 0.0.0.0
  port: 8900
logging:
  level: debug
  format: text
limits:
  max_document_bytes: 1048576
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"LLM_PROVIDER", "LLM_MODEL", "LLM_MAX_TOKENS", "LLM_TEMPERATURE",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS",
		"INDEX_PATH", "INDEX_MIGRATE_THRESHOLD",
		"SERVER_HOST", "SERVER_PORT",
		"LOG_LEVEL", "LOG_FORMAT", "MAX_DOCUMENT_BYTES",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"LLM_PROVIDER":            "openai",
		"LLM_MODEL":               "gpt-4o-mini",
		"LLM_MAX_TOKENS":          "2000",
		"LLM_TEMPERATURE":         "0.1",
		"EMBEDDING_PROVIDER":      "ollama",
		"EMBEDDING_MODEL":         "nomic-embed-text",
		"EMBEDDING_DIMENSIONS":    "768",
		"INDEX_PATH":              "/var/lib/docsight/index.json",
		"INDEX_MIGRATE_THRESHOLD": "512",
		"SERVER_HOST":             "0.0.0.0",
		"SERVER_PORT":             "8900",
		"LOG_LEVEL":               "debug",
		"LOG_FORMAT":              "text",
		"MAX_DOCUMENT_BYTES":      "1048576",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading; it should NOT be overwritten.
	t.Setenv("LLM_PROVIDER", "openai")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("LLM_PROVIDER"); got != "openai" {
		t.Errorf("LLM_PROVIDER: expected env override %q, got %q", "openai", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.3, "0.3"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
