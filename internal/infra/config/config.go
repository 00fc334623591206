// Package config provides application-wide configuration loaded from env vars.
// All fields have safe defaults so the binary runs locally without any env
// setup. An optional YAML file can override the env-derived values; explicit
// command-line flags always win over both.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the CPS data server.
type Config struct {
	// Backing stores.
	SchoolDBPath string `yaml:"school_db_path"` // SQLite file with the schooltoneighborhood table
	VectorDBPath string `yaml:"vector_db_path"` // SQLite file with the webpagechunk table

	// Embedding (Ollama).
	OllamaBaseURL string `yaml:"ollama_base_url"` // OLLAMA_BASE_URL — default: "http://localhost:11434"
	EmbedModel    string `yaml:"embed_model"`     // CPS_EMBED_MODEL — default: "nomic-embed-text"

	// Reranking (text-embeddings-inference style /rerank endpoint).
	RerankBaseURL string `yaml:"rerank_base_url"` // CPS_RERANK_BASE_URL — default: "http://localhost:8787"
	RerankModel   string `yaml:"rerank_model"`    // CPS_RERANK_MODEL — default: "answerdotai/answerai-colbert-small-v1"

	// HTTP transport (optional; stdio is the default transport).
	HTTPAddr  string `yaml:"http_addr"`  // CPS_HTTP_ADDR — empty means stdio only
	JWTSecret string `yaml:"jwt_secret"` // CPS_JWT_SECRET — empty disables bearer auth
}

const (
	envKeySchoolDBPath  = "CPS_SCHOOL_DB"
	envKeyVectorDBPath  = "CPS_VECTOR_DB"
	envKeyOllamaBaseURL = "OLLAMA_BASE_URL"
	envKeyEmbedModel    = "CPS_EMBED_MODEL"
	envKeyRerankBaseURL = "CPS_RERANK_BASE_URL"
	envKeyRerankModel   = "CPS_RERANK_MODEL"
	envKeyHTTPAddr      = "CPS_HTTP_ADDR"
	envKeyJWTSecret     = "CPS_JWT_SECRET"
)

// Load reads configuration from environment variables, applying defaults for
// missing values.
func Load() Config {
	return Config{
		SchoolDBPath:  os.Getenv(envKeySchoolDBPath),
		VectorDBPath:  os.Getenv(envKeyVectorDBPath),
		OllamaBaseURL: envOr(envKeyOllamaBaseURL, "http://localhost:11434"),
		EmbedModel:    envOr(envKeyEmbedModel, "nomic-embed-text"),
		RerankBaseURL: envOr(envKeyRerankBaseURL, "http://localhost:8787"),
		RerankModel:   envOr(envKeyRerankModel, "answerdotai/answerai-colbert-small-v1"),
		HTTPAddr:      os.Getenv(envKeyHTTPAddr),
		JWTSecret:     os.Getenv(envKeyJWTSecret),
	}
}

// LoadFile merges a YAML config file over cfg. Only keys present in the file
// override; absent keys keep their current values (yaml leaves untouched
// fields alone when decoding into a populated struct).
func LoadFile(path string, cfg Config) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// envOr returns the value of the environment variable key, or fallback if not set.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
