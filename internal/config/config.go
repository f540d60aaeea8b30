// Package config provides configuration loading and structs for the Kaiwa server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Memory    MemoryConfig    `yaml:"memory"`
	LLM       LLMConfig       `yaml:"llm"`
	Corpus    CorpusConfig    `yaml:"corpus"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the record store and index blobs.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	VectorIndexPath  string `yaml:"vector_index_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// EmbeddingConfig holds ONNX embedder settings.
type EmbeddingConfig struct {
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// VectorConfig selects the vector index implementation.
type VectorConfig struct {
	IndexType string `yaml:"index_type"` // "flat" (default) or "faiss"
}

// MemoryConfig holds retrieval and session-window settings.
type MemoryConfig struct {
	SimilarLimit        int      `yaml:"similar_limit"`        // default top-k for similar-context retrieval
	MinScore            *float64 `yaml:"min_score"`            // similarity quality gate; results <= this are dropped. Pointer so an explicit 0 survives defaulting
	HistoryLimit        int      `yaml:"history_limit"`        // recent durable turns included in prompts
	SessionWindow       int      `yaml:"session_window"`       // in-memory recent-turn window per session
	CandidateMultiplier int      `yaml:"candidate_multiplier"` // over-fetch factor before min-score filtering
}

// LLMConfig holds settings for the upstream model call.
type LLMConfig struct {
	Model          string   `yaml:"model"`
	BaseURL        string   `yaml:"base_url"`    // optional OpenAI-compatible endpoint
	Temperature    *float32 `yaml:"temperature"` // pointer so an explicit 0 survives defaulting
	MaxTokens      int      `yaml:"max_tokens"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	SystemPrompt   string   `yaml:"system_prompt"`
}

// CorpusConfig holds document ingestion settings.
type CorpusConfig struct {
	Directory    string   `yaml:"directory"`
	Extensions   []string `yaml:"extensions"`
	ChunkSize    int      `yaml:"chunk_size"`    // words per passage
	ChunkOverlap int      `yaml:"chunk_overlap"` // overlapping words between passages
	Watch        bool     `yaml:"watch"`         // re-ingest on file changes
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Corpus.Directory != "" {
		cfg.Corpus.Directory = expandPath(cfg.Corpus.Directory, configDir)
	}

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
