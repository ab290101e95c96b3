// Package config loads and validates notelink configuration.
//
// Configuration is resolved in priority order:
//  1. Environment variables (NOTELINK_*) — highest priority
//  2. Config file (.notelink.yaml in the vault, or an explicit path)
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigName is the config file looked up inside the vault root.
const DefaultConfigName = ".notelink.yaml"

// Config is the complete notelink configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Vault      VaultConfig      `yaml:"vault"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Search     SearchConfig     `yaml:"search"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// VaultConfig locates the note vault and the engine's data directory.
type VaultConfig struct {
	// Path is the vault root directory.
	Path string `yaml:"path"`
	// DataDir holds the index snapshot, hash map, and metadata database.
	// Defaults to <vault>/.notelink.
	DataDir string `yaml:"data_dir"`
	// Extensions are the note file extensions to index.
	Extensions []string `yaml:"extensions"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "local", "ollama", or "openai".
	Provider string `yaml:"provider"`
	// Model is the model identifier passed to the backend.
	Model string `yaml:"model"`
	// Endpoint is the remote API base URL (ollama/openai providers).
	Endpoint string `yaml:"endpoint"`
	// APIKey authenticates openai-compatible endpoints.
	APIKey string `yaml:"api_key"`
	// Dimensions overrides auto-detected vector size (0 = detect).
	Dimensions int `yaml:"dimensions"`
	// MaxTokens is the per-chunk token budget (0 = backend default).
	MaxTokens int `yaml:"max_tokens"`
	// BatchSize is the embedding request batch size.
	BatchSize int `yaml:"batch_size"`
	// Acceleration selects the local compute path: "simd" or "none".
	Acceleration string `yaml:"acceleration"`
	// Timeout bounds a single remote embedding request.
	Timeout time.Duration `yaml:"timeout"`
}

// IndexingConfig tunes the incremental indexing loop.
type IndexingConfig struct {
	// Interval between scheduler ticks.
	Interval time.Duration `yaml:"interval"`
	// BatchSize is the maximum changes drained per tick.
	BatchSize int `yaml:"batch_size"`
	// ExcludeFolders are vault-relative folders never indexed.
	ExcludeFolders []string `yaml:"exclude_folders"`
}

// SearchConfig tunes similarity retrieval.
type SearchConfig struct {
	// MaxResults is the default result limit.
	MaxResults int `yaml:"max_results"`
	// MinScore filters results below this cosine similarity.
	MinScore float64 `yaml:"min_score"`
	// ExcludePaths are never returned from searches.
	ExcludePaths []string `yaml:"exclude_paths"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Vault: VaultConfig{
			Path:       ".",
			Extensions: []string{".md", ".markdown", ".txt"},
		},
		Embeddings: EmbeddingsConfig{
			Provider:     "local",
			Model:        "notelink-hash-v1",
			BatchSize:    32,
			Acceleration: "simd",
			Timeout:      60 * time.Second,
		},
		Indexing: IndexingConfig{
			Interval:  5 * time.Second,
			BatchSize: 16,
		},
		Search: SearchConfig{
			MaxResults: 10,
			MinScore:   0.35,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path (empty = <vault>/.notelink.yaml if it
// exists), applies defaults and environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidate := filepath.Join(cfg.Vault.Path, DefaultConfigName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overlays NOTELINK_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("NOTELINK_VAULT"); v != "" {
		c.Vault.Path = v
	}
	if v := os.Getenv("NOTELINK_DATA_DIR"); v != "" {
		c.Vault.DataDir = v
	}
	if v := os.Getenv("NOTELINK_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("NOTELINK_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("NOTELINK_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("NOTELINK_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("NOTELINK_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.BatchSize = n
		}
	}
	if v := os.Getenv("NOTELINK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Embeddings.Timeout = d
		}
	}
	if v := os.Getenv("NOTELINK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// applyDefaults fills zero values that depend on other fields.
func (c *Config) applyDefaults() {
	if c.Vault.DataDir == "" {
		c.Vault.DataDir = filepath.Join(c.Vault.Path, ".notelink")
	}
	if len(c.Vault.Extensions) == 0 {
		c.Vault.Extensions = []string{".md", ".markdown", ".txt"}
	}
	if c.Embeddings.BatchSize <= 0 {
		c.Embeddings.BatchSize = 32
	}
	if c.Embeddings.Timeout <= 0 {
		c.Embeddings.Timeout = 60 * time.Second
	}
	if c.Indexing.Interval <= 0 {
		c.Indexing.Interval = 5 * time.Second
	}
	if c.Indexing.BatchSize <= 0 {
		c.Indexing.BatchSize = 16
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 10
	}
}

// Validate checks the configuration for fatal problems.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Embeddings.Provider) {
	case "local", "ollama", "openai":
	default:
		return fmt.Errorf("invalid embeddings provider %q (want local, ollama, or openai)", c.Embeddings.Provider)
	}

	switch strings.ToLower(c.Embeddings.Acceleration) {
	case "", "simd", "none":
	default:
		return fmt.Errorf("invalid acceleration %q (want simd or none)", c.Embeddings.Acceleration)
	}

	if c.Embeddings.Model == "" {
		return fmt.Errorf("embeddings model must not be empty")
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings dimensions must be >= 0")
	}
	if c.Search.MinScore < -1 || c.Search.MinScore > 1 {
		return fmt.Errorf("search min_score must be within [-1, 1]")
	}
	return nil
}

// SnapshotPath returns the chunk-store snapshot blob path.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.Vault.DataDir, "vectors.hnsw")
}

// HashMapPath returns the path→hash map blob path.
func (c *Config) HashMapPath() string {
	return filepath.Join(c.Vault.DataDir, "hashes.gob")
}

// MetadataPath returns the sqlite chunk metadata database path.
func (c *Config) MetadataPath() string {
	return filepath.Join(c.Vault.DataDir, "chunks.db")
}
