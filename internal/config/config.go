// Package config provides configuration loading and structs for the simdex server.
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
	Search    SearchConfig    `yaml:"search"`
	Upload    UploadConfig    `yaml:"upload"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds paths for the metadata database, the vector log and the keyword index.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	VectorLogPath  string `yaml:"vector_log_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"` // onnx, openai or mock
	ModelPath         string  `yaml:"model_path"`
	Dimensions        int     `yaml:"dimensions"`
	MaxTokens         int     `yaml:"max_tokens"`
	CacheSize         int     `yaml:"cache_size"`
	OpenAIAPIKey      string  `yaml:"openai_api_key"`
	OpenAIModel       string  `yaml:"openai_model"`
	OpenAIBaseURL     string  `yaml:"openai_base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// SearchConfig holds query settings.
type SearchConfig struct {
	DefaultK      int `yaml:"default_k"`
	MaxK          int `yaml:"max_k"`
	SnippetLength int `yaml:"snippet_length"`
}

// UploadConfig limits what the HTTP API accepts.
type UploadConfig struct {
	MaxFileBytes int64    `yaml:"max_file_bytes"`
	MaxFiles     int      `yaml:"max_files"`
	Extensions   []string `yaml:"extensions"`
}

// AllowsExtension reports whether ext (with leading dot, any case) may be uploaded.
func (u UploadConfig) AllowsExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range u.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
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
	if cfg.Embedding.OpenAIAPIKey == "" {
		cfg.Embedding.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorLogPath = expandPath(cfg.Storage.VectorLogPath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case ProviderONNX, ProviderOpenAI, ProviderMock:
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Search.DefaultK > c.Search.MaxK {
		return fmt.Errorf("search.default_k (%d) exceeds search.max_k (%d)", c.Search.DefaultK, c.Search.MaxK)
	}
	return nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
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
