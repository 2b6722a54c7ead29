package config

const (
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// DefaultConfigPath is used by the CLI when --config is not given.
const DefaultConfigPath = "/usr/local/etc/simdex/config.yaml"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/simdex/data/db/documents.db"
	}
	if cfg.Storage.VectorLogPath == "" {
		cfg.Storage.VectorLogPath = "/usr/local/var/simdex/data/vectors.log"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/simdex/data/indices/bleve"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderONNX
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/simdex/data/models/all-mpnet-base-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 384
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.OpenAIModel == "" {
		cfg.Embedding.OpenAIModel = "text-embedding-3-small"
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 5
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 4
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Search.SnippetLength == 0 {
		cfg.Search.SnippetLength = 200
	}
	if cfg.Upload.MaxFileBytes == 0 {
		cfg.Upload.MaxFileBytes = 5 << 20
	}
	if cfg.Upload.MaxFiles == 0 {
		cfg.Upload.MaxFiles = 10
	}
	if cfg.Upload.Extensions == nil {
		cfg.Upload.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".pptx", ".odp", ".ods"}
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".pptx", ".odp", ".ods"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
