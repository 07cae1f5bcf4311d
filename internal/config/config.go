// Package config provides configuration loading for searchd.
//
// Configuration is loaded from a YAML file with environment variable
// overrides, in that precedence order: env > file > defaults.
package config

import (
	"fmt"
	"time"
)

// Modalities recognised by the retrieval engine. Keyframes are stored in the
// image collection and are not a caller-visible modality.
var Modalities = []string{"text", "image", "video"}

// Config holds the complete searchd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Metadata      MetadataConfig      `koanf:"metadata"`
	Blob          BlobConfig          `koanf:"blob"`
	VectorIndex   VectorIndexConfig   `koanf:"vectorindex"`
	Embedding     EmbeddingConfig     `koanf:"embedding"`
	Search        SearchConfig        `koanf:"search"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// RequestTimeout is the per-request deadline.
	RequestTimeout Duration `koanf:"request_timeout"`
	// InboundConcurrency bounds concurrently handled requests.
	InboundConcurrency int `koanf:"inbound_concurrency"`
}

// LoggingConfig holds log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
}

// MetadataConfig holds the Postgres metadata store configuration.
type MetadataConfig struct {
	DSN             Secret   `koanf:"dsn"`
	MaxOpenConns    int      `koanf:"max_open_conns"`
	MaxIdleConns    int      `koanf:"max_idle_conns"`
	ConnMaxLifetime Duration `koanf:"conn_max_lifetime"`
}

// BlobConfig holds the S3 blob store configuration.
type BlobConfig struct {
	Region         string   `koanf:"region"`
	Bucket         string   `koanf:"bucket"`
	Endpoint       string   `koanf:"endpoint"`
	ForcePathStyle bool     `koanf:"force_path_style"`
	URLTTL         Duration `koanf:"url_ttl"`
}

// VectorIndexConfig holds vector index configuration.
//
// Provider selects the backend: "qdrant" (external, gRPC) or "chromem"
// (embedded, the default for development).
type VectorIndexConfig struct {
	Provider        string        `koanf:"provider"`
	VectorSize      int           `koanf:"vector_size"`
	CollectionText  string        `koanf:"collection_text"`
	CollectionImage string        `koanf:"collection_image"`
	CollectionVideo string        `koanf:"collection_video"`
	Qdrant          QdrantConfig  `koanf:"qdrant"`
	Chromem         ChromemConfig `koanf:"chromem"`
}

// QdrantConfig holds Qdrant gRPC client configuration.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     Secret `koanf:"api_key"`
	MaxRetries int    `koanf:"max_retries"`
}

// ChromemConfig holds embedded chromem-go store configuration.
type ChromemConfig struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// EmbeddingConfig holds the multimodal worker client configuration.
type EmbeddingConfig struct {
	WorkerURL  string   `koanf:"worker_url"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
}

// SearchConfig holds retrieval engine tunables.
type SearchConfig struct {
	DefaultLimit        int      `koanf:"default_limit"`
	MaxLimit            int      `koanf:"max_limit"`
	SimilarityThreshold float64  `koanf:"similarity_threshold"`
	MaxQueryBytes       int      `koanf:"max_query_bytes"`
	VectorSearchTimeout Duration `koanf:"vector_search_timeout"`
	EnrichmentTimeout   Duration `koanf:"enrichment_timeout"`
	SessionWriteTimeout Duration `koanf:"session_write_timeout"`
	// ConcurrencyPerModality bounds in-flight vector searches per modality.
	ConcurrencyPerModality int `koanf:"concurrency_per_modality"`
	// EnrichmentConcurrency bounds concurrent enrichment batches.
	EnrichmentConcurrency int `koanf:"enrichment_concurrency"`
	CacheSize             int      `koanf:"cache_size"`
	CacheTTL              Duration `koanf:"cache_ttl"`
	// SessionRetentionHours garbage-collects sessions older than this.
	// Zero disables the sweep.
	SessionRetentionHours int `koanf:"session_retention_hours"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.InboundConcurrency == 0 {
		cfg.Server.InboundConcurrency = 256
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "searchd"
	}

	if cfg.Metadata.MaxOpenConns == 0 {
		cfg.Metadata.MaxOpenConns = 25
	}
	if cfg.Metadata.MaxIdleConns == 0 {
		cfg.Metadata.MaxIdleConns = 5
	}
	if cfg.Metadata.ConnMaxLifetime == 0 {
		cfg.Metadata.ConnMaxLifetime = Duration(5 * time.Minute)
	}

	if cfg.Blob.URLTTL == 0 {
		cfg.Blob.URLTTL = Duration(15 * time.Minute)
	}

	if cfg.VectorIndex.Provider == "" {
		cfg.VectorIndex.Provider = "chromem"
	}
	if cfg.VectorIndex.VectorSize == 0 {
		cfg.VectorIndex.VectorSize = 384
	}
	if cfg.VectorIndex.CollectionText == "" {
		cfg.VectorIndex.CollectionText = "searchd_text"
	}
	if cfg.VectorIndex.CollectionImage == "" {
		cfg.VectorIndex.CollectionImage = "searchd_image"
	}
	if cfg.VectorIndex.CollectionVideo == "" {
		cfg.VectorIndex.CollectionVideo = "searchd_video"
	}
	if cfg.VectorIndex.Qdrant.Host == "" {
		cfg.VectorIndex.Qdrant.Host = "localhost"
	}
	if cfg.VectorIndex.Qdrant.Port == 0 {
		cfg.VectorIndex.Qdrant.Port = 6334
	}
	if cfg.VectorIndex.Qdrant.MaxRetries == 0 {
		cfg.VectorIndex.Qdrant.MaxRetries = 3
	}

	if cfg.Embedding.WorkerURL == "" {
		cfg.Embedding.WorkerURL = "http://localhost:8081"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = Duration(2 * time.Second)
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 2
	}

	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.SimilarityThreshold == 0 {
		cfg.Search.SimilarityThreshold = 0.7
	}
	if cfg.Search.MaxQueryBytes == 0 {
		cfg.Search.MaxQueryBytes = 8 * 1024
	}
	if cfg.Search.VectorSearchTimeout == 0 {
		cfg.Search.VectorSearchTimeout = Duration(2 * time.Second)
	}
	if cfg.Search.EnrichmentTimeout == 0 {
		cfg.Search.EnrichmentTimeout = Duration(time.Second)
	}
	if cfg.Search.SessionWriteTimeout == 0 {
		cfg.Search.SessionWriteTimeout = Duration(500 * time.Millisecond)
	}
	if cfg.Search.ConcurrencyPerModality == 0 {
		cfg.Search.ConcurrencyPerModality = 32
	}
	if cfg.Search.EnrichmentConcurrency == 0 {
		cfg.Search.EnrichmentConcurrency = 16
	}
	if cfg.Search.CacheSize == 0 {
		cfg.Search.CacheSize = 10000
	}
	if cfg.Search.CacheTTL == 0 {
		cfg.Search.CacheTTL = Duration(60 * time.Second)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.Server.InboundConcurrency < 1 {
		return fmt.Errorf("inbound concurrency must be >= 1")
	}

	switch c.VectorIndex.Provider {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("unknown vectorindex provider: %q", c.VectorIndex.Provider)
	}
	if c.VectorIndex.VectorSize < 1 {
		return fmt.Errorf("vector size must be >= 1, got %d", c.VectorIndex.VectorSize)
	}
	if c.VectorIndex.Provider == "qdrant" {
		if c.VectorIndex.Qdrant.Port < 1 || c.VectorIndex.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d", c.VectorIndex.Qdrant.Port)
		}
	}

	if c.Embedding.WorkerURL == "" {
		return fmt.Errorf("embedding worker URL required")
	}

	if c.Search.DefaultLimit < 1 {
		return fmt.Errorf("default search limit must be >= 1")
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("max search limit %d is below default %d", c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	if c.Search.SimilarityThreshold < 0 || c.Search.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in [0,1], got %g", c.Search.SimilarityThreshold)
	}
	if c.Search.SessionRetentionHours < 0 {
		return fmt.Errorf("session retention hours cannot be negative")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return fmt.Errorf("service name required when telemetry is enabled")
	}

	return nil
}
