// Package config holds the application configuration for the proxy.
package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	pkgconfig "github.com/lewisedginton/recall-proxy/pkg/config"
	"github.com/lewisedginton/recall-proxy/pkg/logger"
)

// AppConfig holds all application configuration.
type AppConfig struct {
	// Service configuration
	ServiceName string `env:"SERVICE_NAME" yaml:"service_name" default:"recall-proxy"`
	Version     string `env:"VERSION" yaml:"version" default:"dev"`
	Environment string `env:"ENVIRONMENT" yaml:"environment" default:"development"`

	// Proxy listener configuration
	Proxy ProxyConfig `yaml:"proxy,inline"`

	// Backend (upstream model server) configuration
	Backend BackendConfig `yaml:"backend,inline"`

	// Embedding configuration
	Embedding EmbeddingConfig `yaml:"embedding,inline"`

	// Memory store configuration
	Memory MemoryConfig `yaml:"memory,inline"`

	// Search configuration
	Search SearchConfig `yaml:"search,inline"`

	// Context injection configuration
	Context ContextConfig `yaml:"context,inline"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging,inline"`

	// Monitoring configuration
	Monitoring MonitoringConfig `yaml:"monitoring,inline"`

	// Health check configuration
	Health HealthConfig `yaml:"health,inline"`
}

// Load reads configuration from the optional YAML file and the environment.
func Load(configFile string) (*AppConfig, error) {
	var cfg AppConfig
	if err := pkgconfig.GetConfig(&cfg, configFile, true); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *AppConfig) Validate() error {
	var result error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		result = multierror.Append(result, fmt.Errorf("log_level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		result = multierror.Append(result, fmt.Errorf("log_format must be either 'json' or 'text', got %q", c.Logging.Format))
	}

	if c.Proxy.Port < 1 || c.Proxy.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("proxy port must be between 1 and 65535, got %d", c.Proxy.Port))
	}

	if c.Backend.BaseURL == "" {
		result = multierror.Append(result, fmt.Errorf("backend base URL must not be empty"))
	}

	if c.Backend.ConnectTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("backend connect timeout must be greater than 0"))
	}

	if c.Backend.ReadTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("backend read timeout must be greater than 0"))
	}

	if c.Embedding.Dimension <= 0 {
		result = multierror.Append(result, fmt.Errorf("embedding dimension must be greater than 0"))
	}

	if c.Memory.Backend != "local" && c.Memory.Backend != "s3" {
		result = multierror.Append(result, fmt.Errorf("memory backend must be 'local' or 's3', got %q", c.Memory.Backend))
	}

	if c.Memory.Backend == "s3" && c.Memory.S3Bucket == "" {
		result = multierror.Append(result, fmt.Errorf("memory s3 bucket is required when using the s3 backend"))
	}

	if c.Search.TopK <= 0 {
		result = multierror.Append(result, fmt.Errorf("search top_k must be greater than 0"))
	}

	if c.Search.SimilarityThreshold < -1 || c.Search.SimilarityThreshold > 1 {
		result = multierror.Append(result, fmt.Errorf("similarity threshold must be within [-1, 1], got %f", c.Search.SimilarityThreshold))
	}

	if c.Context.MaxItems <= 0 {
		result = multierror.Append(result, fmt.Errorf("context max_items must be greater than 0"))
	}

	if c.Context.MaxChars <= 0 {
		result = multierror.Append(result, fmt.Errorf("context max_chars must be greater than 0"))
	}

	return result
}

// GetLogLevel returns the parsed logger level.
func (c *AppConfig) GetLogLevel() logger.Level {
	return logger.ParseLevel(strings.ToLower(c.Logging.Level))
}

// IsProduction returns true if running in production environment.
func (c *AppConfig) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

// LogConfig logs the current configuration (without sensitive data).
func (c *AppConfig) LogConfig(log logger.Logger) {
	log.Info("Application configuration loaded",
		logger.StringField("service_name", c.ServiceName),
		logger.StringField("version", c.Version),
		logger.StringField("environment", c.Environment),
		logger.StringField("listen", c.Proxy.ListenAddr()),
		logger.StringField("backend_url", c.Backend.BaseURL),
		logger.StringField("embedding_provider", c.Embedding.Provider),
		logger.StringField("embedding_model", c.Embedding.Model),
		logger.IntField("embedding_dim", c.Embedding.Dimension),
		logger.StringField("memory_backend", c.Memory.Backend),
		logger.IntField("search_top_k", c.Search.TopK),
		logger.Float64Field("similarity_threshold", c.Search.SimilarityThreshold),
		logger.IntField("context_max_items", c.Context.MaxItems),
		logger.IntField("context_max_chars", c.Context.MaxChars),
		logger.StringField("log_level", c.Logging.Level),
		logger.BoolField("metrics_enabled", c.Monitoring.MetricsEnabled),
	)
}
