package config

import "time"

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" yaml:"level" default:"info"`
	Format string `env:"LOG_FORMAT" yaml:"format" default:"json"`
}

// MonitoringConfig holds metrics configuration.
type MonitoringConfig struct {
	MetricsEnabled bool `env:"METRICS_ENABLED" yaml:"metrics_enabled" default:"true"`
	MetricsPort    int  `env:"METRICS_PORT" yaml:"metrics_port" default:"9090"`
}

// HealthConfig holds health check server configuration.
type HealthConfig struct {
	Enabled       bool          `env:"HEALTH_ENABLED" yaml:"enabled" default:"true"`
	Port          int           `env:"HEALTH_PORT" yaml:"port" default:"8081"`
	LivenessPath  string        `env:"HEALTH_LIVENESS_PATH" yaml:"liveness_path" default:"/healthz"`
	ReadinessPath string        `env:"HEALTH_READINESS_PATH" yaml:"readiness_path" default:"/readyz"`
	Timeout       time.Duration `env:"HEALTH_CHECK_TIMEOUT" yaml:"timeout" default:"5s"`

	// CORSAllowedOrigins applies to the admin surface only; the relay
	// surface never adds headers of its own.
	CORSAllowedOrigins []string `env:"ADMIN_CORS_ALLOWED_ORIGINS" yaml:"cors_allowed_origins" default:"http://localhost:3000"`
}
