package config

import (
	"fmt"
	"time"
)

// ProxyConfig holds the listener configuration for the proxy itself.
type ProxyConfig struct {
	Host              string        `env:"PROXY_HOST" yaml:"host" default:"0.0.0.0"`
	Port              int           `env:"PROXY_PORT" yaml:"port" default:"11435"`
	ReadHeaderTimeout time.Duration `env:"PROXY_READ_HEADER_TIMEOUT" yaml:"read_header_timeout" default:"10s"`
	ShutdownTimeout   time.Duration `env:"PROXY_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" default:"15s"`
}

// ListenAddr returns the host:port the proxy listens on.
func (c ProxyConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BackendConfig holds the configuration for the upstream model server.
type BackendConfig struct {
	BaseURL string `env:"BACKEND_BASE_URL" yaml:"base_url" default:"http://127.0.0.1:11434"`

	// ConnectTimeout bounds connection establishment; ReadTimeout bounds a
	// full response and stays generous so long generations are not cut off.
	ConnectTimeout time.Duration `env:"BACKEND_CONNECT_TIMEOUT" yaml:"connect_timeout" default:"10s"`
	ReadTimeout    time.Duration `env:"BACKEND_READ_TIMEOUT" yaml:"read_timeout" default:"300s"`
}
