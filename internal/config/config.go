package config

import (
	"fmt"
	"os"
	"strconv"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/toolgate/toolgate/internal/common"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig         `toml:"server"`
	Proxy     ProxyConfig          `toml:"proxy"`
	Discovery DiscoveryConfig      `toml:"discovery"`
	Transport TransportConfig      `toml:"transport"`
	Logging   common.LoggingConfig `toml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// ProxyConfig contains the proxy document metadata, execution settings,
// and the response-mapping table that drives function registration.
type ProxyConfig struct {
	Title            string                   `toml:"title"`
	Version          string                   `toml:"version"`
	Servers          []string                 `toml:"servers"`     // OpenAPI server URLs
	PathPrefix       string                   `toml:"path_prefix"` // may contain {tenant_id}
	EnableConcurrent bool                     `toml:"enable_concurrent"`
	ConcurrencyLimit int                      `toml:"concurrency_limit"`
	CacheTTLSecs     int                      `toml:"cache_ttl_secs"`
	Responses        map[string]ResponseShape `toml:"responses"` // path template -> response shape
}

// ResponseShape describes the response schema published for one path template.
type ResponseShape struct {
	Type       string             `toml:"type" json:"type"` // "list" or "dict"
	Name       string             `toml:"name" json:"name,omitempty"`
	ChildType  string             `toml:"child_type" json:"child_type,omitempty"`
	Properties []ResponseProperty `toml:"properties" json:"properties,omitempty"`
}

// ResponseProperty is one field of a ResponseShape, nested arbitrarily.
type ResponseProperty struct {
	Name       string             `toml:"name" json:"name"`
	Type       string             `toml:"type" json:"type"`
	ChildType  string             `toml:"child_type" json:"child_type,omitempty"`
	Properties []ResponseProperty `toml:"properties" json:"properties,omitempty"`
}

// DiscoveryConfig contains the remote-discovery collaborator settings.
type DiscoveryConfig struct {
	RegistryURL string               `toml:"registry_url"`
	Internal    InternalServerConfig `toml:"internal"`
}

// InternalServerConfig describes the well-known internal tool server.
// BaseURL may contain a {tenant_id} placeholder instantiated per tenant.
type InternalServerConfig struct {
	BaseURL     string            `toml:"base_url"`
	BearerToken string            `toml:"bearer_token"`
	Headers     map[string]string `toml:"headers"`
}

// TransportConfig contains connection pool and retry settings.
type TransportConfig struct {
	MaxConnections     int  `toml:"max_connections"`
	MaxIdleConnections int  `toml:"max_idle_connections"`
	IdleTimeoutSecs    int  `toml:"idle_timeout_secs"`
	RequestTimeoutSecs int  `toml:"request_timeout_secs"`
	MaxAttempts        int  `toml:"max_attempts"`
	EnableHTTP2        bool `toml:"enable_http2"`
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies TOOLGATE_* environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("TOOLGATE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("TOOLGATE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if url := os.Getenv("TOOLGATE_REGISTRY_URL"); url != "" {
		config.Discovery.RegistryURL = url
	}
	if url := os.Getenv("TOOLGATE_INTERNAL_URL"); url != "" {
		config.Discovery.Internal.BaseURL = url
	}
	if token := os.Getenv("TOOLGATE_INTERNAL_TOKEN"); token != "" {
		config.Discovery.Internal.BearerToken = token
	}
	if level := os.Getenv("TOOLGATE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if v := os.Getenv("TOOLGATE_ENABLE_CONCURRENT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Proxy.EnableConcurrent = b
		}
	}
}
