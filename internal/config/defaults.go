package config

import "github.com/toolgate/toolgate/internal/common"

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 4280,
			Host: "localhost",
		},
		Proxy: ProxyConfig{
			Title:            "Toolgate Proxy",
			Version:          "1.0.0",
			Servers:          []string{},
			EnableConcurrent: true,
			ConcurrencyLimit: 8,
			CacheTTLSecs:     1800,
			Responses:        map[string]ResponseShape{},
		},
		Discovery: DiscoveryConfig{},
		Transport: TransportConfig{
			MaxConnections:     100,
			MaxIdleConnections: 20,
			IdleTimeoutSecs:    30,
			RequestTimeoutSecs: 30,
			MaxAttempts:        3,
			EnableHTTP2:        true,
		},
		Logging: common.LoggingConfig{
			Level:   "info",
			Outputs: []string{"console"},
		},
	}
}
