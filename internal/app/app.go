// Package app wires the process: transport manager, discovery lister,
// registry, router, engine, document writer, gateway.
package app

import (
	"time"

	"github.com/toolgate/toolgate/internal/common"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/discovery"
	"github.com/toolgate/toolgate/internal/engine"
	"github.com/toolgate/toolgate/internal/gateway"
	"github.com/toolgate/toolgate/internal/openapi"
	"github.com/toolgate/toolgate/internal/registry"
	"github.com/toolgate/toolgate/internal/router"
	"github.com/toolgate/toolgate/internal/transport"
)

// App holds all application components and dependencies.
type App struct {
	Config *config.Config
	Logger *common.Logger

	Pools    *transport.Manager
	Registry *registry.Registry
	Router   *router.Router
	Engine   *engine.Engine
	Writer   *openapi.Writer
	Gateway  *gateway.Gateway
}

// New initializes the application with all dependencies.
func New(cfg *config.Config, logger *common.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	tc := cfg.Transport
	a.Pools = transport.NewManager(logger, transport.Options{
		MaxConnections:     tc.MaxConnections,
		MaxIdleConnections: tc.MaxIdleConnections,
		IdleTimeout:        time.Duration(tc.IdleTimeoutSecs) * time.Second,
		RequestTimeout:     time.Duration(tc.RequestTimeoutSecs) * time.Second,
		MaxAttempts:        tc.MaxAttempts,
		EnableHTTP2:        tc.EnableHTTP2,
	})

	var lister registry.ServerLister
	if cfg.Discovery.RegistryURL != "" {
		lister = discovery.NewClient(cfg.Discovery.RegistryURL, a.Pools, logger)
	} else {
		logger.Warn().Msg("no registry service configured, serving internal tool server only")
	}

	ttl := time.Duration(cfg.Proxy.CacheTTLSecs) * time.Second
	a.Registry = registry.New(cfg, lister, a.Pools, logger)
	a.Router = router.New(a.Registry, ttl, logger)
	a.Engine = engine.New(a.Registry, cfg.Proxy.EnableConcurrent, cfg.Proxy.ConcurrencyLimit, logger)
	a.Writer = openapi.NewWriter(&cfg.Proxy, logger)
	a.Gateway = gateway.New(a.Registry, a.Router, a.Engine, a.Writer, logger)

	logger.Info().
		Bool("concurrent", cfg.Proxy.EnableConcurrent).
		Int("concurrency_limit", cfg.Proxy.ConcurrencyLimit).
		Msg("application initialization complete")

	return a, nil
}

// Close releases all application resources.
func (a *App) Close() error {
	return a.Pools.CloseAll()
}
