package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/toolgate/toolgate/internal/common"
)

// Manager lazily creates one Pool per distinct base URL and owns their
// lifecycle. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	pools    map[string]*Pool
	defaults Options
	logger   *common.Logger
}

// NewManager creates a manager whose pools inherit the given default options.
func NewManager(logger *common.Logger, defaults Options) *Manager {
	return &Manager{
		pools:    make(map[string]*Pool),
		defaults: defaults,
		logger:   logger,
	}
}

// GetOrCreate returns the pool for the base URL, creating it on first use.
// Headers apply only when the pool is created; subsequent callers share the
// existing pool unchanged.
func (m *Manager) GetOrCreate(baseURL string, headers map[string]string) *Pool {
	key := strings.TrimRight(baseURL, "/")

	m.mu.Lock()
	defer m.mu.Unlock()

	if pool, ok := m.pools[key]; ok {
		return pool
	}

	opts := m.defaults
	opts.Headers = headers
	pool := NewPool(key, m.logger, opts)
	m.pools[key] = pool

	m.logger.Debug().Str("base_url", key).Int("pools", len(m.pools)).Msg("transport pool registered")
	return pool
}

// CloseAll closes every pool, collecting per-pool errors without aborting
// the remaining closes.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	pools := make(map[string]*Pool, len(m.pools))
	for url, pool := range m.pools {
		pools[url] = pool
	}
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()

	var errs []error
	for url, pool := range pools {
		if err := pool.Close(); err != nil {
			m.logger.Error().Str("base_url", url).Str("error", err.Error()).Msg("failed to close pool")
			errs = append(errs, fmt.Errorf("close %s: %w", url, err))
		}
	}
	return errors.Join(errs...)
}

// AllMetrics returns a metrics summary per base URL.
func (m *Manager) AllMetrics() map[string]Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Summary, len(m.pools))
	for url, pool := range m.pools {
		out[url] = pool.Metrics()
	}
	return out
}
