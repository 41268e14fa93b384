package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/adapters/catalog"
	"github.com/dota-labs/dota-engine/pkg/adapters/catalog/mssql"
	"github.com/dota-labs/dota-engine/pkg/logging"
)

// ConnectionInfo describes the active catalog connection with the password
// withheld.
type ConnectionInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Encrypt  bool   `json:"encrypt"`
}

// ConnectionManager owns the active catalog provider and supports testing and
// switching connections at runtime. Switching publishes a new provider
// atomically; in-flight requests keep the provider they already hold.
type ConnectionManager interface {
	// Provider returns the active catalog provider.
	Provider() catalog.Provider

	// Info returns the active connection with credentials redacted.
	Info() ConnectionInfo

	// Test opens a throwaway connection for the given settings and pings it.
	Test(ctx context.Context, cfg mssql.Config) error

	// Switch replaces the active provider with one for the given settings.
	// The previous provider is closed. Registered switch hooks run inside the
	// swap's critical section, so caches keyed to the old catalog are
	// invalidated before any reader can pair them with the new provider.
	Switch(ctx context.Context, cfg mssql.Config) error

	// OnSwitch registers a hook invoked during every successful switch, while
	// the swap lock is held. Hooks must be fast and must not call back into
	// the manager.
	OnSwitch(hook func())

	// Close closes the active provider.
	Close() error
}

type connectionManager struct {
	mu       sync.RWMutex
	provider catalog.Provider
	info     ConnectionInfo
	hooks    []func()
	// dial opens a provider for a config; tests substitute it.
	dial   func(ctx context.Context, cfg *mssql.Config, logger *zap.Logger) (catalog.Provider, error)
	logger *zap.Logger
}

var _ ConnectionManager = (*connectionManager)(nil)

// NewConnectionManager wraps an already-open provider.
func NewConnectionManager(provider catalog.Provider, cfg mssql.Config, logger *zap.Logger) ConnectionManager {
	return &connectionManager{
		provider: provider,
		info:     infoFromConfig(cfg),
		dial: func(ctx context.Context, cfg *mssql.Config, logger *zap.Logger) (catalog.Provider, error) {
			return mssql.New(ctx, cfg, logger)
		},
		logger: logger.Named("connection"),
	}
}

func infoFromConfig(cfg mssql.Config) ConnectionInfo {
	return ConnectionInfo{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		Username: cfg.Username,
		Encrypt:  cfg.Encrypt,
	}
}

func (m *connectionManager) Provider() catalog.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provider
}

func (m *connectionManager) Info() ConnectionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

func (m *connectionManager) Test(ctx context.Context, cfg mssql.Config) error {
	trial, err := m.dial(ctx, &cfg, m.logger)
	if err != nil {
		return fmt.Errorf("connection test failed: %s", logging.SanitizeError(err))
	}
	defer trial.Close()
	return nil
}

func (m *connectionManager) Switch(ctx context.Context, cfg mssql.Config) error {
	next, err := m.dial(ctx, &cfg, m.logger)
	if err != nil {
		return fmt.Errorf("switch failed: %s", logging.SanitizeError(err))
	}

	// Hooks run while the write lock is held: a reader can never observe the
	// new provider paired with a snapshot built against the previous
	// connection. The slow parts, dialing above and the cache rebuild after
	// invalidation, stay outside the lock.
	m.mu.Lock()
	previous := m.provider
	m.provider = next
	m.info = infoFromConfig(cfg)
	for _, hook := range m.hooks {
		hook()
	}
	m.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			m.logger.Warn("failed to close previous catalog connection", zap.Error(err))
		}
	}
	m.logger.Info("switched catalog connection",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))
	return nil
}

func (m *connectionManager) OnSwitch(hook func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

func (m *connectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.provider == nil {
		return nil
	}
	return m.provider.Close()
}
