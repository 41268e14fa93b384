package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/adapters/catalog"
	"github.com/dota-labs/dota-engine/pkg/adapters/catalog/mssql"
)

func newTestConnectionManager(provider catalog.Provider, next catalog.Provider, dialErr error) *connectionManager {
	m := NewConnectionManager(provider, mssql.Config{Host: "old", Database: "OldDB"}, zap.NewNop()).(*connectionManager)
	m.dial = func(ctx context.Context, cfg *mssql.Config, logger *zap.Logger) (catalog.Provider, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return next, nil
	}
	return m
}

func TestSwitchRunsHooksInsideSwap(t *testing.T) {
	previous := populatedProvider()
	next := newFakeProvider()
	m := newTestConnectionManager(previous, next, nil)

	var sawNext, lockHeld bool
	m.OnSwitch(func() {
		// The hook must already see the new provider, with the swap lock
		// still held so no reader can interleave.
		sawNext = m.provider == catalog.Provider(next)
		if m.mu.TryLock() {
			m.mu.Unlock()
		} else {
			lockHeld = true
		}
	})

	err := m.Switch(context.Background(), mssql.Config{Host: "new", Database: "NewDB"})
	require.NoError(t, err)

	assert.True(t, sawNext)
	assert.True(t, lockHeld)
	assert.Same(t, next, m.Provider())
	assert.Equal(t, "NewDB", m.Info().Database)
}

func TestSwitchKeepsProviderOnDialFailure(t *testing.T) {
	previous := populatedProvider()
	m := newTestConnectionManager(previous, nil, errors.New("login failed for user"))

	hookRuns := 0
	m.OnSwitch(func() { hookRuns++ })

	err := m.Switch(context.Background(), mssql.Config{Host: "new", Database: "NewDB"})
	require.Error(t, err)

	assert.Equal(t, 0, hookRuns)
	assert.Same(t, previous, m.Provider())
	assert.Equal(t, "OldDB", m.Info().Database)
}

func TestConnectionInfoOmitsCredentials(t *testing.T) {
	info := infoFromConfig(mssql.Config{
		Host: "db.internal", Port: 1433, Database: "Payroll",
		Username: "svc_lineage", Password: "hunter2", Encrypt: true,
	})
	assert.Equal(t, "db.internal", info.Host)
	assert.Equal(t, "svc_lineage", info.Username)
}
