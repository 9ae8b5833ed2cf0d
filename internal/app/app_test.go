package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/tradebot/internal/config"
)

func paperConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Store.Path = filepath.Join(t.TempDir(), "positions.json")
	// No dialing during wiring: the ws feed only connects in run.
	return &cfg
}

func TestWirePaperMode(t *testing.T) {
	cfg := paperConfig(t)
	deps, cleanup, err := Wire(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, deps.Repo)
	require.NotNil(t, deps.Venue)
	require.NotNil(t, deps.PaperWallet)
	require.NotNil(t, deps.Prices)
	require.NotNil(t, deps.Bus)
	require.NotNil(t, deps.Market)
	require.NotNil(t, deps.Resolutions)
	assert.Nil(t, deps.Archiver, "s3 disabled by default")
	assert.Nil(t, deps.Notifier, "no channels configured")

	bal := deps.PaperWallet.Balance()
	assert.Equal(t, "1000", bal.String())
}

func TestWireUnknownStoreBackendFallsBackToFile(t *testing.T) {
	cfg := paperConfig(t)
	cfg.Store.Backend = "file"

	deps, cleanup, err := Wire(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	defer cleanup()

	set, err := deps.Repo.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, set.Positions)
}

func TestBuildModulesResolvesActiveSet(t *testing.T) {
	cfg := paperConfig(t)
	cfg.Strategy.Active = []string{"binary_arb", "bracket_arb"}

	a := New(cfg, slog.Default())
	modules, err := a.buildModules()
	require.NoError(t, err)
	require.Len(t, modules, 2)
	assert.Equal(t, "binary_arb", modules[0].Name())
	assert.Equal(t, "bracket_arb", modules[1].Name())
}

func TestBuildModulesRejectsUnknownName(t *testing.T) {
	cfg := paperConfig(t)
	cfg.Strategy.Active = []string{"momentum"}

	a := New(cfg, slog.Default())
	_, err := a.buildModules()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}
