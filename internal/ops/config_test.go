package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, loaded.Risk.MaxConcurrentPositions)
	assert.Equal(t, 30, loaded.Risk.MaxDailyTrades)
	assert.InDelta(t, 3.0, loaded.Risk.PositionSizePct, 1e-9)
	assert.InDelta(t, 1.0, loaded.Risk.StopLossPct, 1e-9)
	assert.Equal(t, 10*time.Minute, loaded.Engine.Horizon)
	assert.Equal(t, 5*time.Second, loaded.Engine.ExitTick)
	assert.Equal(t, 5*time.Minute, loaded.Engine.ReconcileInterval)
	assert.Equal(t, 10*time.Second, loaded.Engine.SubmitTimeout)
	assert.Equal(t, 7*24*time.Hour, loaded.Engine.DedupRetention)
	assert.Equal(t, 2*time.Minute, loaded.Reconcile.StaleSubmitAfter)
	assert.InDelta(t, 50000, loaded.Engine.FallbackEquity, 1e-9)
	assert.Equal(t, "sim", loaded.Broker.Mode)
	assert.Equal(t, "data/trading_state.json", loaded.State.Path)
	assert.Equal(t, 3, loaded.State.Backups)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"risk": {"maxConcurrentPositions": 5, "positionSizePct": 1.5},
		"engine": {"timeExitMinutes": 30, "flattenOnExit": true},
		"feed": {"dir": "/srv/alerts", "pollSeconds": 2},
		"state": {"path": "/var/lib/trader/state.json", "backups": 5}
	}`), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, loaded.Risk.MaxConcurrentPositions)
	assert.InDelta(t, 1.5, loaded.Risk.PositionSizePct, 1e-9)
	assert.Equal(t, 30*time.Minute, loaded.Engine.Horizon)
	assert.True(t, loaded.Engine.FlattenOnExit)
	assert.Equal(t, "/srv/alerts", loaded.Feed.Dir)
	assert.Equal(t, 2*time.Second, loaded.Feed.Poll)
	assert.Equal(t, "/var/lib/trader/state.json", loaded.State.Path)
	assert.Equal(t, 5, loaded.State.Backups)
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"risk":`), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestResolveAlpacaRequiresCredentials(t *testing.T) {
	t.Setenv("APCA_API_KEY_ID", "")
	t.Setenv("APCA_API_SECRET_KEY", "")

	_, err := Resolve(FileConfig{Broker: BrokerConfig{Mode: "alpaca"}})
	assert.Error(t, err)
}

func TestResolveAlpacaEnvOverlay(t *testing.T) {
	t.Setenv("APCA_API_KEY_ID", "key-from-env")
	t.Setenv("APCA_API_SECRET_KEY", "secret-from-env")
	t.Setenv("APCA_API_BASE_URL", "https://paper-api.alpaca.markets")

	loaded, err := Resolve(FileConfig{Broker: BrokerConfig{Mode: "alpaca"}})
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", loaded.Broker.Alpaca.Key)
	assert.Equal(t, "secret-from-env", loaded.Broker.Alpaca.Secret)
	assert.Equal(t, "https://paper-api.alpaca.markets", loaded.Broker.Alpaca.BaseURL)
}

func TestResolveUnknownBrokerMode(t *testing.T) {
	_, err := Resolve(FileConfig{Broker: BrokerConfig{Mode: "etrade"}})
	assert.Error(t, err)
}
