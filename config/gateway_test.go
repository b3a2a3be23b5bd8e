package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsToSparseFile(t *testing.T) {
	path := writeConfig(t, "supported_symbols: \"btcusdt, ethusdt\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols())
	require.Equal(t, 50_000.0, cfg.LiquidationMinValueUSD)
	require.Equal(t, 1000, cfg.BusQueueCapacity)
	require.Equal(t, 30*time.Second, cfg.MaxBackoff())
	require.Equal(t, 300*time.Second, cfg.OIVolCycle())
	require.Equal(t, 3.0, cfg.OIVolThresholds["5m"])
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
supported_symbols: "BTCUSDT"
large_trade_threshold_usd: 25000
ws_reconnect_max_seconds: 10
oi_vol_thresholds:
  5m: 4.0
  15m: 3.0
  1h: 2.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 25_000.0, cfg.LargeTradeThresholdUSD)
	require.Equal(t, 10*time.Second, cfg.MaxBackoff())
	require.Equal(t, 4.0, cfg.OIVolThresholds["5m"])
}

func TestLoadRejectsUnknownTimeframe(t *testing.T) {
	path := writeConfig(t, `
oi_vol_thresholds:
  5m: 3.0
  15m: 2.5
  1h: 2.0
  4h: 1.5
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "unknown timeframe 4h")
}

func TestLoadRejectsBadSymbol(t *testing.T) {
	path := writeConfig(t, "supported_symbols: \"BTCUSDT,BTCEUR\"\n")

	_, err := Load(path)
	require.ErrorContains(t, err, "BTCEUR")
}

func TestLoadHonorsEnvPath(t *testing.T) {
	path := writeConfig(t, "listen_addr: \":9000\"\n")
	t.Setenv("TIDEFEED_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddr)
}
