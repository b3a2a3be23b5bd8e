// Package config loads and validates the gateway configuration tree.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tidefeed/gateway/internal/schema"
)

// Timeframes sampled by the oi/vol monitor; threshold and floor maps are
// keyed by these.
var monitorTimeframes = []string{"5m", "15m", "1h"}

// TelemetryConfig configures the OTLP metrics exporter.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// VenueCredentials carries optional API keys. The public market-data feeds
// need none; the fields exist for operators running authenticated endpoints.
type VenueCredentials struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// Config is the gateway configuration tree.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	// SupportedSymbols is a comma-separated list of pair tags tracked by the
	// large-trade aggregator and advertised downstream.
	SupportedSymbols string `yaml:"supported_symbols"`

	LargeTradeThresholdUSD  float64 `yaml:"large_trade_threshold_usd"`
	LiquidationMinValueUSD  float64 `yaml:"liquidation_min_value_usd"`
	FirehoseMinValueUSD     float64 `yaml:"firehose_min_value_usd"`
	MaxSymbolsPerConnection int     `yaml:"max_symbols_per_connection"`
	WSReconnectMaxSeconds   int     `yaml:"ws_reconnect_max_seconds"`
	BusQueueCapacity        int     `yaml:"bus_queue_capacity"`

	OIVolCycleSeconds   int                `yaml:"oi_vol_cycle_seconds"`
	OIVolSymbolsLimit   int                `yaml:"oi_vol_symbols_limit"`
	OIVolThresholds     map[string]float64 `yaml:"oi_vol_thresholds"`
	OIVolMinOIUSD       map[string]float64 `yaml:"oi_vol_min_oi_usd"`
	OIVolMinQuoteVolume map[string]float64 `yaml:"oi_vol_min_quote_volume"`

	CORSOrigins []string                    `yaml:"cors_origins"`
	Telemetry   TelemetryConfig             `yaml:"telemetry"`
	Venues      map[string]VenueCredentials `yaml:"venues"`
}

// Default returns the configuration used when no file overrides anything.
func Default() Config {
	return Config{
		ListenAddr:              ":8899",
		LogLevel:                "info",
		SupportedSymbols:        "BTCUSDT,ETHUSDT,SOLUSDT",
		LargeTradeThresholdUSD:  10_000,
		LiquidationMinValueUSD:  50_000,
		FirehoseMinValueUSD:     5_000,
		MaxSymbolsPerConnection: 10,
		WSReconnectMaxSeconds:   30,
		BusQueueCapacity:        1000,
		OIVolCycleSeconds:       300,
		OIVolSymbolsLimit:       80,
		OIVolThresholds:         map[string]float64{"5m": 3.0, "15m": 2.5, "1h": 2.0},
		OIVolMinOIUSD:           map[string]float64{"5m": 1_000_000, "15m": 1_000_000, "1h": 1_000_000},
		OIVolMinQuoteVolume:     map[string]float64{"5m": 100_000, "15m": 250_000, "1h": 500_000},
		Telemetry:               TelemetryConfig{ServiceName: "tidefeed-gateway"},
	}
}

// Load reads the configuration from path. An empty path falls back to the
// TIDEFEED_CONFIG environment variable and then to config/gateway.yaml;
// when neither file exists the example file is used.
func Load(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("TIDEFEED_CONFIG"))
	}
	if path == "" {
		path = "config/gateway.yaml"
	}

	reader, closer, err := openConfigFile(path)
	if err != nil {
		return Config{}, err
	}
	defer closer()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Config{}, fmt.Errorf("read gateway config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal gateway config: %w", err)
	}
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	safePath := filepath.Clean(path)
	file, err := os.Open(safePath) // #nosec G304 -- configuration paths are controlled by operators.
	if err == nil {
		return file, func() { _ = file.Close() }, nil
	}
	if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("open gateway config: %w", err)
	}
	fallback := "config/gateway.example.yaml"
	file, err = os.Open(fallback)
	if err != nil {
		return nil, nil, fmt.Errorf("open gateway config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

// fillDefaults restores defaults for zero-valued fields so a sparse file
// stays valid.
func (c *Config) fillDefaults() {
	def := Default()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LargeTradeThresholdUSD <= 0 {
		c.LargeTradeThresholdUSD = def.LargeTradeThresholdUSD
	}
	if c.LiquidationMinValueUSD <= 0 {
		c.LiquidationMinValueUSD = def.LiquidationMinValueUSD
	}
	if c.FirehoseMinValueUSD <= 0 {
		c.FirehoseMinValueUSD = def.FirehoseMinValueUSD
	}
	if c.MaxSymbolsPerConnection <= 0 {
		c.MaxSymbolsPerConnection = def.MaxSymbolsPerConnection
	}
	if c.WSReconnectMaxSeconds <= 0 {
		c.WSReconnectMaxSeconds = def.WSReconnectMaxSeconds
	}
	if c.BusQueueCapacity <= 0 {
		c.BusQueueCapacity = def.BusQueueCapacity
	}
	if c.OIVolCycleSeconds <= 0 {
		c.OIVolCycleSeconds = def.OIVolCycleSeconds
	}
	if c.OIVolSymbolsLimit <= 0 {
		c.OIVolSymbolsLimit = def.OIVolSymbolsLimit
	}
	if len(c.OIVolThresholds) == 0 {
		c.OIVolThresholds = def.OIVolThresholds
	}
	if len(c.OIVolMinOIUSD) == 0 {
		c.OIVolMinOIUSD = def.OIVolMinOIUSD
	}
	if len(c.OIVolMinQuoteVolume) == 0 {
		c.OIVolMinQuoteVolume = def.OIVolMinQuoteVolume
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
}

// Validate performs semantic validation on the loaded configuration.
func (c Config) Validate() error {
	for _, symbol := range c.Symbols() {
		if !schema.HasQuoteSuffix(symbol) {
			return fmt.Errorf("supported_symbols: %s does not carry a recognized quote suffix", symbol)
		}
	}
	for _, tf := range monitorTimeframes {
		if c.OIVolThresholds[tf] <= 0 {
			return fmt.Errorf("oi_vol_thresholds.%s must be >0", tf)
		}
		if c.OIVolMinOIUSD[tf] < 0 {
			return fmt.Errorf("oi_vol_min_oi_usd.%s must be >=0", tf)
		}
		if c.OIVolMinQuoteVolume[tf] < 0 {
			return fmt.Errorf("oi_vol_min_quote_volume.%s must be >=0", tf)
		}
	}
	for tf := range c.OIVolThresholds {
		if !isMonitorTimeframe(tf) {
			return fmt.Errorf("oi_vol_thresholds: unknown timeframe %s", tf)
		}
	}
	return nil
}

func isMonitorTimeframe(tf string) bool {
	for _, known := range monitorTimeframes {
		if tf == known {
			return true
		}
	}
	return false
}

// Symbols splits the supported-symbol CSV into trimmed uppercase pair tags.
func (c Config) Symbols() []string {
	parts := strings.Split(c.SupportedSymbols, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		symbol := strings.ToUpper(strings.TrimSpace(part))
		if symbol != "" {
			out = append(out, symbol)
		}
	}
	return out
}

// MaxBackoff converts the reconnect ceiling to a duration.
func (c Config) MaxBackoff() time.Duration {
	return time.Duration(c.WSReconnectMaxSeconds) * time.Second
}

// OIVolCycle converts the monitor cycle to a duration.
func (c Config) OIVolCycle() time.Duration {
	return time.Duration(c.OIVolCycleSeconds) * time.Second
}

// MonitorTimeframes returns the timeframe universe of the oi/vol monitor.
func (c Config) MonitorTimeframes() []string {
	return append([]string(nil), monitorTimeframes...)
}
