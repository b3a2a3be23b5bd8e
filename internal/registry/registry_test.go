package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubConnector struct {
	name     string
	features []Feature
	initErr  error
	health   error
	inits    int
	stops    int
}

func (s *stubConnector) Name() string                       { return s.name }
func (s *stubConnector) Features() []Feature                { return s.features }
func (s *stubConnector) HealthCheck(context.Context) error  { return s.health }
func (s *stubConnector) Shutdown(context.Context) error     { s.stops++; return nil }
func (s *stubConnector) Initialize(context.Context) error   { s.inits++; return s.initErr }

func TestLookupIsCaseInsensitive(t *testing.T) {
	r := New()
	r.Register(&stubConnector{name: "binance"})

	_, ok := r.Get("Binance")
	require.True(t, ok)
	_, ok = r.Get(" BINANCE ")
	require.True(t, ok)
	_, ok = r.Get("kraken")
	require.False(t, ok)
}

func TestSupportsAndExchangesWith(t *testing.T) {
	r := New()
	r.Register(&stubConnector{name: "binance", features: []Feature{FeatureOHLC, FeatureLiquidations}})
	r.Register(&stubConnector{name: "okx", features: []Feature{FeatureLiquidations}})
	r.Register(&stubConnector{name: "hyperliquid", features: []Feature{FeatureOHLC}})

	require.True(t, r.Supports("binance", FeatureLiquidations))
	require.False(t, r.Supports("hyperliquid", FeatureLiquidations))
	require.False(t, r.Supports("unknown", FeatureOHLC))

	require.Equal(t, []string{"binance", "okx"}, r.ExchangesWith(FeatureLiquidations))
	require.Equal(t, []string{"binance", "hyperliquid"}, r.ExchangesWith(FeatureOHLC))
}

func TestInitializeAllContinuesPastFailure(t *testing.T) {
	r := New()
	bad := &stubConnector{name: "bad", initErr: errors.New("down")}
	good := &stubConnector{name: "good"}
	r.Register(bad)
	r.Register(good)

	r.InitializeAll(context.Background())
	require.Equal(t, 1, bad.inits)
	require.Equal(t, 1, good.inits)
}

func TestHealthCheckAll(t *testing.T) {
	r := New()
	r.Register(&stubConnector{name: "up"})
	r.Register(&stubConnector{name: "down", health: errors.New("unreachable")})

	results := r.HealthCheckAll(context.Background())
	require.NoError(t, results["up"])
	require.Error(t, results["down"])
}

func TestDefaultRegistryCapabilities(t *testing.T) {
	r := NewDefault(Config{})

	require.ElementsMatch(t, []string{"binance", "bybit", "hyperliquid", "okx"}, r.List())
	require.Equal(t, []string{"binance", "bybit", "okx"}, r.ExchangesWith(FeatureLiquidations))
	require.Equal(t, []string{"binance", "bybit", "hyperliquid"}, r.ExchangesWith(FeatureOHLC))

	// Streaming surfaces are reachable through the capability interfaces.
	c, ok := r.Get("binance")
	require.True(t, ok)
	_, isCandleStreamer := c.(CandleStreamer)
	require.True(t, isCandleStreamer)
	_, isLiquidationStreamer := c.(LiquidationStreamer)
	require.True(t, isLiquidationStreamer)

	c, ok = r.Get("okx")
	require.True(t, ok)
	_, isCandleStreamer = c.(CandleStreamer)
	require.False(t, isCandleStreamer)
	_, isLiquidationStreamer = c.(LiquidationStreamer)
	require.True(t, isLiquidationStreamer)
}
