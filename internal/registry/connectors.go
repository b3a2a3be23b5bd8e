package registry

import (
	"context"
	"sync"
	"time"

	"github.com/tidefeed/gateway/internal/adapters/binance"
	"github.com/tidefeed/gateway/internal/adapters/bybit"
	"github.com/tidefeed/gateway/internal/adapters/hyperliquid"
	"github.com/tidefeed/gateway/internal/adapters/okx"
	"github.com/tidefeed/gateway/internal/schema"
)

// Config carries the shared connector tuning.
type Config struct {
	MaxBackoff time.Duration

	// Endpoint overrides for tests; empty selects production endpoints.
	BinanceWSBase       string
	BinanceRESTBase     string
	BybitWSBase         string
	BybitRESTBase       string
	HyperliquidWSBase   string
	HyperliquidRESTBase string
	OKXWSBase           string
}

// NewDefault builds a registry with the four production venues.
func NewDefault(cfg Config) *Registry {
	r := New()
	r.Register(&BinanceConnector{Client: binance.New(binance.Config{
		WSBase: cfg.BinanceWSBase, RESTBase: cfg.BinanceRESTBase, MaxBackoff: cfg.MaxBackoff,
	})})
	r.Register(&BybitConnector{Client: bybit.New(bybit.Config{
		WSBase: cfg.BybitWSBase, RESTBase: cfg.BybitRESTBase, MaxBackoff: cfg.MaxBackoff,
	})})
	r.Register(&HyperliquidConnector{Client: hyperliquid.New(hyperliquid.Config{
		WSBase: cfg.HyperliquidWSBase, RESTBase: cfg.HyperliquidRESTBase, MaxBackoff: cfg.MaxBackoff,
	})})
	r.Register(&OKXConnector{Client: okx.New(okx.Config{
		WSBase: cfg.OKXWSBase, MaxBackoff: cfg.MaxBackoff,
	})})
	return r
}

// BinanceConnector wires the Binance client into the registry surface.
type BinanceConnector struct {
	*binance.Client
}

func (c *BinanceConnector) Name() string { return binance.Name }

func (c *BinanceConnector) Features() []Feature {
	return []Feature{FeatureOHLC, FeatureFundingRate, FeatureOpenInterest, FeatureLiquidations, FeatureLargeTrades}
}

func (c *BinanceConnector) Initialize(ctx context.Context) error { return c.Ping(ctx) }
func (c *BinanceConnector) Shutdown(context.Context) error       { return nil }
func (c *BinanceConnector) HealthCheck(ctx context.Context) error {
	return c.Ping(ctx)
}

// StreamTrades opens one aggTrade connection per symbol and merges the
// results; Binance has no multi-symbol trade topic on a path-subscribed
// socket.
func (c *BinanceConnector) StreamTrades(ctx context.Context, symbols []string) (<-chan *schema.LargeTrade, func(), error) {
	merged := make(chan *schema.LargeTrade, 256)
	streamCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	stops := make([]func(), 0, len(symbols))
	for _, symbol := range symbols {
		ch, stop, err := c.Client.StreamAggTrades(streamCtx, symbol)
		if err != nil {
			cancel()
			for _, s := range stops {
				s()
			}
			return nil, nil, err
		}
		stops = append(stops, stop)
		wg.Add(1)
		go func(ch <-chan *schema.LargeTrade) {
			defer wg.Done()
			for trade := range ch {
				select {
				case merged <- trade:
				case <-streamCtx.Done():
					return
				}
			}
		}(ch)
	}

	go func() {
		wg.Wait()
		close(merged)
	}()

	stop := func() {
		cancel()
		for _, s := range stops {
			s()
		}
	}
	return merged, stop, nil
}

// StreamLiquidations serves the all-market force-order feed; the symbol set
// is ignored.
func (c *BinanceConnector) StreamLiquidations(ctx context.Context, _ []string) (<-chan *schema.Liquidation, func(), error) {
	return c.Client.StreamAllForceOrders(ctx)
}

// OpenInterestHist maps the canonical timeframe straight through; Binance
// periods use the canonical encoding.
func (c *BinanceConnector) OpenInterestHist(ctx context.Context, symbol, timeframe string, limit int) ([]*schema.OpenInterest, error) {
	return c.Client.OpenInterestHist(ctx, symbol, timeframe, limit)
}

// FundingHist passes through to the venue funding-rate history.
func (c *BinanceConnector) FundingHist(ctx context.Context, symbol string, limit int) ([]*schema.Funding, error) {
	return c.Client.FundingHist(ctx, symbol, limit)
}

// BybitConnector wires the Bybit client into the registry surface.
type BybitConnector struct {
	*bybit.Client
}

func (c *BybitConnector) Name() string { return bybit.Name }

func (c *BybitConnector) Features() []Feature {
	return []Feature{FeatureOHLC, FeatureFundingRate, FeatureOpenInterest, FeatureLiquidations, FeatureLargeTrades}
}

func (c *BybitConnector) Initialize(ctx context.Context) error { return c.Ping(ctx) }
func (c *BybitConnector) Shutdown(context.Context) error       { return nil }
func (c *BybitConnector) HealthCheck(ctx context.Context) error {
	return c.Ping(ctx)
}

// bybitIntervalTimes maps canonical timeframes onto the open-interest
// interval encoding.
var bybitIntervalTimes = map[string]string{
	"5m": "5min", "15m": "15min", "30m": "30min",
	"1h": "1h", "2h": "2h", "4h": "4h", "6h": "6h", "12h": "12h", "1d": "1d",
}

func (c *BybitConnector) OpenInterestHist(ctx context.Context, symbol, timeframe string, limit int) ([]*schema.OpenInterest, error) {
	intervalTime, ok := bybitIntervalTimes[timeframe]
	if !ok {
		intervalTime = "5min"
	}
	return c.Client.OpenInterestHist(ctx, symbol, intervalTime, limit)
}

// HyperliquidConnector wires the Hyperliquid client into the registry
// surface. The venue has no public liquidation feed.
type HyperliquidConnector struct {
	*hyperliquid.Client
}

func (c *HyperliquidConnector) Name() string { return hyperliquid.Name }

func (c *HyperliquidConnector) Features() []Feature {
	return []Feature{FeatureOHLC, FeatureFundingRate, FeatureOpenInterest, FeatureLargeTrades}
}

func (c *HyperliquidConnector) Initialize(ctx context.Context) error { return c.Ping(ctx) }
func (c *HyperliquidConnector) Shutdown(context.Context) error       { return nil }
func (c *HyperliquidConnector) HealthCheck(ctx context.Context) error {
	return c.Ping(ctx)
}

// OpenInterestHist is not served by the venue; only the current snapshot
// exists.
func (c *HyperliquidConnector) OpenInterestHist(ctx context.Context, symbol, _ string, _ int) ([]*schema.OpenInterest, error) {
	snapshot, err := c.Client.OpenInterest(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return []*schema.OpenInterest{snapshot}, nil
}

// FundingHist adapts the day-window venue call to the common signature.
func (c *HyperliquidConnector) FundingHist(ctx context.Context, symbol string, limit int) ([]*schema.Funding, error) {
	rows, err := c.Client.FundingHist(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return rows, nil
}

// OKXConnector wires the OKX liquidation feed into the registry surface.
type OKXConnector struct {
	*okx.Client
}

func (c *OKXConnector) Name() string { return okx.Name }

func (c *OKXConnector) Features() []Feature {
	return []Feature{FeatureLiquidations}
}

func (c *OKXConnector) Initialize(context.Context) error { return nil }
func (c *OKXConnector) Shutdown(context.Context) error   { return nil }

// HealthCheck reports healthy; the client holds no standing state outside
// its streams.
func (c *OKXConnector) HealthCheck(context.Context) error { return nil }

// StreamLiquidations serves the venue-wide swap feed; the symbol set is
// ignored.
func (c *OKXConnector) StreamLiquidations(ctx context.Context, _ []string) (<-chan *schema.Liquidation, func(), error) {
	return c.Client.StreamLiquidations(ctx)
}
