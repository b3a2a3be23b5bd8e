// Package registry maps venue tags to connectors and their capabilities.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/observability"
	"github.com/tidefeed/gateway/internal/schema"
)

// Feature names one streaming or snapshot capability a venue can provide.
type Feature string

const (
	FeatureOHLC         Feature = "ohlc"
	FeatureFundingRate  Feature = "funding_rate"
	FeatureOpenInterest Feature = "open_interest"
	FeatureLiquidations Feature = "liquidations"
	FeatureLargeTrades  Feature = "large_trades"
)

// Connector is the lifecycle surface every venue adapter exposes.
type Connector interface {
	Name() string
	Features() []Feature
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}

// Capability-specific surfaces. A connector implements the subset matching
// its feature set; callers type-assert after a feature check.

// CandleStreamer yields live candles for one symbol.
type CandleStreamer interface {
	StreamKlines(ctx context.Context, symbol, interval string) (<-chan *schema.Candle, func(), error)
}

// TradeStreamer yields trades across a symbol set.
type TradeStreamer interface {
	StreamTrades(ctx context.Context, symbols []string) (<-chan *schema.LargeTrade, func(), error)
}

// LiquidationStreamer yields liquidations. Venues with an all-market feed
// ignore the symbol set.
type LiquidationStreamer interface {
	StreamLiquidations(ctx context.Context, symbols []string) (<-chan *schema.Liquidation, func(), error)
}

// CandleSnapshotter serves historical candles.
type CandleSnapshotter interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]*schema.Candle, error)
}

// OpenInterestSnapshotter serves open-interest data.
type OpenInterestSnapshotter interface {
	OpenInterest(ctx context.Context, symbol string) (*schema.OpenInterest, error)
	OpenInterestHist(ctx context.Context, symbol, timeframe string, limit int) ([]*schema.OpenInterest, error)
}

// FundingSnapshotter serves funding-rate data.
type FundingSnapshotter interface {
	Funding(ctx context.Context, symbol string) (*schema.Funding, error)
	FundingHist(ctx context.Context, symbol string, limit int) ([]*schema.Funding, error)
}

// Registry is the central venue lookup. Lookups are case-insensitive.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds a connector under its lowercase name.
func (r *Registry) Register(c Connector) {
	if c == nil {
		return
	}
	r.mu.Lock()
	r.connectors[strings.ToLower(c.Name())] = c
	r.mu.Unlock()
}

// Get returns the connector for the venue tag.
func (r *Registry) Get(name string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// List returns registered venue tags in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supports reports whether the venue provides the feature.
func (r *Registry) Supports(name string, feature Feature) bool {
	c, ok := r.Get(name)
	if !ok {
		return false
	}
	for _, f := range c.Features() {
		if f == feature {
			return true
		}
	}
	return false
}

// Features returns the venue's capability set.
func (r *Registry) Features(name string) ([]Feature, error) {
	c, ok := r.Get(name)
	if !ok {
		return nil, errs.New(name, errs.CodeNotFound, errs.WithMessage("unknown exchange"))
	}
	return c.Features(), nil
}

// ExchangesWith returns the sorted venue tags providing the feature.
func (r *Registry) ExchangesWith(feature Feature) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, c := range r.connectors {
		for _, f := range c.Features() {
			if f == feature {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// InitializeAll starts every connector. One venue failing is logged and does
// not abort the others.
func (r *Registry) InitializeAll(ctx context.Context) {
	for _, name := range r.List() {
		c, _ := r.Get(name)
		if err := c.Initialize(ctx); err != nil {
			observability.Log().Error("connector initialization failed",
				observability.F("exchange", name),
				observability.F("error", err))
			continue
		}
		observability.Log().Info("connector initialized",
			observability.F("exchange", name))
	}
}

// ShutdownAll stops every connector.
func (r *Registry) ShutdownAll(ctx context.Context) {
	for _, name := range r.List() {
		c, _ := r.Get(name)
		if err := c.Shutdown(ctx); err != nil {
			observability.Log().Error("connector shutdown failed",
				observability.F("exchange", name),
				observability.F("error", err))
		}
	}
}

// HealthCheckAll probes every connector and returns the per-venue outcome.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for _, name := range r.List() {
		c, _ := r.Get(name)
		results[name] = c.HealthCheck(ctx)
	}
	return results
}
