package services

import (
	"context"
	"sort"
	"sync"
	"time"

	concpool "github.com/sourcegraph/conc/pool"

	"github.com/tidefeed/gateway/internal/bus/eventbus"
	"github.com/tidefeed/gateway/internal/observability"
	"github.com/tidefeed/gateway/internal/schema"
)

// LiquidationSource is one venue liquidation feed. Venues with an all-market
// feed ignore the symbol set.
type LiquidationSource interface {
	Name() string
	StreamLiquidations(ctx context.Context, symbols []string) (<-chan *schema.Liquidation, func(), error)
}

// SymbolDiscoverer is implemented by sources that need an instrument listing
// before they can subscribe.
type SymbolDiscoverer interface {
	PerpSymbols(ctx context.Context) ([]string, error)
}

// LiquidationConfig tunes the liquidation aggregator.
type LiquidationConfig struct {
	// MinValueUSD drops events below this notional before publication.
	MinValueUSD float64
	// RestartDelay spaces venue stream restarts after an abnormal end.
	RestartDelay time.Duration
	// DiscoveryRetry spaces instrument-discovery retries when the venue
	// returns nothing.
	DiscoveryRetry time.Duration
	// DegradedAfter marks a venue degraded once this many consecutive
	// restarts happen without a delivered event. The venue keeps retrying.
	DegradedAfter int
}

func (c LiquidationConfig) normalize() LiquidationConfig {
	if c.MinValueUSD <= 0 {
		c.MinValueUSD = 50_000
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 5 * time.Second
	}
	if c.DiscoveryRetry <= 0 {
		c.DiscoveryRetry = 30 * time.Second
	}
	if c.DegradedAfter <= 0 {
		c.DegradedAfter = 5
	}
	return c
}

// LiquidationService fans venue liquidation feeds into the liquidation topic.
// Each venue runs under its own supervisor; one venue failing persistently
// does not affect the others.
type LiquidationService struct {
	bus     eventbus.Bus
	sources []LiquidationSource
	cfg     LiquidationConfig

	cancel context.CancelFunc
	tasks  *concpool.ContextPool

	mu       sync.Mutex
	failures map[string]int
}

// NewLiquidationService wires the aggregator against a bus and venue sources.
func NewLiquidationService(bus eventbus.Bus, sources []LiquidationSource, cfg LiquidationConfig) *LiquidationService {
	return &LiquidationService{
		bus:      bus,
		sources:  sources,
		cfg:      cfg.normalize(),
		failures: make(map[string]int),
	}
}

// DegradedVenues lists venues whose supervisor has restarted DegradedAfter or
// more times in a row without delivering anything.
func (s *LiquidationService) DegradedVenues() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name, n := range s.failures {
		if n >= s.cfg.DegradedAfter {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *LiquidationService) recordFailure(name string) {
	s.mu.Lock()
	s.failures[name]++
	n := s.failures[name]
	s.mu.Unlock()
	if n == s.cfg.DegradedAfter {
		observability.Log().Error("liquidation venue degraded",
			observability.F("exchange", name),
			observability.F("consecutive_failures", n))
	}
	observability.Telemetry().SetGauge("venues.degraded",
		float64(len(s.DegradedVenues())), nil)
}

func (s *LiquidationService) recordSuccess(name string) {
	s.mu.Lock()
	s.failures[name] = 0
	s.mu.Unlock()
}

// Start launches one supervisor per venue and returns.
func (s *LiquidationService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.tasks = concpool.New().WithContext(ctx)
	for _, src := range s.sources {
		src := src
		s.tasks.Go(func(ctx context.Context) error {
			s.superviseVenue(ctx, src)
			return nil
		})
	}
	observability.Log().Info("liquidation service started",
		observability.F("venues", len(s.sources)),
		observability.F("min_value_usd", s.cfg.MinValueUSD))
}

// Stop cancels all venue supervisors and waits for them to exit.
func (s *LiquidationService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.tasks != nil {
		_ = s.tasks.Wait()
	}
}

func (s *LiquidationService) superviseVenue(ctx context.Context, src LiquidationSource) {
	for ctx.Err() == nil {
		symbols := s.venueSymbols(ctx, src)
		if ctx.Err() != nil {
			return
		}

		ch, stop, err := src.StreamLiquidations(ctx, symbols)
		if err != nil {
			s.recordFailure(src.Name())
			observability.Log().Error("liquidation stream open failed",
				observability.F("exchange", src.Name()),
				observability.F("error", err))
			if !sleepCtx(ctx, s.cfg.RestartDelay) {
				return
			}
			continue
		}

		delivered := false
		for liq := range ch {
			delivered = true
			if liq.Value < s.cfg.MinValueUSD {
				continue
			}
			if err := s.bus.Publish(ctx, schema.NewEvent(schema.TopicLiquidation, liq)); err != nil {
				observability.Log().Warn("liquidation publish failed",
					observability.F("exchange", src.Name()),
					observability.F("error", err))
			}
		}
		stop()

		if ctx.Err() != nil {
			return
		}
		if delivered {
			s.recordSuccess(src.Name())
		} else {
			s.recordFailure(src.Name())
		}
		observability.Log().Warn("liquidation stream ended, restarting",
			observability.F("exchange", src.Name()))
		if !sleepCtx(ctx, s.cfg.RestartDelay) {
			return
		}
	}
}

// venueSymbols resolves the subscription universe for sources that require
// discovery. An empty or failed listing backs off and retries; the venue
// stays pending rather than subscribing to nothing.
func (s *LiquidationService) venueSymbols(ctx context.Context, src LiquidationSource) []string {
	discoverer, ok := src.(SymbolDiscoverer)
	if !ok {
		return nil
	}
	for {
		symbols, err := discoverer.PerpSymbols(ctx)
		if err == nil && len(symbols) > 0 {
			observability.Log().Info("liquidation instruments discovered",
				observability.F("exchange", src.Name()),
				observability.F("count", len(symbols)))
			return symbols
		}
		if err != nil {
			observability.Log().Warn("instrument discovery failed",
				observability.F("exchange", src.Name()),
				observability.F("error", err))
		} else {
			observability.Log().Warn("instrument discovery returned no symbols",
				observability.F("exchange", src.Name()))
		}
		if !sleepCtx(ctx, s.cfg.DiscoveryRetry) {
			return nil
		}
	}
}

// sleepCtx waits for d or context cancellation, reporting whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
