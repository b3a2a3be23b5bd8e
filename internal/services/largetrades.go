package services

import (
	"context"
	"time"

	concpool "github.com/sourcegraph/conc/pool"

	"github.com/tidefeed/gateway/internal/bus/eventbus"
	"github.com/tidefeed/gateway/internal/observability"
	"github.com/tidefeed/gateway/internal/schema"
)

// TradeSource is one venue trade feed covering a symbol set.
type TradeSource interface {
	Name() string
	StreamTrades(ctx context.Context, symbols []string) (<-chan *schema.LargeTrade, func(), error)
}

// LargeTradeConfig tunes the large-trade aggregator.
type LargeTradeConfig struct {
	// Symbols is the tracked instrument universe, venue-style pair tags.
	Symbols []string
	// ThresholdUSD drops trades below this notional before publication.
	ThresholdUSD float64
	// RestartDelay spaces venue stream restarts after an abnormal end.
	RestartDelay time.Duration
}

func (c LargeTradeConfig) normalize() LargeTradeConfig {
	if c.ThresholdUSD <= 0 {
		c.ThresholdUSD = 10_000
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 5 * time.Second
	}
	return c
}

// LargeTradeService filters venue trade feeds by notional and publishes the
// survivors on the large-trade topic. Venue supervisors are independent.
type LargeTradeService struct {
	bus     eventbus.Bus
	sources []TradeSource
	cfg     LargeTradeConfig

	cancel context.CancelFunc
	tasks  *concpool.ContextPool
}

// NewLargeTradeService wires the aggregator against a bus and venue sources.
func NewLargeTradeService(bus eventbus.Bus, sources []TradeSource, cfg LargeTradeConfig) *LargeTradeService {
	return &LargeTradeService{bus: bus, sources: sources, cfg: cfg.normalize()}
}

// Start launches one supervisor per venue and returns.
func (s *LargeTradeService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.tasks = concpool.New().WithContext(ctx)
	for _, src := range s.sources {
		src := src
		s.tasks.Go(func(ctx context.Context) error {
			s.superviseVenue(ctx, src)
			return nil
		})
	}
	observability.Log().Info("large trade service started",
		observability.F("venues", len(s.sources)),
		observability.F("symbols", len(s.cfg.Symbols)),
		observability.F("threshold_usd", s.cfg.ThresholdUSD))
}

// Stop cancels all venue supervisors and waits for them to exit.
func (s *LargeTradeService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.tasks != nil {
		_ = s.tasks.Wait()
	}
}

func (s *LargeTradeService) superviseVenue(ctx context.Context, src TradeSource) {
	for ctx.Err() == nil {
		ch, stop, err := src.StreamTrades(ctx, s.cfg.Symbols)
		if err != nil {
			observability.Log().Error("trade stream open failed",
				observability.F("exchange", src.Name()),
				observability.F("error", err))
			if !sleepCtx(ctx, s.cfg.RestartDelay) {
				return
			}
			continue
		}

		for trade := range ch {
			if trade.Value < s.cfg.ThresholdUSD {
				continue
			}
			if err := s.bus.Publish(ctx, schema.NewEvent(schema.TopicLargeTrade, trade)); err != nil {
				observability.Log().Warn("large trade publish failed",
					observability.F("exchange", src.Name()),
					observability.F("error", err))
			}
		}
		stop()

		if ctx.Err() != nil {
			return
		}
		observability.Log().Warn("trade stream ended, restarting",
			observability.F("exchange", src.Name()))
		if !sleepCtx(ctx, s.cfg.RestartDelay) {
			return
		}
	}
}
