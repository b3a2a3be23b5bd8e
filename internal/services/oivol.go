package services

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tidefeed/gateway/internal/bus/eventbus"
	"github.com/tidefeed/gateway/internal/observability"
	"github.com/tidefeed/gateway/internal/schema"
)

// OIVolSource serves the snapshot data the spike monitor samples each cycle.
type OIVolSource interface {
	OpenInterestHist(ctx context.Context, symbol, timeframe string, limit int) ([]*schema.OpenInterest, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]*schema.Candle, error)
}

// OIVolConfig tunes the open-interest / volume spike monitor.
type OIVolConfig struct {
	// Exchange tags emitted alerts.
	Exchange string
	// Symbols is the static instrument universe. When empty the universe is
	// discovered from the source at startup.
	Symbols []string
	// SymbolsLimit caps the discovered universe.
	SymbolsLimit int
	// Timeframes are the sampled candle/OI periods.
	Timeframes []string
	// Thresholds holds the per-timeframe z-score emission threshold.
	Thresholds map[string]float64
	// MinOIValueUSD and MinQuoteVolume are per-timeframe floors on the latest
	// observation; symbols below either floor never emit.
	MinOIValueUSD  map[string]float64
	MinQuoteVolume map[string]float64
	// CycleInterval is the pause between the end of one sweep and the start
	// of the next.
	CycleInterval time.Duration
	// FetchLimit is the per-request history depth.
	FetchLimit int
	// FetchPace spaces per-symbol request bursts.
	FetchPace time.Duration
}

func (c OIVolConfig) normalize() OIVolConfig {
	if c.Exchange == "" {
		c.Exchange = "binance"
	}
	if c.SymbolsLimit <= 0 {
		c.SymbolsLimit = 80
	}
	if len(c.Timeframes) == 0 {
		c.Timeframes = []string{"5m", "15m", "1h"}
	}
	if c.Thresholds == nil {
		c.Thresholds = map[string]float64{"5m": 3.0, "15m": 2.5, "1h": 2.0}
	}
	if c.MinOIValueUSD == nil {
		c.MinOIValueUSD = map[string]float64{"5m": 1_000_000, "15m": 1_000_000, "1h": 1_000_000}
	}
	if c.MinQuoteVolume == nil {
		c.MinQuoteVolume = map[string]float64{"5m": 100_000, "15m": 250_000, "1h": 500_000}
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = 300 * time.Second
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 50
	}
	if c.FetchPace <= 0 {
		c.FetchPace = 250 * time.Millisecond
	}
	return c
}

// symbolWindows pairs the two rolling windows tracked per (symbol, timeframe).
type symbolWindows struct {
	oi  window
	vol window
}

// OIVolService sweeps open-interest and quote-volume history on a fixed cycle
// and publishes spike alerts when the latest observation deviates from its
// rolling window.
type OIVolService struct {
	bus     eventbus.Bus
	source  OIVolSource
	cfg     OIVolConfig
	limiter *rate.Limiter

	// windows is keyed by symbol then timeframe; only the cycle goroutine
	// touches it.
	windows map[string]map[string]*symbolWindows

	cancel context.CancelFunc
	done   chan struct{}
}

// NewOIVolService wires the monitor against a bus and snapshot source.
func NewOIVolService(bus eventbus.Bus, source OIVolSource, cfg OIVolConfig) *OIVolService {
	cfg = cfg.normalize()
	return &OIVolService{
		bus:     bus,
		source:  source,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.FetchPace), 1),
		windows: make(map[string]map[string]*symbolWindows),
	}
}

// Start launches the cycle loop and returns.
func (s *OIVolService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop cancels the cycle loop and waits for it to exit.
func (s *OIVolService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *OIVolService) run(ctx context.Context) {
	defer close(s.done)

	symbols := s.universe(ctx)
	if ctx.Err() != nil {
		return
	}
	observability.Log().Info("oi/vol monitor started",
		observability.F("exchange", s.cfg.Exchange),
		observability.F("symbols", len(symbols)),
		observability.F("cycle", s.cfg.CycleInterval))

	for ctx.Err() == nil {
		started := time.Now()
		s.runCycle(ctx, symbols)
		observability.Log().Info("oi/vol cycle complete",
			observability.F("exchange", s.cfg.Exchange),
			observability.F("duration", time.Since(started).Round(time.Millisecond)))
		observability.Telemetry().ObserveHistogram("monitor.cycle.duration",
			float64(time.Since(started).Milliseconds()),
			map[string]string{"exchange": s.cfg.Exchange})
		if !sleepCtx(ctx, s.cfg.CycleInterval) {
			return
		}
	}
}

// universe resolves the symbol set once at startup, retrying discovery until
// the source yields something.
func (s *OIVolService) universe(ctx context.Context) []string {
	if len(s.cfg.Symbols) > 0 {
		return capSymbols(s.cfg.Symbols, s.cfg.SymbolsLimit)
	}
	discoverer, ok := s.source.(SymbolDiscoverer)
	if !ok {
		return nil
	}
	for {
		symbols, err := discoverer.PerpSymbols(ctx)
		if err == nil && len(symbols) > 0 {
			return capSymbols(symbols, s.cfg.SymbolsLimit)
		}
		if err != nil {
			observability.Log().Warn("oi/vol symbol discovery failed",
				observability.F("exchange", s.cfg.Exchange),
				observability.F("error", err))
		}
		if !sleepCtx(ctx, 30*time.Second) {
			return nil
		}
	}
}

func capSymbols(symbols []string, limit int) []string {
	if limit > 0 && len(symbols) > limit {
		return symbols[:limit]
	}
	return symbols
}

func (s *OIVolService) runCycle(ctx context.Context, symbols []string) {
	for _, symbol := range symbols {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		for _, timeframe := range s.cfg.Timeframes {
			s.sampleSymbol(ctx, symbol, timeframe)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// sampleSymbol refreshes one (symbol, timeframe) window pair and evaluates
// the spike condition on the newest observation.
func (s *OIVolService) sampleSymbol(ctx context.Context, symbol, timeframe string) {
	w := s.windowsFor(symbol, timeframe)

	oiRows, err := s.source.OpenInterestHist(ctx, symbol, timeframe, s.cfg.FetchLimit)
	if err != nil {
		observability.Log().Warn("oi history fetch failed",
			observability.F("exchange", s.cfg.Exchange),
			observability.F("symbol", symbol),
			observability.F("timeframe", timeframe),
			observability.F("error", err))
		return
	}
	grew := false
	for _, row := range oiRows {
		v := row.OpenInterest
		if row.OpenInterestValue != nil {
			v = *row.OpenInterestValue
		}
		if w.oi.push(row.Timestamp, v) {
			grew = true
		}
	}

	candles, err := s.source.Klines(ctx, symbol, timeframe, s.cfg.FetchLimit)
	if err != nil {
		observability.Log().Warn("kline history fetch failed",
			observability.F("exchange", s.cfg.Exchange),
			observability.F("symbol", symbol),
			observability.F("timeframe", timeframe),
			observability.F("error", err))
		return
	}
	// The newest kline is still forming; its quote volume is partial.
	if len(candles) > 0 {
		candles = candles[:len(candles)-1]
	}
	for _, candle := range candles {
		if w.vol.push(candle.Timestamp, candle.QuoteVolume) {
			grew = true
		}
	}

	if grew {
		s.evaluate(ctx, symbol, timeframe, w)
	}
}

func (s *OIVolService) windowsFor(symbol, timeframe string) *symbolWindows {
	byTF, ok := s.windows[symbol]
	if !ok {
		byTF = make(map[string]*symbolWindows)
		s.windows[symbol] = byTF
	}
	w, ok := byTF[timeframe]
	if !ok {
		w = &symbolWindows{}
		byTF[timeframe] = w
	}
	return w
}

// evaluate publishes a spike alert when either z-score clears the timeframe
// threshold and the liquidity floors are met.
func (s *OIVolService) evaluate(ctx context.Context, symbol, timeframe string, w *symbolWindows) {
	if w.oi.last() < s.cfg.MinOIValueUSD[timeframe] || w.vol.last() < s.cfg.MinQuoteVolume[timeframe] {
		return
	}

	zOI := w.oi.zScore()
	zVol := w.vol.zScore()
	thr := s.cfg.Thresholds[timeframe]
	if thr <= 0 || (zOI < thr && zVol < thr) {
		return
	}

	alert := &schema.SpikeAlert{
		Type:      schema.TypeOISpike,
		Exchange:  s.cfg.Exchange,
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: time.Now().UTC(),
		ZOI:       zOI,
		ZVol:      zVol,
		Confirmed: zOI >= thr && zVol >= thr,
	}
	if err := s.bus.Publish(ctx, schema.NewEvent(schema.TopicOISpike, alert)); err != nil {
		observability.Log().Warn("spike alert publish failed",
			observability.F("symbol", symbol),
			observability.F("error", err))
		return
	}
	observability.Log().Info("spike alert",
		observability.F("symbol", symbol),
		observability.F("timeframe", timeframe),
		observability.F("z_oi", zOI),
		observability.F("z_vol", zVol),
		observability.F("confirmed", alert.Confirmed))
}
