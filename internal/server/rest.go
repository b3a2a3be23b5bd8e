package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"

	concpool "github.com/sourcegraph/conc/pool"

	"github.com/tidefeed/gateway/internal/registry"
	"github.com/tidefeed/gateway/internal/schema"
)

func (s *server) getRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":           "tidefeed-gateway",
		"exchanges":         s.registry.List(),
		"supported_symbols": s.cfg.SupportedSymbols,
		"docs":              "/ws-catalog",
	})
}

func (s *server) getExchanges(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string][]registry.Feature)
	for _, name := range s.registry.List() {
		features, err := s.registry.Features(name)
		if err != nil {
			continue
		}
		out[name] = features
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchanges": out})
}

func (s *server) getHealth(w http.ResponseWriter, r *http.Request) {
	results := s.registry.HealthCheckAll(r.Context())
	venues := make(map[string]string, len(results))
	healthy := 0
	for name, err := range results {
		if err == nil {
			venues[name] = "ok"
			healthy++
			continue
		}
		venues[name] = err.Error()
	}

	status := http.StatusOK
	overall := "ok"
	switch {
	case healthy == 0 && len(results) > 0:
		status = http.StatusServiceUnavailable
		overall = "down"
	case healthy < len(results):
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "exchanges": venues})
}

func (s *server) getWSCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoints": []map[string]string{
			{"path": "/ws/{exchange}/{symbol}/ohlc?interval=1m", "payload": "candle records"},
			{"path": "/ws/{exchange}/{symbol}/large_trades", "payload": "large trade records"},
			{"path": "/ws/{exchange}/{symbol}/liquidations", "payload": "liquidation records"},
			{"path": "/ws/all/liquidations?min_value_usd=5000", "payload": "liquidation firehose"},
			{"path": "/ws/all/large_trades?min_value_usd=5000", "payload": "large trade firehose"},
			{"path": "/ws/oi-vol?timeframes=5m,15m,1h", "payload": "oi/volume spike alerts"},
			{"path": "/ws/binance/multi/ohlc?interval=1m", "payload": "multiplexed candles, subscribe/unsubscribe protocol"},
		},
	})
}

// connector resolves a path exchange tag, answering 404 on a miss.
func (s *server) connector(w http.ResponseWriter, name string) (registry.Connector, bool) {
	c, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown exchange: "+name)
		return nil, false
	}
	return c, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (s *server) getOHLC(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connector(w, r.PathValue("exchange"))
	if !ok {
		return
	}
	snapshotter, ok := c.(registry.CandleSnapshotter)
	if !ok {
		writeError(w, http.StatusNotFound, "ohlc not supported on "+c.Name())
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	interval := schema.NormalizeInterval(r.PathValue("interval"))
	candles, err := snapshotter.Klines(r.Context(), symbol, interval, queryInt(r, "limit", 100))
	if err != nil {
		writeVenueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exchange": c.Name(), "symbol": symbol, "interval": interval, "candles": candles,
	})
}

func (s *server) getOpenInterest(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connector(w, r.PathValue("exchange"))
	if !ok {
		return
	}
	snapshotter, ok := c.(registry.OpenInterestSnapshotter)
	if !ok {
		writeError(w, http.StatusNotFound, "open interest not supported on "+c.Name())
		return
	}
	rec, err := snapshotter.OpenInterest(r.Context(), strings.ToUpper(r.PathValue("symbol")))
	if err != nil {
		writeVenueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) getOpenInterestHist(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connector(w, r.PathValue("exchange"))
	if !ok {
		return
	}
	snapshotter, ok := c.(registry.OpenInterestSnapshotter)
	if !ok {
		writeError(w, http.StatusNotFound, "open interest not supported on "+c.Name())
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "5m"
	}
	rows, err := snapshotter.OpenInterestHist(r.Context(), symbol, timeframe, queryInt(r, "limit", 50))
	if err != nil {
		writeVenueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exchange": c.Name(), "symbol": symbol, "timeframe": timeframe, "history": rows,
	})
}

func (s *server) getFunding(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connector(w, r.PathValue("exchange"))
	if !ok {
		return
	}
	snapshotter, ok := c.(registry.FundingSnapshotter)
	if !ok {
		writeError(w, http.StatusNotFound, "funding not supported on "+c.Name())
		return
	}
	rec, err := snapshotter.Funding(r.Context(), strings.ToUpper(r.PathValue("symbol")))
	if err != nil {
		writeVenueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) getFundingHist(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connector(w, r.PathValue("exchange"))
	if !ok {
		return
	}
	snapshotter, ok := c.(registry.FundingSnapshotter)
	if !ok {
		writeError(w, http.StatusNotFound, "funding not supported on "+c.Name())
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	rows, err := snapshotter.FundingHist(r.Context(), symbol, queryInt(r, "limit", 100))
	if err != nil {
		writeVenueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exchange": c.Name(), "symbol": symbol, "history": rows,
	})
}

// getMultiOHLC fans one candle snapshot request out across every venue with
// the ohlc capability. Per-venue failures degrade to an error string instead
// of failing the whole response.
func (s *server) getMultiOHLC(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	interval := schema.NormalizeInterval(r.PathValue("interval"))
	limit := queryInt(r, "limit", 100)

	var mu sync.Mutex
	candles := make(map[string][]*schema.Candle)
	failures := make(map[string]string)

	p := concpool.New().WithContext(r.Context())
	for _, name := range s.registry.ExchangesWith(registry.FeatureOHLC) {
		c, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		snapshotter, ok := c.(registry.CandleSnapshotter)
		if !ok {
			continue
		}
		name := name
		p.Go(func(ctx context.Context) error {
			rows, err := snapshotter.Klines(ctx, symbol, interval, limit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[name] = err.Error()
				return nil
			}
			candles[name] = rows
			return nil
		})
	}
	_ = p.Wait()

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol, "interval": interval, "candles": candles, "errors": failures,
	})
}
