package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/tidefeed/gateway/internal/observability"
	"github.com/tidefeed/gateway/internal/registry"
	"github.com/tidefeed/gateway/internal/schema"
)

func (s *server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		observability.Log().Warn("websocket accept failed",
			observability.F("path", r.URL.Path),
			observability.F("error", err))
		return nil, false
	}
	return conn, true
}

func sendRecord(ctx context.Context, conn *websocket.Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// wsSymbolStream serves /ws/{exchange}/{symbol}/{stream}: a single upstream
// stream for one pair, forwarded record by record.
func (s *server) wsSymbolStream(w http.ResponseWriter, r *http.Request) {
	exchange := r.PathValue("exchange")
	symbol := strings.ToUpper(r.PathValue("symbol"))
	stream := r.PathValue("stream")

	conn, ok := s.accept(w, r)
	if !ok {
		return
	}

	c, found := s.registry.Get(exchange)
	if !found {
		_ = conn.Close(websocket.StatusPolicyViolation, "unknown exchange: "+exchange)
		return
	}

	// CloseRead watches for client disconnect; these endpoints carry no
	// client messages.
	ctx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	switch stream {
	case "ohlc":
		streamer, okC := c.(registry.CandleStreamer)
		if !okC {
			_ = conn.Close(websocket.StatusPolicyViolation, "ohlc not supported on "+c.Name())
			return
		}
		interval := r.URL.Query().Get("interval")
		if interval == "" {
			_ = conn.Close(websocket.StatusPolicyViolation, "interval query parameter required")
			return
		}
		ch, stop, err := streamer.StreamKlines(ctx, symbol, schema.NormalizeInterval(interval))
		if err != nil {
			_ = conn.Close(websocket.StatusInternalError, "upstream stream failed")
			return
		}
		defer stop()
		for candle := range ch {
			if err := sendRecord(ctx, conn, candle); err != nil {
				return
			}
		}
	case "large_trades":
		streamer, okT := c.(registry.TradeStreamer)
		if !okT {
			_ = conn.Close(websocket.StatusPolicyViolation, "large_trades not supported on "+c.Name())
			return
		}
		ch, stop, err := streamer.StreamTrades(ctx, []string{symbol})
		if err != nil {
			_ = conn.Close(websocket.StatusInternalError, "upstream stream failed")
			return
		}
		defer stop()
		for trade := range ch {
			if !strings.EqualFold(trade.Symbol, symbol) {
				continue
			}
			if err := sendRecord(ctx, conn, trade); err != nil {
				return
			}
		}
	case "liquidations":
		streamer, okL := c.(registry.LiquidationStreamer)
		if !okL {
			_ = conn.Close(websocket.StatusPolicyViolation, "liquidations not supported on "+c.Name())
			return
		}
		ch, stop, err := streamer.StreamLiquidations(ctx, []string{symbol})
		if err != nil {
			_ = conn.Close(websocket.StatusInternalError, "upstream stream failed")
			return
		}
		defer stop()
		// Venue-wide feeds carry every instrument; narrow to the requested
		// pair.
		for liq := range ch {
			if !strings.EqualFold(liq.Symbol, symbol) {
				continue
			}
			if err := sendRecord(ctx, conn, liq); err != nil {
				return
			}
		}
	default:
		_ = conn.Close(websocket.StatusPolicyViolation, "unknown stream: "+stream)
		return
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func queryFloat(r *http.Request, key string, fallback float64) float64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func (s *server) wsLiquidationFirehose(w http.ResponseWriter, r *http.Request) {
	minValue := queryFloat(r, "min_value_usd", s.cfg.FirehoseMinValueUSD)
	s.serveFirehose(w, r, schema.TopicLiquidation, func(payload any) bool {
		liq, ok := payload.(*schema.Liquidation)
		return ok && liq.Value >= minValue
	})
}

func (s *server) wsLargeTradeFirehose(w http.ResponseWriter, r *http.Request) {
	minValue := queryFloat(r, "min_value_usd", s.cfg.FirehoseMinValueUSD)
	s.serveFirehose(w, r, schema.TopicLargeTrade, func(payload any) bool {
		trade, ok := payload.(*schema.LargeTrade)
		return ok && trade.Value >= minValue
	})
}

func (s *server) wsOIVolFirehose(w http.ResponseWriter, r *http.Request) {
	wanted := s.timeframeFilter(r.URL.Query().Get("timeframes"))
	s.serveFirehose(w, r, schema.TopicOISpike, func(payload any) bool {
		alert, ok := payload.(*schema.SpikeAlert)
		return ok && wanted[alert.Timeframe]
	})
}

// timeframeFilter parses the comma-list down to the known timeframe universe;
// an empty or fully-invalid list selects everything.
func (s *server) timeframeFilter(raw string) map[string]bool {
	wanted := make(map[string]bool)
	if raw != "" {
		known := make(map[string]bool, len(s.cfg.Timeframes))
		for _, tf := range s.cfg.Timeframes {
			known[tf] = true
		}
		for _, tf := range strings.Split(raw, ",") {
			tf = strings.TrimSpace(tf)
			if known[tf] {
				wanted[tf] = true
			}
		}
	}
	if len(wanted) == 0 {
		for _, tf := range s.cfg.Timeframes {
			wanted[tf] = true
		}
	}
	return wanted
}

// serveFirehose pumps one bus topic to a client, applying the per-connection
// filter. A send failure or client disconnect unsubscribes and closes.
func (s *server) serveFirehose(w http.ResponseWriter, r *http.Request, topic schema.Topic, pass func(any) bool) {
	conn, ok := s.accept(w, r)
	if !ok {
		return
	}

	ctx := conn.CloseRead(r.Context())
	id, events, err := s.bus.Subscribe(ctx, topic)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer s.bus.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-events:
			if !open {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if !pass(evt.Payload) {
				continue
			}
			if err := sendRecord(ctx, conn, evt.Payload); err != nil {
				return
			}
		}
	}
}
