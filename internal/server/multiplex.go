package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/tidefeed/gateway/internal/observability"
	"github.com/tidefeed/gateway/internal/registry"
	"github.com/tidefeed/gateway/internal/schema"
)

// Multiplex control protocol error codes.
const (
	codeRateLimit          = "RATE_LIMIT"
	codeInvalidSymbol      = "INVALID_SYMBOL"
	codeInvalidAction      = "INVALID_ACTION"
	codeTimeout            = "TIMEOUT"
	codeSubscriptionFailed = "SUBSCRIPTION_FAILED"
	codeInternalError      = "INTERNAL_ERROR"
)

type controlMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type errorEnvelope struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Symbol  string `json:"symbol,omitempty"`
}

func protocolError(code, message, symbol string) errorEnvelope {
	return errorEnvelope{Type: "error", Code: code, Message: message, Symbol: symbol}
}

// mpxTask is one active per-symbol subscription on a multiplex session.
type mpxTask struct {
	cancel context.CancelFunc
	stop   func()
}

// wsMultiplexOHLC serves /ws/binance/multi/ohlc: many candle subscriptions
// over one socket, managed by a subscribe/unsubscribe protocol.
func (s *server) wsMultiplexOHLC(w http.ResponseWriter, r *http.Request) {
	conn, ok := s.accept(w, r)
	if !ok {
		return
	}

	c, found := s.registry.Get("binance")
	if !found {
		_ = conn.Close(websocket.StatusPolicyViolation, "binance not registered")
		return
	}
	streamer, okC := c.(registry.CandleStreamer)
	if !okC {
		_ = conn.Close(websocket.StatusInternalError, "candle streaming unavailable")
		return
	}

	interval := schema.NormalizeInterval(r.URL.Query().Get("interval"))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// One writer goroutine owns the socket's outbound side; forwarders and
	// the control loop hand it records and error envelopes.
	out := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-out:
				if err := sendRecord(ctx, conn, payload); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	tasks := make(map[string]*mpxTask)
	defer func() {
		cancel()
		for _, task := range tasks {
			task.cancel()
			task.stop()
		}
		<-writerDone
	}()

	subscribed := false
	for {
		timeout := s.cfg.IdleTimeout
		if !subscribed {
			timeout = s.cfg.InitialSubscribeTimeout
		}
		readCtx, cancelRead := context.WithTimeout(ctx, timeout)
		_, data, err := conn.Read(readCtx)
		cancelRead()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(readCtx.Err(), context.DeadlineExceeded) {
				reason := "idle timeout"
				if !subscribed {
					reason = "no subscription within deadline"
				}
				// Written directly: the session is ending, so the writer
				// goroutine may never drain a queued envelope.
				_ = sendRecord(ctx, conn, protocolError(codeTimeout, reason, ""))
				_ = conn.Close(websocket.StatusPolicyViolation, reason)
				return
			}
			// Client went away.
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.push(ctx, out, protocolError(codeInvalidAction, "malformed control message", ""))
			continue
		}

		switch msg.Action {
		case "subscribe":
			// An opening batch over the symbol cap is a protocol violation,
			// not a partial subscribe.
			if !subscribed && len(msg.Symbols) > s.cfg.MaxSymbolsPerConnection {
				_ = sendRecord(ctx, conn, protocolError(codeRateLimit, "too many symbols requested", ""))
				_ = conn.Close(websocket.StatusPolicyViolation, "symbol limit exceeded")
				return
			}
			subscribed = true
			for _, raw := range msg.Symbols {
				symbol := strings.ToUpper(strings.TrimSpace(raw))
				if symbol == "" {
					continue
				}
				if !strings.HasSuffix(symbol, "USDT") {
					s.push(ctx, out, protocolError(codeInvalidSymbol, "symbol must be a USDT pair", symbol))
					continue
				}
				if _, active := tasks[symbol]; active {
					continue
				}
				if len(tasks) >= s.cfg.MaxSymbolsPerConnection {
					s.push(ctx, out, protocolError(codeRateLimit, "symbol limit reached", symbol))
					continue
				}
				task, err := s.startCandleTask(ctx, streamer, out, symbol, interval)
				if err != nil {
					observability.Log().Warn("multiplex subscription failed",
						observability.F("symbol", symbol),
						observability.F("error", err))
					s.push(ctx, out, protocolError(codeSubscriptionFailed, "upstream subscription failed", symbol))
					continue
				}
				tasks[symbol] = task
			}
		case "unsubscribe":
			if !subscribed {
				closeSubscribeFirst(ctx, conn)
				return
			}
			for _, raw := range msg.Symbols {
				symbol := strings.ToUpper(strings.TrimSpace(raw))
				task, active := tasks[symbol]
				if !active {
					continue
				}
				task.cancel()
				task.stop()
				delete(tasks, symbol)
			}
		default:
			if !subscribed {
				closeSubscribeFirst(ctx, conn)
				return
			}
			s.push(ctx, out, protocolError(codeInvalidAction, "unknown action: "+msg.Action, ""))
		}
	}
}

// closeSubscribeFirst rejects a session whose opening action is anything but
// subscribe: error envelope, then policy close. The envelope is written
// directly since the session is ending and the writer goroutine may never
// drain it.
func closeSubscribeFirst(ctx context.Context, conn *websocket.Conn) {
	_ = sendRecord(ctx, conn, protocolError(codeInvalidAction, "first message must be subscribe", ""))
	_ = conn.Close(websocket.StatusPolicyViolation, "first message must be subscribe")
}

// startCandleTask opens one upstream kline stream and forwards its candles to
// the session writer until the task or session ends.
func (s *server) startCandleTask(ctx context.Context, streamer registry.CandleStreamer, out chan<- any, symbol, interval string) (*mpxTask, error) {
	taskCtx, cancel := context.WithCancel(ctx)
	ch, stop, err := streamer.StreamKlines(taskCtx, symbol, interval)
	if err != nil {
		cancel()
		return nil, err
	}
	go func() {
		for candle := range ch {
			select {
			case out <- candle:
			case <-taskCtx.Done():
				return
			}
		}
	}()
	return &mpxTask{cancel: cancel, stop: stop}, nil
}

func (s *server) push(ctx context.Context, out chan<- any, payload any) {
	select {
	case out <- payload:
	case <-ctx.Done():
	}
}
