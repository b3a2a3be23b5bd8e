// Package hyperliquid adapts the Hyperliquid perpetual feeds.
package hyperliquid

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tidefeed/gateway/internal/adapters/shared"
	"github.com/tidefeed/gateway/internal/schema"
)

const (
	Name = "hyperliquid"

	defaultWSBase   = "wss://api.hyperliquid.xyz/ws"
	defaultRESTBase = "https://api.hyperliquid.xyz"

	keepaliveInterval = 30 * time.Second
	streamBuffer      = 256
)

// Config tunes the Hyperliquid client. Zero values select production
// endpoints.
type Config struct {
	WSBase     string
	RESTBase   string
	MaxBackoff time.Duration
}

func (c Config) normalize() Config {
	if c.WSBase == "" {
		c.WSBase = defaultWSBase
	}
	if c.RESTBase == "" {
		c.RESTBase = defaultRESTBase
	}
	return c
}

// Client provides Hyperliquid streaming and snapshot access.
type Client struct {
	cfg  Config
	rest *shared.RESTClient
}

// New constructs a Hyperliquid client.
func New(cfg Config) *Client {
	cfg = cfg.normalize()
	return &Client{cfg: cfg, rest: shared.NewRESTClient(Name, cfg.RESTBase)}
}

type subscription struct {
	Type     string `json:"type"`
	Coin     string `json:"coin"`
	Interval string `json:"interval,omitempty"`
}

type subscribeFrame struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

func marshalSubscribes(subs []subscription) [][]byte {
	frames := make([][]byte, 0, len(subs))
	for _, sub := range subs {
		data, err := json.Marshal(subscribeFrame{Method: "subscribe", Subscription: sub})
		if err != nil {
			continue
		}
		frames = append(frames, data)
	}
	return frames
}

func keepaliveFrame() []byte {
	return []byte(`{"method":"ping"}`)
}

// heartbeat consumes pong and subscription acknowledgements.
func heartbeat(data []byte) ([]byte, bool) {
	var probe struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, false
	}
	switch probe.Channel {
	case "pong", "subscriptionResponse":
		return nil, true
	}
	return nil, false
}

func (c *Client) openSocket(ctx context.Context, subs []subscription, handle func([]byte) error) (*shared.Socket, error) {
	sock := shared.NewSocket(ctx, shared.SocketConfig{
		Exchange:       Name,
		URL:            c.cfg.WSBase,
		MaxBackoff:     c.cfg.MaxBackoff,
		PingInterval:   keepaliveInterval,
		KeepaliveFrame: keepaliveFrame,
		Heartbeat:      heartbeat,
		SubscribeFrames: func() [][]byte {
			return marshalSubscribes(subs)
		},
		Handler: handle,
	})
	if err := sock.Start(); err != nil {
		return nil, err
	}
	return sock, nil
}

// StreamKlines yields live candles for one coin-form symbol and canonical
// interval. Pair-form input is converted to the coin the venue expects; the
// emitted records keep the caller's tag form.
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string) (<-chan *schema.Candle, func(), error) {
	interval = schema.HyperliquidInterval(interval)
	coin := schema.ToCoin(symbol)

	out := make(chan *schema.Candle, streamBuffer)
	sockCtx, cancel := context.WithCancel(ctx)

	sock, err := c.openSocket(sockCtx, []subscription{{Type: "candle", Coin: coin, Interval: interval}},
		func(data []byte) error {
			candle, err := ParseCandleFrame(symbol, interval, data)
			if err != nil {
				return err
			}
			if candle == nil {
				return nil
			}
			select {
			case out <- candle:
			case <-sockCtx.Done():
			}
			return nil
		})
	if err != nil {
		cancel()
		return nil, nil, err
	}
	go func() {
		<-sock.Done()
		close(out)
	}()
	stop := func() {
		cancel()
		sock.Stop()
	}
	return out, stop, nil
}

// StreamTrades yields trades across the given symbols on one connection.
func (c *Client) StreamTrades(ctx context.Context, symbols []string) (<-chan *schema.LargeTrade, func(), error) {
	subs := make([]subscription, 0, len(symbols))
	coinToSymbol := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		coin := schema.ToCoin(sym)
		coinToSymbol[coin] = sym
		subs = append(subs, subscription{Type: "trades", Coin: coin})
	}

	out := make(chan *schema.LargeTrade, streamBuffer)
	sockCtx, cancel := context.WithCancel(ctx)

	sock, err := c.openSocket(sockCtx, subs, func(data []byte) error {
		trades, err := ParseTradesFrame(coinToSymbol, data)
		if err != nil {
			return err
		}
		for _, trade := range trades {
			select {
			case out <- trade:
			case <-sockCtx.Done():
				return nil
			}
		}
		return nil
	})
	if err != nil {
		cancel()
		return nil, nil, err
	}
	go func() {
		<-sock.Done()
		close(out)
	}()
	stop := func() {
		cancel()
		sock.Stop()
	}
	return out, stop, nil
}
