// Package bybit adapts the Bybit v5 linear-perpetual feeds.
package bybit

import (
	"context"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tidefeed/gateway/internal/adapters/shared"
	"github.com/tidefeed/gateway/internal/schema"
)

const (
	Name = "bybit"

	defaultWSBase   = "wss://stream.bybit.com/v5/public/linear"
	defaultRESTBase = "https://api.bybit.com"

	// Bybit caps subscribe args per frame; larger topic sets are chunked
	// and paced.
	maxTopicsPerFrame  = 100
	controlFramePacing = 200 * time.Millisecond
	keepaliveInterval  = 20 * time.Second
	streamBuffer       = 256
)

// Config tunes the Bybit client. Zero values select production endpoints.
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

// Client provides Bybit streaming and snapshot access.
type Client struct {
	cfg  Config
	rest *shared.RESTClient
}

// New constructs a Bybit client.
func New(cfg Config) *Client {
	cfg = cfg.normalize()
	return &Client{cfg: cfg, rest: shared.NewRESTClient(Name, cfg.RESTBase)}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

type subscribeFrame struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// subscribeFrames chunks topics into paced subscribe frames.
func subscribeFrames(topics []string) [][]byte {
	frames := make([][]byte, 0, (len(topics)+maxTopicsPerFrame-1)/maxTopicsPerFrame)
	for start := 0; start < len(topics); start += maxTopicsPerFrame {
		end := start + maxTopicsPerFrame
		if end > len(topics) {
			end = len(topics)
		}
		data, err := json.Marshal(subscribeFrame{Op: "subscribe", Args: topics[start:end]})
		if err != nil {
			continue
		}
		frames = append(frames, data)
	}
	return frames
}

func keepaliveFrame() []byte {
	return []byte(`{"op":"ping"}`)
}

// heartbeat consumes pong replies so they never reach the data handler.
func heartbeat(data []byte) ([]byte, bool) {
	var probe struct {
		Op     string `json:"op"`
		RetMsg string `json:"ret_msg"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, false
	}
	if probe.Op == "pong" || probe.RetMsg == "pong" {
		return nil, true
	}
	return nil, false
}

// openTopicSocket runs one multi-topic connection and routes data frames to
// handle.
func (c *Client) openTopicSocket(ctx context.Context, topics []string, handle func([]byte) error) (*shared.Socket, error) {
	sock := shared.NewSocket(ctx, shared.SocketConfig{
		Exchange:       Name,
		URL:            c.cfg.WSBase,
		MaxBackoff:     c.cfg.MaxBackoff,
		FramePacing:    controlFramePacing,
		PingInterval:   keepaliveInterval,
		KeepaliveFrame: keepaliveFrame,
		Heartbeat:      heartbeat,
		SubscribeFrames: func() [][]byte {
			return subscribeFrames(topics)
		},
		Handler: handle,
	})
	if err := sock.Start(); err != nil {
		return nil, err
	}
	return sock, nil
}

// StreamKlines yields live candles for one symbol and canonical interval.
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string) (<-chan *schema.Candle, func(), error) {
	interval = schema.NormalizeInterval(interval)
	symbol = strings.ToUpper(symbol)
	topic := "kline." + schema.BybitInterval(interval) + "." + symbol

	out := make(chan *schema.Candle, streamBuffer)
	sockCtx, cancel := context.WithCancel(ctx)

	sock, err := c.openTopicSocket(sockCtx, []string{topic}, func(data []byte) error {
		candles, err := ParseKlineFrame(interval, data)
		if err != nil {
			return err
		}
		for _, candle := range candles {
			select {
			case out <- candle:
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

// StreamTrades yields public trades across the given symbols on a single
// multi-topic connection.
func (c *Client) StreamTrades(ctx context.Context, symbols []string) (<-chan *schema.LargeTrade, func(), error) {
	topics := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		topics = append(topics, "publicTrade."+strings.ToUpper(sym))
	}

	out := make(chan *schema.LargeTrade, streamBuffer)
	sockCtx, cancel := context.WithCancel(ctx)

	sock, err := c.openTopicSocket(sockCtx, topics, func(data []byte) error {
		trades, err := ParseTradeFrame(data)
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

// StreamLiquidations yields liquidations across the given symbols on a
// single multi-topic connection.
func (c *Client) StreamLiquidations(ctx context.Context, symbols []string) (<-chan *schema.Liquidation, func(), error) {
	topics := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		topics = append(topics, "allLiquidation."+strings.ToUpper(sym))
	}

	out := make(chan *schema.Liquidation, streamBuffer)
	sockCtx, cancel := context.WithCancel(ctx)

	sock, err := c.openTopicSocket(sockCtx, topics, func(data []byte) error {
		liqs, err := ParseLiquidationFrame(data)
		if err != nil {
			return err
		}
		for _, liq := range liqs {
			select {
			case out <- liq:
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
