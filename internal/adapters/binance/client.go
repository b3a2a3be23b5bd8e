// Package binance adapts the Binance USD-M futures feeds.
package binance

import (
	"context"
	"strings"
	"time"

	"github.com/tidefeed/gateway/internal/adapters/shared"
	"github.com/tidefeed/gateway/internal/schema"
)

const (
	Name = "binance"

	defaultWSBase   = "wss://fstream.binance.com/ws"
	defaultRESTBase = "https://fapi.binance.com"

	// allForceOrdersStream is the fixed all-market liquidation stream.
	allForceOrdersStream = "!forceOrder@arr"

	streamBuffer = 256
)

// Config tunes the Binance client. Zero values select production endpoints.
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

// Client provides Binance streaming and snapshot access.
type Client struct {
	cfg  Config
	rest *shared.RESTClient
}

// New constructs a Binance client.
func New(cfg Config) *Client {
	cfg = cfg.normalize()
	return &Client{cfg: cfg, rest: shared.NewRESTClient(Name, cfg.RESTBase)}
}

// streamURL encodes a single-stream subscription into the connection path.
func (c *Client) streamURL(symbol, stream string) string {
	return c.cfg.WSBase + "/" + strings.ToLower(symbol) + "@" + stream
}

// StreamKlines yields live candles for one symbol and interval. The returned
// stop function tears down the connection; the channel closes afterwards.
func (c *Client) StreamKlines(ctx context.Context, symbol, interval string) (<-chan *schema.Candle, func(), error) {
	interval = schema.BinanceInterval(interval)
	out := make(chan *schema.Candle, streamBuffer)
	sockCtx, cancel := context.WithCancel(ctx)

	sock := shared.NewSocket(sockCtx, shared.SocketConfig{
		Exchange:   Name,
		URL:        c.streamURL(symbol, "kline_"+interval),
		MaxBackoff: c.cfg.MaxBackoff,
		Handler: func(data []byte) error {
			candle, err := ParseKlineFrame(symbol, interval, data)
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
		},
	})
	if err := sock.Start(); err != nil {
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

// StreamAggTrades yields every aggregate trade for one symbol; threshold
// filtering is the caller's concern.
func (c *Client) StreamAggTrades(ctx context.Context, symbol string) (<-chan *schema.LargeTrade, func(), error) {
	out := make(chan *schema.LargeTrade, streamBuffer)
	sockCtx, cancel := context.WithCancel(ctx)

	sock := shared.NewSocket(sockCtx, shared.SocketConfig{
		Exchange:   Name,
		URL:        c.streamURL(symbol, "aggTrade"),
		MaxBackoff: c.cfg.MaxBackoff,
		Handler: func(data []byte) error {
			trade, err := ParseAggTradeFrame(data)
			if err != nil {
				return err
			}
			if trade == nil {
				return nil
			}
			select {
			case out <- trade:
			case <-sockCtx.Done():
			}
			return nil
		},
	})
	if err := sock.Start(); err != nil {
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

// StreamAllForceOrders yields liquidations across the whole market.
func (c *Client) StreamAllForceOrders(ctx context.Context) (<-chan *schema.Liquidation, func(), error) {
	out := make(chan *schema.Liquidation, streamBuffer)
	sockCtx, cancel := context.WithCancel(ctx)

	sock := shared.NewSocket(sockCtx, shared.SocketConfig{
		Exchange:   Name,
		URL:        c.cfg.WSBase + "/" + allForceOrdersStream,
		MaxBackoff: c.cfg.MaxBackoff,
		Handler: func(data []byte) error {
			liq, err := ParseForceOrderFrame(data)
			if err != nil {
				return err
			}
			if liq == nil {
				return nil
			}
			select {
			case out <- liq:
			case <-sockCtx.Done():
			}
			return nil
		},
	})
	if err := sock.Start(); err != nil {
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

// StreamMarkPrice yields funding observations from the mark-price stream.
func (c *Client) StreamMarkPrice(ctx context.Context, symbol string) (<-chan *schema.Funding, func(), error) {
	out := make(chan *schema.Funding, streamBuffer)
	sockCtx, cancel := context.WithCancel(ctx)

	sock := shared.NewSocket(sockCtx, shared.SocketConfig{
		Exchange:   Name,
		URL:        c.streamURL(symbol, "markPrice"),
		MaxBackoff: c.cfg.MaxBackoff,
		Handler: func(data []byte) error {
			funding, err := ParseMarkPriceFrame(data)
			if err != nil {
				return err
			}
			if funding == nil {
				return nil
			}
			select {
			case out <- funding:
			case <-sockCtx.Done():
			}
			return nil
		},
	})
	if err := sock.Start(); err != nil {
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
