// Package okx adapts the OKX public liquidation feed.
package okx

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tidefeed/gateway/internal/adapters/shared"
	"github.com/tidefeed/gateway/internal/schema"
)

const (
	Name = "okx"

	defaultWSBase = "wss://ws.okx.com:8443/ws/v5/public"

	keepaliveInterval = 20 * time.Second
	streamBuffer      = 256
)

// Config tunes the OKX client. Zero values select production endpoints.
type Config struct {
	WSBase     string
	MaxBackoff time.Duration
}

func (c Config) normalize() Config {
	if c.WSBase == "" {
		c.WSBase = defaultWSBase
	}
	return c
}

// Client provides OKX streaming access.
type Client struct {
	cfg Config
}

// New constructs an OKX client.
func New(cfg Config) *Client {
	return &Client{cfg: cfg.normalize()}
}

type subscribeArg struct {
	Channel  string `json:"channel"`
	InstType string `json:"instType"`
}

type subscribeFrame struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

func liquidationSubscribeFrames() [][]byte {
	data, err := json.Marshal(subscribeFrame{
		Op:   "subscribe",
		Args: []subscribeArg{{Channel: "liquidation-orders", InstType: "SWAP"}},
	})
	if err != nil {
		return nil
	}
	return [][]byte{data}
}

func keepaliveFrame() []byte {
	return []byte("ping")
}

// heartbeat consumes the plain-text pong reply.
func heartbeat(data []byte) ([]byte, bool) {
	if string(data) == "pong" {
		return nil, true
	}
	return nil, false
}

// StreamLiquidations yields swap liquidations across the whole venue.
func (c *Client) StreamLiquidations(ctx context.Context) (<-chan *schema.Liquidation, func(), error) {
	out := make(chan *schema.Liquidation, streamBuffer)
	sockCtx, cancel := context.WithCancel(ctx)

	sock := shared.NewSocket(sockCtx, shared.SocketConfig{
		Exchange:        Name,
		URL:             c.cfg.WSBase,
		MaxBackoff:      c.cfg.MaxBackoff,
		PingInterval:    keepaliveInterval,
		KeepaliveFrame:  keepaliveFrame,
		Heartbeat:       heartbeat,
		SubscribeFrames: liquidationSubscribeFrames,
		Handler: func(data []byte) error {
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
