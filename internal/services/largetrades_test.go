package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidefeed/gateway/internal/bus/eventbus"
	"github.com/tidefeed/gateway/internal/schema"
)

type fakeTradeSource struct {
	name   string
	trades []*schema.LargeTrade

	gotSymbols []string
}

func (f *fakeTradeSource) Name() string { return f.name }

func (f *fakeTradeSource) StreamTrades(ctx context.Context, symbols []string) (<-chan *schema.LargeTrade, func(), error) {
	f.gotSymbols = symbols
	out := make(chan *schema.LargeTrade, len(f.trades))
	for _, trade := range f.trades {
		out <- trade
	}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, func() {}, nil
}

func trade(exchange string, value float64, side schema.Side) *schema.LargeTrade {
	return &schema.LargeTrade{
		Type:         schema.TypeLargeTrade,
		Exchange:     exchange,
		Symbol:       "BTCUSDT",
		Timestamp:    time.Now().UTC(),
		Side:         side,
		Price:        50_000,
		Quantity:     value / 50_000,
		Value:        value,
		IsBuyerMaker: side == schema.SideSell,
	}
}

func TestLargeTradeServiceFiltersByNotional(t *testing.T) {
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{})
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, ch, err := bus.Subscribe(ctx, schema.TopicLargeTrade)
	require.NoError(t, err)

	src := &fakeTradeSource{
		name: "binance",
		trades: []*schema.LargeTrade{
			trade("binance", 9_999, schema.SideBuy),
			trade("binance", 10_000, schema.SideSell),
			trade("binance", 2_000_000, schema.SideBuy),
		},
	}
	svc := NewLargeTradeService(bus, []TradeSource{src}, LargeTradeConfig{
		Symbols: []string{"BTCUSDT", "ETHUSDT"},
	})
	svc.Start(ctx)
	defer svc.Stop()

	var got []*schema.LargeTrade
	for len(got) < 2 {
		select {
		case evt := <-ch:
			got = append(got, evt.Payload.(*schema.LargeTrade))
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}

	require.Equal(t, 10_000.0, got[0].Value)
	require.Equal(t, schema.SideSell, got[0].Side)
	require.Equal(t, 2_000_000.0, got[1].Value)
	select {
	case evt := <-ch:
		t.Fatalf("sub-threshold trade leaked: %+v", evt.Payload)
	case <-time.After(50 * time.Millisecond):
	}

	require.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, src.gotSymbols)
}

func TestLargeTradeServiceFansInMultipleVenues(t *testing.T) {
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{})
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, ch, err := bus.Subscribe(ctx, schema.TopicLargeTrade)
	require.NoError(t, err)

	svc := NewLargeTradeService(bus, []TradeSource{
		&fakeTradeSource{name: "binance", trades: []*schema.LargeTrade{trade("binance", 20_000, schema.SideBuy)}},
		&fakeTradeSource{name: "bybit", trades: []*schema.LargeTrade{trade("bybit", 30_000, schema.SideSell)}},
		&fakeTradeSource{name: "hyperliquid", trades: []*schema.LargeTrade{trade("hyperliquid", 40_000, schema.SideBuy)}},
	}, LargeTradeConfig{ThresholdUSD: 15_000})
	svc.Start(ctx)
	defer svc.Stop()

	seen := map[string]bool{}
	for len(seen) < 3 {
		select {
		case evt := <-ch:
			seen[evt.Payload.(*schema.LargeTrade).Exchange] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out with venues %v", seen)
		}
	}
	require.True(t, seen["binance"] && seen["bybit"] && seen["hyperliquid"])
}
