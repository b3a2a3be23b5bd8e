package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidefeed/gateway/internal/bus/eventbus"
	"github.com/tidefeed/gateway/internal/schema"
)

// fakeOIVolSource replays one prepared batch per cycle for a single symbol.
type fakeOIVolSource struct {
	oiBatches    [][]*schema.OpenInterest
	klineBatches [][]*schema.Candle
	oiCalls      int
	klineCalls   int
}

func (f *fakeOIVolSource) OpenInterestHist(_ context.Context, _, _ string, _ int) ([]*schema.OpenInterest, error) {
	i := f.oiCalls
	if i >= len(f.oiBatches) {
		i = len(f.oiBatches) - 1
	}
	f.oiCalls++
	return f.oiBatches[i], nil
}

func (f *fakeOIVolSource) Klines(_ context.Context, _, _ string, _ int) ([]*schema.Candle, error) {
	i := f.klineCalls
	if i >= len(f.klineBatches) {
		i = len(f.klineBatches) - 1
	}
	f.klineCalls++
	return f.klineBatches[i], nil
}

func oiRow(i int, value float64) *schema.OpenInterest {
	return &schema.OpenInterest{
		Exchange:          "binance",
		Symbol:            "BTCUSDT",
		Timestamp:         ts(i),
		OpenInterest:      value / 50_000,
		OpenInterestValue: &value,
	}
}

func volRow(i int, quoteVolume float64) *schema.Candle {
	return &schema.Candle{
		Exchange:    "binance",
		Symbol:      "BTCUSDT",
		Interval:    "5m",
		Timestamp:   ts(i),
		Open:        50_000,
		High:        50_100,
		Low:         49_900,
		Close:       50_050,
		Volume:      quoteVolume / 50_000,
		QuoteVolume: quoteVolume,
		IsClosed:    true,
	}
}

// baseline builds 50 observations around center alternating +/- spread, so
// the sample stdev is close to spread and the final z-score stays near 1.
func baseline(center, spread float64) []float64 {
	out := make([]float64, 50)
	for i := range out {
		if i%2 == 0 {
			out[i] = center + spread
		} else {
			out[i] = center - spread
		}
	}
	return out
}

func TestSpikeEmissionConfirmedWhenBothSeriesSpike(t *testing.T) {
	const (
		center = 1e6
		spread = 1e4
		spike  = center + 10*spread
	)

	base := baseline(center, spread)
	oiBase := make([]*schema.OpenInterest, len(base))
	volBase := make([]*schema.Candle, len(base)+1)
	for i, v := range base {
		oiBase[i] = oiRow(i, v)
		volBase[i] = volRow(i, v)
	}
	// The trailing kline is still forming and must be ignored.
	volBase[len(base)] = volRow(len(base), 1)

	src := &fakeOIVolSource{
		oiBatches: [][]*schema.OpenInterest{
			oiBase,
			append(append([]*schema.OpenInterest{}, oiBase...), oiRow(len(base), spike)),
		},
		klineBatches: [][]*schema.Candle{
			volBase,
			append(append([]*schema.Candle{}, volBase[:len(base)]...),
				volRow(len(base), spike), volRow(len(base)+1, 1)),
		},
	}

	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{})
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, ch, err := bus.Subscribe(ctx, schema.TopicOISpike)
	require.NoError(t, err)

	svc := NewOIVolService(bus, src, OIVolConfig{
		Symbols:       []string{"BTCUSDT"},
		Timeframes:    []string{"5m"},
		CycleInterval: 10 * time.Millisecond,
		FetchPace:     time.Millisecond,
	})
	svc.Start(ctx)
	defer svc.Stop()

	select {
	case evt := <-ch:
		alert := evt.Payload.(*schema.SpikeAlert)
		require.Equal(t, schema.TypeOISpike, alert.Type)
		require.Equal(t, "binance", alert.Exchange)
		require.Equal(t, "BTCUSDT", alert.Symbol)
		require.Equal(t, "5m", alert.Timeframe)
		require.GreaterOrEqual(t, alert.ZOI, 3.0)
		require.GreaterOrEqual(t, alert.ZVol, 3.0)
		require.True(t, alert.Confirmed)
	case <-time.After(2 * time.Second):
		t.Fatal("no spike alert emitted")
	}
}

func TestSpikeSuppressedBelowLiquidityFloor(t *testing.T) {
	// Same shape as a confirmed spike, two orders of magnitude smaller, so
	// the floors reject it.
	const (
		center = 1e4
		spread = 1e2
		spike  = center + 10*spread
	)

	base := baseline(center, spread)
	oiBase := make([]*schema.OpenInterest, len(base))
	volBase := make([]*schema.Candle, len(base)+1)
	for i, v := range base {
		oiBase[i] = oiRow(i, v)
		volBase[i] = volRow(i, v)
	}
	volBase[len(base)] = volRow(len(base), 1)

	src := &fakeOIVolSource{
		oiBatches: [][]*schema.OpenInterest{
			oiBase,
			append(append([]*schema.OpenInterest{}, oiBase...), oiRow(len(base), spike)),
		},
		klineBatches: [][]*schema.Candle{
			volBase,
			append(append([]*schema.Candle{}, volBase[:len(base)]...),
				volRow(len(base), spike), volRow(len(base)+1, 1)),
		},
	}

	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{})
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, ch, err := bus.Subscribe(ctx, schema.TopicOISpike)
	require.NoError(t, err)

	svc := NewOIVolService(bus, src, OIVolConfig{
		Symbols:       []string{"BTCUSDT"},
		Timeframes:    []string{"5m"},
		CycleInterval: 10 * time.Millisecond,
		FetchPace:     time.Millisecond,
	})
	svc.Start(ctx)
	defer svc.Stop()

	select {
	case evt := <-ch:
		t.Fatalf("floor did not suppress alert: %+v", evt.Payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOIVolUniverseRespectsSymbolLimit(t *testing.T) {
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{})
	defer bus.Close()

	svc := NewOIVolService(bus, &fakeOIVolSource{}, OIVolConfig{
		Symbols:      []string{"A", "B", "C", "D"},
		SymbolsLimit: 2,
	})
	require.Equal(t, []string{"A", "B"}, svc.universe(context.Background()))
}
