package binance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/schema"
)

func TestParseKlineFrame(t *testing.T) {
	frame := []byte(`{"e":"kline","k":{"t":1704110400000,"o":"50000","h":"50100","l":"49900","c":"50050","v":"1.0","q":"50025","n":3,"x":false}}`)

	candle, err := ParseKlineFrame("BTCUSDT", "1m", frame)
	require.NoError(t, err)
	require.NotNil(t, candle)

	require.Equal(t, "binance", candle.Exchange)
	require.Equal(t, "BTCUSDT", candle.Symbol)
	require.Equal(t, "1m", candle.Interval)
	require.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), candle.Timestamp)
	require.Equal(t, 50000.0, candle.Open)
	require.Equal(t, 50100.0, candle.High)
	require.Equal(t, 49900.0, candle.Low)
	require.Equal(t, 50050.0, candle.Close)
	require.Equal(t, 1.0, candle.Volume)
	require.Equal(t, 50025.0, candle.QuoteVolume)
	require.Equal(t, int64(3), candle.TradesCount)
	require.False(t, candle.IsClosed)

	// Candle ordering invariant.
	require.LessOrEqual(t, candle.Low, candle.Open)
	require.LessOrEqual(t, candle.Low, candle.Close)
	require.GreaterOrEqual(t, candle.High, candle.Open)
	require.GreaterOrEqual(t, candle.High, candle.Close)
}

func TestParseKlineFrameIgnoresOtherEvents(t *testing.T) {
	candle, err := ParseKlineFrame("BTCUSDT", "1m", []byte(`{"e":"aggTrade","p":"1"}`))
	require.NoError(t, err)
	require.Nil(t, candle)
}

func TestParseKlineFrameMalformed(t *testing.T) {
	_, err := ParseKlineFrame("BTCUSDT", "1m", []byte(`{"e":"kline","k":{`))
	require.Error(t, err)
	require.Equal(t, errs.CodeMalformed, errs.CodeOf(err))

	_, err = ParseKlineFrame("BTCUSDT", "1m", []byte(`{"e":"kline","k":{"o":"abc"}}`))
	require.Error(t, err)
	require.Equal(t, errs.CodeMalformed, errs.CodeOf(err))
}

func TestParseAggTradeFrameSides(t *testing.T) {
	taker := []byte(`{"e":"aggTrade","s":"BTCUSDT","p":"50000","q":"100","T":1704110400000,"m":false}`)
	trade, err := ParseAggTradeFrame(taker)
	require.NoError(t, err)
	require.NotNil(t, trade)
	require.Equal(t, schema.SideBuy, trade.Side)
	require.False(t, trade.IsBuyerMaker)
	require.InEpsilon(t, 5_000_000.0, trade.Value, 1e-9)

	maker := []byte(`{"e":"aggTrade","s":"BTCUSDT","p":"50000","q":"0.5","T":1704110400000,"m":true}`)
	trade, err = ParseAggTradeFrame(maker)
	require.NoError(t, err)
	require.Equal(t, schema.SideSell, trade.Side)
	require.True(t, trade.IsBuyerMaker)
	require.InEpsilon(t, 25_000.0, trade.Value, 1e-9)
}

func TestParseForceOrderFrame(t *testing.T) {
	frame := []byte(`{"e":"forceOrder","o":{"s":"ETHUSDT","S":"SELL","q":"10","p":"2500","ap":"2499","T":1704110400000}}`)
	liq, err := ParseForceOrderFrame(frame)
	require.NoError(t, err)
	require.NotNil(t, liq)
	require.Equal(t, "ETHUSDT", liq.Symbol)
	require.Equal(t, schema.SideSell, liq.Side)
	require.InEpsilon(t, 25_000.0, liq.Value, 1e-9)
	require.InEpsilon(t, liq.Price*liq.Quantity, liq.Value, 1e-9)
}

func TestParseForceOrderFrameFallsBackToAvgPrice(t *testing.T) {
	frame := []byte(`{"e":"forceOrder","o":{"s":"ETHUSDT","S":"BUY","q":"2","p":"0","ap":"2500","T":1704110400000}}`)
	liq, err := ParseForceOrderFrame(frame)
	require.NoError(t, err)
	require.Equal(t, schema.SideBuy, liq.Side)
	require.Equal(t, 2500.0, liq.Price)
}

func TestParseMarkPriceFrame(t *testing.T) {
	frame := []byte(`{"e":"markPriceUpdate","E":1704110400000,"s":"BTCUSDT","r":"0.0001","T":1704139200000}`)
	funding, err := ParseMarkPriceFrame(frame)
	require.NoError(t, err)
	require.NotNil(t, funding)
	require.Equal(t, 0.0001, funding.FundingRate)
	require.NotNil(t, funding.NextFundingTime)
	require.True(t, funding.NextFundingTime.After(funding.FundingTime))
}
