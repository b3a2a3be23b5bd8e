package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{RESTBase: srv.URL})
}

func TestKlinesParsesPositionalRows(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fapi/v1/klines", r.URL.Path)
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		require.Equal(t, "5m", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(`[
			[1704110400000,"50000","50100","49900","50050","1.5",1704110699999,"75000",42,"0.7","35000","0"]
		]`))
	}))

	candles, err := c.Klines(context.Background(), "btcusdt", "5m", 50)
	require.NoError(t, err)
	require.Len(t, candles, 1)

	k := candles[0]
	require.Equal(t, "BTCUSDT", k.Symbol)
	require.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), k.Timestamp)
	require.Equal(t, 75000.0, k.QuoteVolume)
	require.Equal(t, int64(42), k.TradesCount)
	require.True(t, k.IsClosed)
}

func TestOpenInterestHist(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/futures/data/openInterestHist", r.URL.Path)
		require.Equal(t, "5m", r.URL.Query().Get("period"))
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","sumOpenInterest":"120000.5","sumOpenInterestValue":"6000000000","timestamp":1704110400000}
		]`))
	}))

	rows, err := c.OpenInterestHist(context.Background(), "BTCUSDT", "5m", 50)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 120000.5, rows[0].OpenInterest)
	require.NotNil(t, rows[0].OpenInterestValue)
	require.Equal(t, 6e9, *rows[0].OpenInterestValue)
}

func TestPerpSymbolsFiltersListing(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","quoteAsset":"USDT","contractType":"PERPETUAL","status":"TRADING"},
			{"symbol":"BTCUSDT_240628","quoteAsset":"USDT","contractType":"CURRENT_QUARTER","status":"TRADING"},
			{"symbol":"ETHBTC","quoteAsset":"BTC","contractType":"PERPETUAL","status":"TRADING"},
			{"symbol":"DOGEUSDT","quoteAsset":"USDT","contractType":"PERPETUAL","status":"SETTLING"}
		]}`))
	}))

	symbols, err := c.PerpSymbols(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"BTCUSDT"}, symbols)
}

func TestFundingSnapshot(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fapi/v1/premiumIndex", r.URL.Path)
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","lastFundingRate":"0.00010000","nextFundingTime":1704139200000,"time":1704110400000}`))
	}))

	f, err := c.Funding(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, 0.0001, f.FundingRate)
	require.NotNil(t, f.NextFundingTime)
}
