package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/bus/eventbus"
	"github.com/tidefeed/gateway/internal/registry"
	"github.com/tidefeed/gateway/internal/schema"
)

// stubVenue is a connector test double covering the streaming and snapshot
// capability surfaces.
type stubVenue struct {
	name     string
	features []registry.Feature

	candles   []*schema.Candle
	klineErr  error
	healthErr error

	liquidations []*schema.Liquidation
	trades       []*schema.LargeTrade

	// live is replayed on every opened kline stream.
	live        []*schema.Candle
	failSymbols map[string]bool

	mu     sync.Mutex
	active int
	starts int
}

func (v *stubVenue) Name() string                      { return v.name }
func (v *stubVenue) Features() []registry.Feature      { return v.features }
func (v *stubVenue) Initialize(context.Context) error  { return nil }
func (v *stubVenue) Shutdown(context.Context) error    { return nil }
func (v *stubVenue) HealthCheck(context.Context) error { return v.healthErr }

func (v *stubVenue) Klines(_ context.Context, _, _ string, _ int) ([]*schema.Candle, error) {
	return v.candles, v.klineErr
}

func (v *stubVenue) OpenInterest(_ context.Context, symbol string) (*schema.OpenInterest, error) {
	return &schema.OpenInterest{Exchange: v.name, Symbol: symbol, Timestamp: time.Unix(1704110400, 0).UTC(), OpenInterest: 123.5}, nil
}

func (v *stubVenue) OpenInterestHist(_ context.Context, symbol, _ string, _ int) ([]*schema.OpenInterest, error) {
	return []*schema.OpenInterest{{Exchange: v.name, Symbol: symbol, OpenInterest: 123.5}}, nil
}

func (v *stubVenue) Funding(_ context.Context, symbol string) (*schema.Funding, error) {
	return &schema.Funding{Exchange: v.name, Symbol: symbol, FundingRate: 0.0001}, nil
}

func (v *stubVenue) FundingHist(_ context.Context, symbol string, _ int) ([]*schema.Funding, error) {
	return []*schema.Funding{{Exchange: v.name, Symbol: symbol, FundingRate: 0.0001}}, nil
}

func (v *stubVenue) StreamKlines(ctx context.Context, symbol, _ string) (<-chan *schema.Candle, func(), error) {
	if v.failSymbols[symbol] {
		return nil, nil, errs.New(v.name, errs.CodeSubscriptionRejected, errs.WithMessage("rejected "+symbol))
	}
	v.mu.Lock()
	v.active++
	v.starts++
	v.mu.Unlock()

	ch := make(chan *schema.Candle, len(v.live)+1)
	for _, candle := range v.live {
		ch <- candle
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			v.mu.Lock()
			v.active--
			v.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		release()
		close(ch)
	}()
	return ch, release, nil
}

func (v *stubVenue) StreamTrades(ctx context.Context, _ []string) (<-chan *schema.LargeTrade, func(), error) {
	ch := make(chan *schema.LargeTrade, len(v.trades)+1)
	for _, trade := range v.trades {
		ch <- trade
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, func() {}, nil
}

func (v *stubVenue) StreamLiquidations(ctx context.Context, _ []string) (<-chan *schema.Liquidation, func(), error) {
	ch := make(chan *schema.Liquidation, len(v.liquidations)+1)
	for _, liq := range v.liquidations {
		ch <- liq
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, func() {}, nil
}

func (v *stubVenue) activeStreams() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// bareVenue is a connector with no capability surfaces at all.
type bareVenue struct{ name string }

func (v *bareVenue) Name() string                      { return v.name }
func (v *bareVenue) Features() []registry.Feature      { return nil }
func (v *bareVenue) Initialize(context.Context) error  { return nil }
func (v *bareVenue) Shutdown(context.Context) error    { return nil }
func (v *bareVenue) HealthCheck(context.Context) error { return nil }

func testCandle(symbol string, close float64) *schema.Candle {
	return &schema.Candle{
		Exchange:    "binance",
		Symbol:      symbol,
		Interval:    "1m",
		Timestamp:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Open:        close - 50,
		High:        close + 100,
		Low:         close - 100,
		Close:       close,
		Volume:      1,
		QuoteVolume: close,
		TradesCount: 3,
	}
}

func newTestServer(t *testing.T, cfg Config, bus eventbus.Bus, connectors ...registry.Connector) *httptest.Server {
	t.Helper()
	reg := registry.New()
	for _, c := range connectors {
		reg.Register(c)
	}
	if bus == nil {
		bus = eventbus.NewMemoryBus(eventbus.MemoryConfig{})
		t.Cleanup(bus.Close)
	}
	ts := httptest.NewServer(NewHandler(cfg, reg, bus))
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestExchangeListing(t *testing.T) {
	ts := newTestServer(t, Config{}, nil,
		&stubVenue{name: "binance", features: []registry.Feature{registry.FeatureOHLC, registry.FeatureLiquidations}},
		&bareVenue{name: "okx"},
	)

	var body struct {
		Exchanges map[string][]string `json:"exchanges"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/exchanges", &body))
	require.Equal(t, []string{"ohlc", "liquidations"}, body.Exchanges["binance"])
	require.Empty(t, body.Exchanges["okx"])
}

func TestSnapshotAndStreamRoutesCoexist(t *testing.T) {
	venue := &stubVenue{
		name:    "binance",
		candles: []*schema.Candle{testCandle("BTCUSDT", 50_000)},
		live:    []*schema.Candle{testCandle("BTCUSDT", 50_100)},
	}
	ts := newTestServer(t, Config{}, nil, venue)

	// The venue wildcard and /ws wildcard trees must both resolve on the
	// same handler.
	var body struct {
		Symbol string `json:"symbol"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/binance/ohlc/BTCUSDT/1m", &body))
	require.Equal(t, "BTCUSDT", body.Symbol)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, wsURL(ts.URL, "/ws/binance/BTCUSDT/ohlc?interval=1m"))

	var candle schema.Candle
	readJSON(t, ctx, conn, &candle)
	require.Equal(t, 50_100.0, candle.Close)
}

func TestUnknownExchangeIs404(t *testing.T) {
	ts := newTestServer(t, Config{}, nil, &stubVenue{name: "binance"})

	var body map[string]string
	require.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/kraken/ohlc/BTCUSDT/1m", &body))
	require.Contains(t, body["error"], "unknown exchange")
}

func TestUnsupportedCapabilityIs404(t *testing.T) {
	ts := newTestServer(t, Config{}, nil, &bareVenue{name: "okx"})

	var body map[string]string
	require.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/okx/ohlc/BTCUSDT/1m", &body))
	require.Contains(t, body["error"], "not supported")
}

func TestOHLCSnapshot(t *testing.T) {
	venue := &stubVenue{name: "binance", candles: []*schema.Candle{testCandle("BTCUSDT", 50_050)}}
	ts := newTestServer(t, Config{}, nil, venue)

	var body struct {
		Exchange string           `json:"exchange"`
		Symbol   string           `json:"symbol"`
		Interval string           `json:"interval"`
		Candles  []*schema.Candle `json:"candles"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/binance/ohlc/btcusdt/1m", &body))
	require.Equal(t, "binance", body.Exchange)
	require.Equal(t, "BTCUSDT", body.Symbol)
	require.Len(t, body.Candles, 1)
	require.Equal(t, 50_050.0, body.Candles[0].Close)
}

func TestVenueTransientErrorIs503(t *testing.T) {
	venue := &stubVenue{
		name:     "binance",
		klineErr: errs.New("binance", errs.CodeTransient, errs.WithMessage("upstream unreachable")),
	}
	ts := newTestServer(t, Config{}, nil, venue)

	var body map[string]string
	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/binance/ohlc/BTCUSDT/1m", &body))
}

func TestMultiOHLCFanOut(t *testing.T) {
	ts := newTestServer(t, Config{}, nil,
		&stubVenue{
			name:     "binance",
			features: []registry.Feature{registry.FeatureOHLC},
			candles:  []*schema.Candle{testCandle("BTCUSDT", 50_000)},
		},
		&stubVenue{
			name:     "bybit",
			features: []registry.Feature{registry.FeatureOHLC},
			klineErr: errors.New("venue down"),
		},
	)

	var body struct {
		Symbol  string                      `json:"symbol"`
		Candles map[string][]*schema.Candle `json:"candles"`
		Errors  map[string]string           `json:"errors"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/multi/ohlc/BTCUSDT/1m", &body))
	require.Len(t, body.Candles["binance"], 1)
	require.NotContains(t, body.Candles, "bybit")
	require.Contains(t, body.Errors["bybit"], "venue down")
}

func TestHealthReportsDegradedVenues(t *testing.T) {
	ts := newTestServer(t, Config{}, nil,
		&stubVenue{name: "binance"},
		&stubVenue{name: "bybit", healthErr: errors.New("unreachable")},
	)

	var body struct {
		Status    string            `json:"status"`
		Exchanges map[string]string `json:"exchanges"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &body))
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, "ok", body.Exchanges["binance"])
	require.Contains(t, body.Exchanges["bybit"], "unreachable")
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, Config{AllowedOrigins: []string{"https://app.example.com"}}, nil, &stubVenue{name: "binance"})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/exchanges", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
