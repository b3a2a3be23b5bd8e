package server

import (
	"context"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/tidefeed/gateway/internal/schema"
)

func sendControl(t *testing.T, ctx context.Context, conn *websocket.Conn, action string, symbols ...string) {
	t.Helper()
	data, err := json.Marshal(controlMessage{Action: action, Symbols: symbols})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func waitActive(t *testing.T, venue *stubVenue, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return venue.activeStreams() == want
	}, 2*time.Second, 10*time.Millisecond, "active upstream streams")
}

func TestMultiplexSubscribeUnsubscribeLifecycle(t *testing.T) {
	venue := &stubVenue{name: "binance", failSymbols: map[string]bool{}}
	ts := newTestServer(t, Config{}, nil, venue)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, wsURL(ts.URL, "/ws/binance/multi/ohlc?interval=1m"))

	sendControl(t, ctx, conn, "subscribe", "BTCUSDT", "ETHUSDT")
	waitActive(t, venue, 2)

	sendControl(t, ctx, conn, "unsubscribe", "BTCUSDT")
	waitActive(t, venue, 1)
}

func TestMultiplexInvalidSymbolSkipped(t *testing.T) {
	venue := &stubVenue{name: "binance"}
	ts := newTestServer(t, Config{}, nil, venue)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, wsURL(ts.URL, "/ws/binance/multi/ohlc?interval=1m"))

	sendControl(t, ctx, conn, "subscribe", "FOO")

	var envelope errorEnvelope
	readJSON(t, ctx, conn, &envelope)
	require.Equal(t, "error", envelope.Type)
	require.Equal(t, codeInvalidSymbol, envelope.Code)
	require.Equal(t, "FOO", envelope.Symbol)
	require.Zero(t, venue.activeStreams())
}

func TestMultiplexSymbolCapYieldsRateLimit(t *testing.T) {
	venue := &stubVenue{name: "binance"}
	ts := newTestServer(t, Config{MaxSymbolsPerConnection: 2}, nil, venue)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, wsURL(ts.URL, "/ws/binance/multi/ohlc?interval=1m"))

	sendControl(t, ctx, conn, "subscribe", "BTCUSDT", "ETHUSDT")
	waitActive(t, venue, 2)

	// Mid-session overflow is reported per symbol; the session stays open.
	sendControl(t, ctx, conn, "subscribe", "SOLUSDT")

	var envelope errorEnvelope
	readJSON(t, ctx, conn, &envelope)
	require.Equal(t, codeRateLimit, envelope.Code)
	require.Equal(t, "SOLUSDT", envelope.Symbol)
	waitActive(t, venue, 2)

	sendControl(t, ctx, conn, "unsubscribe", "BTCUSDT")
	waitActive(t, venue, 1)
}

func TestMultiplexInitialBatchOverCapCloses1008(t *testing.T) {
	venue := &stubVenue{name: "binance"}
	ts := newTestServer(t, Config{MaxSymbolsPerConnection: 2}, nil, venue)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, wsURL(ts.URL, "/ws/binance/multi/ohlc?interval=1m"))

	sendControl(t, ctx, conn, "subscribe", "BTCUSDT", "ETHUSDT", "SOLUSDT")

	var envelope errorEnvelope
	readJSON(t, ctx, conn, &envelope)
	require.Equal(t, codeRateLimit, envelope.Code)

	_, _, err := conn.Read(ctx)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	require.Zero(t, venue.activeStreams())
}

func TestMultiplexFirstMessageMustBeSubscribe(t *testing.T) {
	venue := &stubVenue{name: "binance"}
	ts := newTestServer(t, Config{}, nil, venue)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, wsURL(ts.URL, "/ws/binance/multi/ohlc?interval=1m"))

	sendControl(t, ctx, conn, "unsubscribe", "BTCUSDT")

	var envelope errorEnvelope
	readJSON(t, ctx, conn, &envelope)
	require.Equal(t, codeInvalidAction, envelope.Code)

	_, _, err := conn.Read(ctx)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestMultiplexSubscriptionFailure(t *testing.T) {
	venue := &stubVenue{name: "binance", failSymbols: map[string]bool{"DOGEUSDT": true}}
	ts := newTestServer(t, Config{}, nil, venue)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, wsURL(ts.URL, "/ws/binance/multi/ohlc?interval=1m"))

	sendControl(t, ctx, conn, "subscribe", "DOGEUSDT")

	var envelope errorEnvelope
	readJSON(t, ctx, conn, &envelope)
	require.Equal(t, codeSubscriptionFailed, envelope.Code)
	require.Equal(t, "DOGEUSDT", envelope.Symbol)
	require.Zero(t, venue.activeStreams())
}

func TestMultiplexUnknownActionYieldsError(t *testing.T) {
	venue := &stubVenue{name: "binance"}
	ts := newTestServer(t, Config{}, nil, venue)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, wsURL(ts.URL, "/ws/binance/multi/ohlc?interval=1m"))

	sendControl(t, ctx, conn, "subscribe", "BTCUSDT")
	waitActive(t, venue, 1)

	sendControl(t, ctx, conn, "resubscribe", "ETHUSDT")

	var envelope errorEnvelope
	readJSON(t, ctx, conn, &envelope)
	require.Equal(t, codeInvalidAction, envelope.Code)

	// The session survives a mid-session unknown action.
	sendControl(t, ctx, conn, "unsubscribe", "BTCUSDT")
	waitActive(t, venue, 0)
}

func TestMultiplexInitialSubscribeTimeoutCloses1008(t *testing.T) {
	venue := &stubVenue{name: "binance"}
	ts := newTestServer(t, Config{InitialSubscribeTimeout: 100 * time.Millisecond}, nil, venue)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, wsURL(ts.URL, "/ws/binance/multi/ohlc?interval=1m"))

	// The timeout error envelope arrives first, then the policy close.
	var envelope errorEnvelope
	readJSON(t, ctx, conn, &envelope)
	require.Equal(t, codeTimeout, envelope.Code)

	_, _, err := conn.Read(ctx)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestMultiplexIdleTimeoutCloses1008(t *testing.T) {
	venue := &stubVenue{name: "binance"}
	ts := newTestServer(t, Config{IdleTimeout: 100 * time.Millisecond}, nil, venue)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, wsURL(ts.URL, "/ws/binance/multi/ohlc?interval=1m"))

	sendControl(t, ctx, conn, "subscribe", "BTCUSDT")
	waitActive(t, venue, 1)

	// No further control frames: the idle window expires after the
	// subscription succeeded.
	var envelope errorEnvelope
	readJSON(t, ctx, conn, &envelope)
	require.Equal(t, codeTimeout, envelope.Code)
	require.Equal(t, "idle timeout", envelope.Message)

	_, _, err := conn.Read(ctx)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestMultiplexForwardsCandlesAcrossSubscriptions(t *testing.T) {
	venue := &stubVenue{
		name: "binance",
		live: []*schema.Candle{testCandle("BTCUSDT", 50_050)},
	}
	ts := newTestServer(t, Config{}, nil, venue)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, wsURL(ts.URL, "/ws/binance/multi/ohlc?interval=1m"))

	sendControl(t, ctx, conn, "subscribe", "BTCUSDT")

	var candle schema.Candle
	readJSON(t, ctx, conn, &candle)
	require.Equal(t, "BTCUSDT", candle.Symbol)
	require.Equal(t, 50_050.0, candle.Close)
}

func TestMultiplexDisconnectCancelsAllTasks(t *testing.T) {
	venue := &stubVenue{name: "binance"}
	ts := newTestServer(t, Config{}, nil, venue)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(t, ctx, wsURL(ts.URL, "/ws/binance/multi/ohlc?interval=1m"))

	sendControl(t, ctx, conn, "subscribe", "BTCUSDT", "ETHUSDT", "SOLUSDT")
	waitActive(t, venue, 3)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))
	waitActive(t, venue, 0)
}
