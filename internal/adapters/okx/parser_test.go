package okx

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/schema"
)

func TestParseLiquidationFrame(t *testing.T) {
	frame := []byte(`{"arg":{"channel":"liquidation-orders","instType":"SWAP"},"data":[
		{"instId":"BTC-USDT-SWAP","details":[
			{"side":"sell","sz":"0.5","bkPx":"50000","ts":"1704110400000"},
			{"side":"buy","sz":"1","bkPx":"50010","ts":"1704110400500"}
		]}
	]}`)

	liqs, err := ParseLiquidationFrame(frame)
	require.NoError(t, err)
	require.Len(t, liqs, 2)

	require.Equal(t, "BTCUSDT", liqs[0].Symbol)
	require.Equal(t, schema.SideSell, liqs[0].Side)
	require.InEpsilon(t, 25000.0, liqs[0].Value, 1e-9)
	require.Equal(t, schema.SideBuy, liqs[1].Side)
	require.InEpsilon(t, liqs[1].Price*liqs[1].Quantity, liqs[1].Value, 1e-9)
}

func TestParseLiquidationFrameControlEvents(t *testing.T) {
	ack := []byte(`{"event":"subscribe","arg":{"channel":"liquidation-orders","instType":"SWAP"}}`)
	liqs, err := ParseLiquidationFrame(ack)
	require.NoError(t, err)
	require.Nil(t, liqs)

	rejected := []byte(`{"event":"error","code":"60012","msg":"Invalid request"}`)
	_, err = ParseLiquidationFrame(rejected)
	require.Error(t, err)
	require.Equal(t, errs.CodeSubscriptionRejected, errs.CodeOf(err))
}

func TestNormalizeInstID(t *testing.T) {
	require.Equal(t, "BTCUSDT", normalizeInstID("BTC-USDT-SWAP"))
	require.Equal(t, "ETHUSDT", normalizeInstID("ETH-USDT-SWAP"))
	require.Equal(t, "BTCUSD", normalizeInstID("BTC-USD"))
}

func TestHeartbeat(t *testing.T) {
	_, ok := heartbeat([]byte("pong"))
	require.True(t, ok)
	_, ok = heartbeat([]byte(`{"event":"subscribe"}`))
	require.False(t, ok)
}
