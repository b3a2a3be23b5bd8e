package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToCoinStripsRecognizedQuote(t *testing.T) {
	require.Equal(t, "BTC", ToCoin("BTCUSDT"))
	require.Equal(t, "ETH", ToCoin("ETH"))
	require.Equal(t, "FOO", ToCoin("FOOUSDC"))
	require.Equal(t, "WEIRD", ToCoin("WEIRD"))
}

func TestToCoinIdempotent(t *testing.T) {
	for _, sym := range []string{"BTCUSDT", "ETHBUSD", "SOL", "DAIUSDP", "usdt"} {
		once := ToCoin(sym)
		require.Equal(t, once, ToCoin(once), "symbol %q", sym)
	}
}

func TestToCoinDoesNotStripBareQuote(t *testing.T) {
	// A symbol that IS a quote tag is not emptied.
	require.Equal(t, "USDT", ToCoin("USDT"))
	require.Equal(t, "DAI", ToCoin("DAI"))
}

func TestToPair(t *testing.T) {
	require.Equal(t, "BTCUSDT", ToPair("BTC", "USDT"))
	require.Equal(t, "BTCUSDT", ToPair("BTCUSDT", "USDT"))
	require.Equal(t, "ETHUSDC", ToPair("eth", "usdc"))
}

func TestHasQuoteSuffix(t *testing.T) {
	require.True(t, HasQuoteSuffix("BTCUSDT"))
	require.False(t, HasQuoteSuffix("BTC"))
	require.False(t, HasQuoteSuffix("USDT"))
}
