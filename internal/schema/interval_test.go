package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeIntervalAcceptsCanonical(t *testing.T) {
	for _, iv := range CanonicalIntervals {
		require.Equal(t, iv, NormalizeInterval(iv))
	}
}

func TestNormalizeIntervalDefaultsUnknown(t *testing.T) {
	require.Equal(t, DefaultInterval, NormalizeInterval("7m"))
	require.Equal(t, DefaultInterval, NormalizeInterval(""))
	require.Equal(t, DefaultInterval, NormalizeInterval("1M0"))
}

func TestBybitIntervalEncoding(t *testing.T) {
	cases := map[string]string{
		"1m": "1", "15m": "15", "1h": "60", "4h": "240",
		"12h": "720", "1d": "D", "1w": "W", "1M": "M",
	}
	for canonical, want := range cases {
		require.Equal(t, want, BybitInterval(canonical))
	}
	require.Equal(t, "1", BybitInterval("nonsense"))
}

func TestBinanceIntervalPassthrough(t *testing.T) {
	require.Equal(t, "5m", BinanceInterval("5m"))
	require.Equal(t, DefaultInterval, BinanceInterval("90s"))
}
