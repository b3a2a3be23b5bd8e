package schema

import (
	"github.com/tidefeed/gateway/internal/observability"
)

// DefaultInterval is the fallback when an interval token is not recognized.
const DefaultInterval = "1m"

// CanonicalIntervals enumerates the interval tokens accepted at the gateway
// surface. Venue encodings are derived from these.
var CanonicalIntervals = []string{
	"1m", "3m", "5m", "15m", "30m",
	"1h", "2h", "4h", "6h", "12h",
	"1d", "1w", "1M",
}

var canonicalSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(CanonicalIntervals))
	for _, iv := range CanonicalIntervals {
		set[iv] = struct{}{}
	}
	return set
}()

// bybitIntervals maps canonical tokens onto Bybit v5 kline encodings:
// minute counts below one day, letter codes at and above.
var bybitIntervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W", "1M": "M",
}

// IsCanonicalInterval reports whether the token is in the canonical set.
func IsCanonicalInterval(interval string) bool {
	_, ok := canonicalSet[interval]
	return ok
}

// NormalizeInterval returns the token unchanged when canonical, otherwise the
// documented default with a warning.
func NormalizeInterval(interval string) string {
	if IsCanonicalInterval(interval) {
		return interval
	}
	observability.Log().Warn("unknown interval, using default",
		observability.F("interval", interval),
		observability.F("default", DefaultInterval))
	return DefaultInterval
}

// BinanceInterval converts a canonical interval to the Binance encoding.
// Binance uses the canonical tokens directly.
func BinanceInterval(interval string) string {
	return NormalizeInterval(interval)
}

// BybitInterval converts a canonical interval to the Bybit v5 encoding.
func BybitInterval(interval string) string {
	if v, ok := bybitIntervals[interval]; ok {
		return v
	}
	observability.Log().Warn("unknown interval, using default",
		observability.F("interval", interval),
		observability.F("default", DefaultInterval))
	return bybitIntervals[DefaultInterval]
}

// HyperliquidInterval converts a canonical interval to the Hyperliquid
// encoding. Hyperliquid uses the canonical tokens directly.
func HyperliquidInterval(interval string) string {
	return NormalizeInterval(interval)
}
