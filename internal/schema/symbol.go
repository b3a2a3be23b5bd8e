package schema

import "strings"

// quoteSuffixes lists the stablecoin quote tags recognized when converting a
// pair-form symbol to coin form. Order matters only for readability; a symbol
// matches at most one suffix.
var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "DAI", "TUSD", "USDP"}

// ToCoin strips a recognized quote suffix from a pair-form symbol
// (BTCUSDT -> BTC). Symbols without a recognized suffix pass through
// unchanged, which makes the conversion idempotent.
func ToCoin(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, suffix := range quoteSuffixes {
		if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
			return s[:len(s)-len(suffix)]
		}
	}
	return s
}

// ToPair joins a coin with the given quote tag (BTC -> BTCUSDT). A symbol
// already carrying a recognized quote suffix passes through unchanged.
func ToPair(coin, quote string) string {
	c := strings.ToUpper(strings.TrimSpace(coin))
	for _, suffix := range quoteSuffixes {
		if len(c) > len(suffix) && strings.HasSuffix(c, suffix) {
			return c
		}
	}
	return c + strings.ToUpper(strings.TrimSpace(quote))
}

// HasQuoteSuffix reports whether the symbol ends in a recognized quote tag.
func HasQuoteSuffix(symbol string) bool {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, suffix := range quoteSuffixes {
		if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
