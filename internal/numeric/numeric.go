// Package numeric parses the decimal strings carried by venue payloads.
//
// Venues send prices and quantities as strings. Parsing goes through a
// decimal representation first so that malformed input is rejected instead of
// silently truncated, then converts to float64 for the normalized records.
package numeric

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseFloat converts a venue decimal string to float64.
// On failure it returns (0, false).
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// ParseFloatDefault converts a venue decimal string to float64, substituting
// def when the string is empty or malformed.
func ParseFloatDefault(s string, def float64) float64 {
	if f, ok := ParseFloat(s); ok {
		return f
	}
	return def
}

// Notional computes price*quantity through decimals so the product matches
// price and quantity to full precision before the float64 conversion.
func Notional(price, quantity float64) float64 {
	v, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(quantity)).Float64()
	return v
}
