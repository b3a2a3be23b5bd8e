package okx

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/numeric"
	"github.com/tidefeed/gateway/internal/schema"
)

type liquidationFrame struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
	} `json:"arg"`
	Data []struct {
		InstID  string `json:"instId"`
		Details []struct {
			Side  string `json:"side"`
			Size  string `json:"sz"`
			Price string `json:"bkPx"`
			Time  string `json:"ts"`
		} `json:"details"`
	} `json:"data"`
}

// ParseLiquidationFrame normalizes one liquidation-orders frame.
// Subscription acknowledgements return (nil, nil); venue error events return
// a subscription-rejected error.
func ParseLiquidationFrame(data []byte) ([]*schema.Liquidation, error) {
	var frame liquidationFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("decode frame"), errs.WithCause(err))
	}
	switch frame.Event {
	case "subscribe":
		return nil, nil
	case "error":
		return nil, errs.New(Name, errs.CodeSubscriptionRejected,
			errs.WithMessage("venue error "+frame.Code), errs.WithRawMessage(frame.Msg))
	}
	if frame.Arg.Channel != "liquidation-orders" {
		return nil, nil
	}

	var liqs []*schema.Liquidation
	for _, entry := range frame.Data {
		symbol := normalizeInstID(entry.InstID)
		for _, d := range entry.Details {
			price, okP := numeric.ParseFloat(d.Price)
			size, okS := numeric.ParseFloat(d.Size)
			if !(okP && okS) {
				return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("liquidation numeric fields"))
			}
			ts, okT := parseEpochString(d.Time)
			if !okT {
				return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("liquidation timestamp"))
			}

			side := schema.SideBuy
			if strings.EqualFold(d.Side, "sell") {
				side = schema.SideSell
			}

			liqs = append(liqs, &schema.Liquidation{
				Type:      schema.TypeLiquidation,
				Exchange:  Name,
				Symbol:    symbol,
				Timestamp: ts,
				Side:      side,
				Price:     price,
				Quantity:  size,
				Value:     numeric.Notional(price, size),
			})
		}
	}
	return liqs, nil
}

// normalizeInstID converts an OKX instrument ID (BTC-USDT-SWAP) to the
// gateway's pair form (BTCUSDT).
func normalizeInstID(instID string) string {
	s := strings.ToUpper(strings.TrimSuffix(instID, "-SWAP"))
	return strings.ReplaceAll(s, "-", "")
}

func parseEpochString(s string) (time.Time, bool) {
	v, ok := numeric.ParseFloat(s)
	if !ok {
		return time.Time{}, false
	}
	return schema.FromEpochFloat(v), true
}
