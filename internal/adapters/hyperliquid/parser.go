package hyperliquid

import (
	"strings"

	json "github.com/goccy/go-json"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/numeric"
	"github.com/tidefeed/gateway/internal/schema"
)

type candleFrame struct {
	Channel string `json:"channel"`
	Data    struct {
		StartTime int64  `json:"t"`
		Coin      string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Trades    int64  `json:"n"`
	} `json:"data"`
}

// ParseCandleFrame normalizes one candle frame. The record carries the symbol
// tag the caller subscribed with, not the venue's coin form.
func ParseCandleFrame(symbol, interval string, data []byte) (*schema.Candle, error) {
	var frame candleFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("decode candle frame"), errs.WithCause(err))
	}
	if frame.Channel != "candle" {
		return nil, nil
	}
	d := frame.Data

	open, okO := numeric.ParseFloat(d.Open)
	high, okH := numeric.ParseFloat(d.High)
	low, okL := numeric.ParseFloat(d.Low)
	closeP, okC := numeric.ParseFloat(d.Close)
	volume, okV := numeric.ParseFloat(d.Volume)
	if !(okO && okH && okL && okC && okV) {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("candle numeric fields"))
	}

	iv := d.Interval
	if iv == "" {
		iv = interval
	}

	return &schema.Candle{
		Exchange:    Name,
		Symbol:      strings.ToUpper(symbol),
		Interval:    iv,
		Timestamp:   schema.FromEpoch(d.StartTime),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closeP,
		Volume:      volume,
		QuoteVolume: numeric.Notional(closeP, volume),
		TradesCount: d.Trades,
	}, nil
}

type tradesFrame struct {
	Channel string `json:"channel"`
	Data    []struct {
		Coin  string `json:"coin"`
		Side  string `json:"side"`
		Price string `json:"px"`
		Size  string `json:"sz"`
		Time  int64  `json:"time"`
	} `json:"data"`
}

// ParseTradesFrame normalizes one trades frame. Hyperliquid reports the taker
// side as "B" (buy) or "A" (sell); the maker bit is derived from it.
// coinToSymbol restores the caller's symbol tag for each coin; coins without
// a mapping keep the coin tag.
func ParseTradesFrame(coinToSymbol map[string]string, data []byte) ([]*schema.LargeTrade, error) {
	var frame tradesFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("decode trades frame"), errs.WithCause(err))
	}
	if frame.Channel != "trades" {
		return nil, nil
	}

	trades := make([]*schema.LargeTrade, 0, len(frame.Data))
	for _, row := range frame.Data {
		price, okP := numeric.ParseFloat(row.Price)
		size, okS := numeric.ParseFloat(row.Size)
		if !(okP && okS) {
			return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("trade numeric fields"))
		}

		side := schema.SideSell
		if row.Side == "B" {
			side = schema.SideBuy
		}
		symbol := row.Coin
		if mapped, ok := coinToSymbol[row.Coin]; ok {
			symbol = mapped
		}

		trades = append(trades, &schema.LargeTrade{
			Type:         schema.TypeLargeTrade,
			Exchange:     Name,
			Symbol:       strings.ToUpper(symbol),
			Timestamp:    schema.FromEpoch(row.Time),
			Side:         side,
			Price:        price,
			Quantity:     size,
			Value:        numeric.Notional(price, size),
			IsBuyerMaker: row.Side == "A",
		})
	}
	return trades, nil
}
