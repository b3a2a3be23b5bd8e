package bybit

import (
	"strings"

	json "github.com/goccy/go-json"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/numeric"
	"github.com/tidefeed/gateway/internal/schema"
)

// envelope is the common shape of Bybit v5 stream frames.
type envelope struct {
	Topic   string          `json:"topic"`
	Op      string          `json:"op"`
	Success *bool           `json:"success,omitempty"`
	RetMsg  string          `json:"ret_msg"`
	Data    json.RawMessage `json:"data"`
}

// decodeEnvelope splits control acknowledgements from data frames.
// It returns (nil, nil) for frames the caller should ignore.
func decodeEnvelope(data []byte, wantPrefix string) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("decode frame"), errs.WithCause(err))
	}
	if env.Success != nil {
		if !*env.Success {
			return nil, errs.New(Name, errs.CodeSubscriptionRejected,
				errs.WithMessage("subscription rejected"), errs.WithRawMessage(env.RetMsg))
		}
		return nil, nil
	}
	if env.Topic == "" || !strings.HasPrefix(env.Topic, wantPrefix) {
		return nil, nil
	}
	return &env, nil
}

// topicSymbol extracts the trailing symbol segment of a topic.
func topicSymbol(topic string) string {
	idx := strings.LastIndexByte(topic, '.')
	if idx < 0 {
		return ""
	}
	return strings.ToUpper(topic[idx+1:])
}

type klineRow struct {
	Start    int64  `json:"start"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
	Turnover string `json:"turnover"`
	Confirm  bool   `json:"confirm"`
}

// ParseKlineFrame normalizes a kline frame. The canonical interval is taken
// from the subscription; Bybit echoes its own encoding.
func ParseKlineFrame(interval string, data []byte) ([]*schema.Candle, error) {
	env, err := decodeEnvelope(data, "kline.")
	if err != nil || env == nil {
		return nil, err
	}
	symbol := topicSymbol(env.Topic)

	var rows []klineRow
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("decode kline data"), errs.WithCause(err))
	}

	candles := make([]*schema.Candle, 0, len(rows))
	for _, row := range rows {
		open, okO := numeric.ParseFloat(row.Open)
		high, okH := numeric.ParseFloat(row.High)
		low, okL := numeric.ParseFloat(row.Low)
		closeP, okC := numeric.ParseFloat(row.Close)
		volume, okV := numeric.ParseFloat(row.Volume)
		turnover, okT := numeric.ParseFloat(row.Turnover)
		if !(okO && okH && okL && okC && okV && okT) {
			return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("kline numeric fields"))
		}
		candles = append(candles, &schema.Candle{
			Exchange:    Name,
			Symbol:      symbol,
			Interval:    interval,
			Timestamp:   schema.FromEpoch(row.Start),
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closeP,
			Volume:      volume,
			QuoteVolume: turnover,
			IsClosed:    row.Confirm,
		})
	}
	return candles, nil
}

type tradeRow struct {
	Time     int64  `json:"T"`
	Symbol   string `json:"s"`
	Side     string `json:"S"`
	Size     string `json:"v"`
	Price    string `json:"p"`
}

// ParseTradeFrame normalizes a publicTrade frame. Bybit does not expose the
// maker bit, so IsBuyerMaker is always false.
func ParseTradeFrame(data []byte) ([]*schema.LargeTrade, error) {
	env, err := decodeEnvelope(data, "publicTrade.")
	if err != nil || env == nil {
		return nil, err
	}

	var rows []tradeRow
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("decode trade data"), errs.WithCause(err))
	}

	trades := make([]*schema.LargeTrade, 0, len(rows))
	for _, row := range rows {
		price, okP := numeric.ParseFloat(row.Price)
		size, okS := numeric.ParseFloat(row.Size)
		if !(okP && okS) {
			return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("trade numeric fields"))
		}
		trades = append(trades, &schema.LargeTrade{
			Type:      schema.TypeLargeTrade,
			Exchange:  Name,
			Symbol:    strings.ToUpper(row.Symbol),
			Timestamp: schema.FromEpoch(row.Time),
			Side:      normalizeSide(row.Side),
			Price:     price,
			Quantity:  size,
			Value:     numeric.Notional(price, size),
		})
	}
	return trades, nil
}

type liquidationRow struct {
	Time   int64  `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Size   string `json:"v"`
	Price  string `json:"p"`
}

// ParseLiquidationFrame normalizes an allLiquidation frame.
func ParseLiquidationFrame(data []byte) ([]*schema.Liquidation, error) {
	env, err := decodeEnvelope(data, "allLiquidation.")
	if err != nil || env == nil {
		return nil, err
	}

	var rows []liquidationRow
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("decode liquidation data"), errs.WithCause(err))
	}

	liqs := make([]*schema.Liquidation, 0, len(rows))
	for _, row := range rows {
		price, okP := numeric.ParseFloat(row.Price)
		size, okS := numeric.ParseFloat(row.Size)
		if !(okP && okS) {
			return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("liquidation numeric fields"))
		}
		liqs = append(liqs, &schema.Liquidation{
			Type:      schema.TypeLiquidation,
			Exchange:  Name,
			Symbol:    strings.ToUpper(row.Symbol),
			Timestamp: schema.FromEpoch(row.Time),
			Side:      normalizeSide(row.Side),
			Price:     price,
			Quantity:  size,
			Value:     numeric.Notional(price, size),
		})
	}
	return liqs, nil
}

func normalizeSide(s string) schema.Side {
	if strings.EqualFold(s, "sell") {
		return schema.SideSell
	}
	return schema.SideBuy
}
