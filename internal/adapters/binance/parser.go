package binance

import (
	"strings"

	json "github.com/goccy/go-json"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/numeric"
	"github.com/tidefeed/gateway/internal/schema"
)

type klineFrame struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime   int64  `json:"t"`
		Symbol      string `json:"s"`
		Interval    string `json:"i"`
		Open        string `json:"o"`
		High        string `json:"h"`
		Low         string `json:"l"`
		Close       string `json:"c"`
		Volume      string `json:"v"`
		QuoteVolume string `json:"q"`
		TradeCount  int64  `json:"n"`
		IsClosed    bool   `json:"x"`
	} `json:"k"`
}

// ParseKlineFrame normalizes one kline frame. Frames of another event kind
// return (nil, nil); undecodable frames or bad numerics return a malformed
// error. The subscribed symbol and interval fill in fields the frame omits.
func ParseKlineFrame(symbol, interval string, data []byte) (*schema.Candle, error) {
	var frame klineFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("decode kline frame"), errs.WithCause(err))
	}
	if frame.EventType != "kline" {
		return nil, nil
	}
	k := frame.Kline

	open, okO := numeric.ParseFloat(k.Open)
	high, okH := numeric.ParseFloat(k.High)
	low, okL := numeric.ParseFloat(k.Low)
	closeP, okC := numeric.ParseFloat(k.Close)
	volume, okV := numeric.ParseFloat(k.Volume)
	quoteVol, okQ := numeric.ParseFloat(k.QuoteVolume)
	if !(okO && okH && okL && okC && okV && okQ) {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("kline numeric fields"))
	}

	sym := k.Symbol
	if sym == "" {
		sym = frame.Symbol
	}
	if sym == "" {
		sym = strings.ToUpper(symbol)
	}
	iv := k.Interval
	if iv == "" {
		iv = interval
	}

	return &schema.Candle{
		Exchange:    Name,
		Symbol:      strings.ToUpper(sym),
		Interval:    iv,
		Timestamp:   schema.FromEpoch(k.StartTime),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closeP,
		Volume:      volume,
		QuoteVolume: quoteVol,
		TradesCount: k.TradeCount,
		IsClosed:    k.IsClosed,
	}, nil
}

type aggTradeFrame struct {
	EventType    string `json:"e"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// ParseAggTradeFrame normalizes one aggregate-trade frame. The taker bought
// when the buyer was not the maker.
func ParseAggTradeFrame(data []byte) (*schema.LargeTrade, error) {
	var frame aggTradeFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("decode aggTrade frame"), errs.WithCause(err))
	}
	if frame.EventType != "aggTrade" {
		return nil, nil
	}

	price, okP := numeric.ParseFloat(frame.Price)
	quantity, okQ := numeric.ParseFloat(frame.Quantity)
	if !(okP && okQ) {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("aggTrade numeric fields"))
	}

	side := schema.SideBuy
	if frame.IsBuyerMaker {
		side = schema.SideSell
	}

	return &schema.LargeTrade{
		Type:         schema.TypeLargeTrade,
		Exchange:     Name,
		Symbol:       strings.ToUpper(frame.Symbol),
		Timestamp:    schema.FromEpoch(frame.TradeTime),
		Side:         side,
		Price:        price,
		Quantity:     quantity,
		Value:        numeric.Notional(price, quantity),
		IsBuyerMaker: frame.IsBuyerMaker,
	}, nil
}

type forceOrderFrame struct {
	EventType string `json:"e"`
	Order     struct {
		Symbol    string `json:"s"`
		Side      string `json:"S"`
		Quantity  string `json:"q"`
		Price     string `json:"p"`
		AvgPrice  string `json:"ap"`
		TradeTime int64  `json:"T"`
	} `json:"o"`
}

// ParseForceOrderFrame normalizes one forced-liquidation frame.
func ParseForceOrderFrame(data []byte) (*schema.Liquidation, error) {
	var frame forceOrderFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("decode forceOrder frame"), errs.WithCause(err))
	}
	if frame.EventType != "forceOrder" {
		return nil, nil
	}
	o := frame.Order

	price, okP := numeric.ParseFloat(o.Price)
	if !okP || price == 0 {
		if ap, okAP := numeric.ParseFloat(o.AvgPrice); okAP && ap > 0 {
			price, okP = ap, true
		}
	}
	quantity, okQ := numeric.ParseFloat(o.Quantity)
	if !(okP && okQ) {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("forceOrder numeric fields"))
	}

	side := schema.SideSell
	if strings.EqualFold(o.Side, "BUY") {
		side = schema.SideBuy
	}

	return &schema.Liquidation{
		Type:      schema.TypeLiquidation,
		Exchange:  Name,
		Symbol:    strings.ToUpper(o.Symbol),
		Timestamp: schema.FromEpoch(o.TradeTime),
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Value:     numeric.Notional(price, quantity),
	}, nil
}

type markPriceFrame struct {
	EventType       string `json:"e"`
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

// ParseMarkPriceFrame normalizes one mark-price frame into a funding record.
func ParseMarkPriceFrame(data []byte) (*schema.Funding, error) {
	var frame markPriceFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("decode markPrice frame"), errs.WithCause(err))
	}
	if frame.EventType != "markPriceUpdate" {
		return nil, nil
	}

	rate, ok := numeric.ParseFloat(frame.FundingRate)
	if !ok {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("markPrice funding rate"))
	}

	ts := schema.FromEpoch(frame.EventTime)
	next := schema.FromEpoch(frame.NextFundingTime)
	return &schema.Funding{
		Exchange:        Name,
		Symbol:          strings.ToUpper(frame.Symbol),
		Timestamp:       ts,
		FundingRate:     rate,
		FundingTime:     ts,
		NextFundingTime: &next,
	}, nil
}
