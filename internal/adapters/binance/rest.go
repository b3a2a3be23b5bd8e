package binance

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/numeric"
	"github.com/tidefeed/gateway/internal/schema"
)

// Ping probes REST reachability.
func (c *Client) Ping(ctx context.Context) error {
	return c.rest.GetJSON(ctx, "/fapi/v1/ping", nil, nil)
}

// Klines fetches recent candles. Binance returns positional arrays per entry.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]*schema.Candle, error) {
	interval = schema.BinanceInterval(interval)
	q := url.Values{
		"symbol":   {strings.ToUpper(symbol)},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	var rows [][]any
	if err := c.rest.GetJSON(ctx, "/fapi/v1/klines", q, &rows); err != nil {
		return nil, err
	}

	candles := make([]*schema.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 9 {
			continue
		}
		openTime, ok := row[0].(float64)
		if !ok {
			continue
		}
		open, okO := numeric.ParseFloat(asString(row[1]))
		high, okH := numeric.ParseFloat(asString(row[2]))
		low, okL := numeric.ParseFloat(asString(row[3]))
		closeP, okC := numeric.ParseFloat(asString(row[4]))
		volume, okV := numeric.ParseFloat(asString(row[5]))
		quoteVol, okQ := numeric.ParseFloat(asString(row[7]))
		trades, okN := row[8].(float64)
		if !(okO && okH && okL && okC && okV && okQ && okN) {
			continue
		}
		candles = append(candles, &schema.Candle{
			Exchange:    Name,
			Symbol:      strings.ToUpper(symbol),
			Interval:    interval,
			Timestamp:   schema.FromEpoch(int64(openTime)),
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closeP,
			Volume:      volume,
			QuoteVolume: quoteVol,
			TradesCount: int64(trades),
			IsClosed:    true,
		})
	}
	return candles, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

type openInterestResp struct {
	Symbol       string `json:"symbol"`
	OpenInterest string `json:"openInterest"`
	Time         int64  `json:"time"`
}

// OpenInterest fetches the current open interest for a symbol.
func (c *Client) OpenInterest(ctx context.Context, symbol string) (*schema.OpenInterest, error) {
	q := url.Values{"symbol": {strings.ToUpper(symbol)}}
	var resp openInterestResp
	if err := c.rest.GetJSON(ctx, "/fapi/v1/openInterest", q, &resp); err != nil {
		return nil, err
	}
	oi, ok := numeric.ParseFloat(resp.OpenInterest)
	if !ok {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("openInterest numeric field"))
	}
	return &schema.OpenInterest{
		Exchange:     Name,
		Symbol:       strings.ToUpper(resp.Symbol),
		Timestamp:    schema.FromEpoch(resp.Time),
		OpenInterest: oi,
	}, nil
}

type openInterestHistRow struct {
	Symbol               string `json:"symbol"`
	SumOpenInterest      string `json:"sumOpenInterest"`
	SumOpenInterestValue string `json:"sumOpenInterestValue"`
	Timestamp            int64  `json:"timestamp"`
}

// OpenInterestHist fetches historical open interest at the given period
// (5m, 15m, 1h, ...).
func (c *Client) OpenInterestHist(ctx context.Context, symbol, period string, limit int) ([]*schema.OpenInterest, error) {
	q := url.Values{
		"symbol": {strings.ToUpper(symbol)},
		"period": {period},
		"limit":  {strconv.Itoa(limit)},
	}
	var rows []openInterestHistRow
	if err := c.rest.GetJSON(ctx, "/futures/data/openInterestHist", q, &rows); err != nil {
		return nil, err
	}

	out := make([]*schema.OpenInterest, 0, len(rows))
	for _, row := range rows {
		oi, ok := numeric.ParseFloat(row.SumOpenInterest)
		if !ok {
			continue
		}
		rec := &schema.OpenInterest{
			Exchange:     Name,
			Symbol:       strings.ToUpper(row.Symbol),
			Timestamp:    schema.FromEpoch(row.Timestamp),
			OpenInterest: oi,
		}
		if v, okV := numeric.ParseFloat(row.SumOpenInterestValue); okV {
			rec.OpenInterestValue = &v
		}
		out = append(out, rec)
	}
	return out, nil
}

type premiumIndexResp struct {
	Symbol          string `json:"symbol"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

// Funding fetches the current funding snapshot from the premium index.
func (c *Client) Funding(ctx context.Context, symbol string) (*schema.Funding, error) {
	q := url.Values{"symbol": {strings.ToUpper(symbol)}}
	var resp premiumIndexResp
	if err := c.rest.GetJSON(ctx, "/fapi/v1/premiumIndex", q, &resp); err != nil {
		return nil, err
	}
	rate, ok := numeric.ParseFloat(resp.LastFundingRate)
	if !ok {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("premiumIndex funding rate"))
	}
	ts := schema.FromEpoch(resp.Time)
	next := schema.FromEpoch(resp.NextFundingTime)
	return &schema.Funding{
		Exchange:        Name,
		Symbol:          strings.ToUpper(resp.Symbol),
		Timestamp:       ts,
		FundingRate:     rate,
		FundingTime:     ts,
		NextFundingTime: &next,
	}, nil
}

type fundingRateRow struct {
	Symbol      string `json:"symbol"`
	FundingRate string `json:"fundingRate"`
	FundingTime int64  `json:"fundingTime"`
}

// FundingHist fetches historical funding rates.
func (c *Client) FundingHist(ctx context.Context, symbol string, limit int) ([]*schema.Funding, error) {
	q := url.Values{
		"symbol": {strings.ToUpper(symbol)},
		"limit":  {strconv.Itoa(limit)},
	}
	var rows []fundingRateRow
	if err := c.rest.GetJSON(ctx, "/fapi/v1/fundingRate", q, &rows); err != nil {
		return nil, err
	}

	out := make([]*schema.Funding, 0, len(rows))
	for _, row := range rows {
		rate, ok := numeric.ParseFloat(row.FundingRate)
		if !ok {
			continue
		}
		ts := schema.FromEpoch(row.FundingTime)
		out = append(out, &schema.Funding{
			Exchange:    Name,
			Symbol:      strings.ToUpper(row.Symbol),
			Timestamp:   ts,
			FundingRate: rate,
			FundingTime: ts,
		})
	}
	return out, nil
}

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol       string `json:"symbol"`
		QuoteAsset   string `json:"quoteAsset"`
		ContractType string `json:"contractType"`
		Status       string `json:"status"`
	} `json:"symbols"`
}

// PerpSymbols lists currently-trading USDT-quoted perpetual symbols.
func (c *Client) PerpSymbols(ctx context.Context) ([]string, error) {
	var resp exchangeInfoResp
	if err := c.rest.GetJSON(ctx, "/fapi/v1/exchangeInfo", nil, &resp); err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		if s.QuoteAsset == "USDT" && s.ContractType == "PERPETUAL" && s.Status == "TRADING" {
			symbols = append(symbols, s.Symbol)
		}
	}
	return symbols, nil
}
