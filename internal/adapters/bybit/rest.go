package bybit

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/numeric"
	"github.com/tidefeed/gateway/internal/schema"
)

// restResponse is the Bybit v5 REST envelope.
type restResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) getResult(ctx context.Context, path string, q url.Values, out any) error {
	var resp restResponse
	if err := c.rest.GetJSON(ctx, path, q, &resp); err != nil {
		return err
	}
	if resp.RetCode != 0 {
		return errs.New(Name, errs.CodeTransient,
			errs.WithMessage("venue error code "+strconv.Itoa(resp.RetCode)),
			errs.WithRawMessage(resp.RetMsg))
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return errs.New(Name, errs.CodeMalformed, errs.WithMessage("decode result"), errs.WithCause(err))
	}
	return nil
}

// Ping probes REST reachability via the server-time endpoint.
func (c *Client) Ping(ctx context.Context) error {
	var result struct {
		TimeSecond string `json:"timeSecond"`
	}
	return c.getResult(ctx, "/v5/market/time", nil, &result)
}

type klineResult struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"`
}

// Klines fetches recent candles. Bybit returns rows newest first; the result
// is reversed to ascending time.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]*schema.Candle, error) {
	interval = schema.NormalizeInterval(interval)
	q := url.Values{
		"category": {"linear"},
		"symbol":   {strings.ToUpper(symbol)},
		"interval": {schema.BybitInterval(interval)},
		"limit":    {strconv.Itoa(limit)},
	}
	var result klineResult
	if err := c.getResult(ctx, "/v5/market/kline", q, &result); err != nil {
		return nil, err
	}

	candles := make([]*schema.Candle, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 7 {
			continue
		}
		start, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		open, okO := numeric.ParseFloat(row[1])
		high, okH := numeric.ParseFloat(row[2])
		low, okL := numeric.ParseFloat(row[3])
		closeP, okC := numeric.ParseFloat(row[4])
		volume, okV := numeric.ParseFloat(row[5])
		turnover, okT := numeric.ParseFloat(row[6])
		if !(okO && okH && okL && okC && okV && okT) {
			continue
		}
		candles = append(candles, &schema.Candle{
			Exchange:    Name,
			Symbol:      strings.ToUpper(symbol),
			Interval:    interval,
			Timestamp:   schema.FromEpoch(start),
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closeP,
			Volume:      volume,
			QuoteVolume: turnover,
			IsClosed:    true,
		})
	}
	return candles, nil
}

type openInterestResult struct {
	Symbol string `json:"symbol"`
	List   []struct {
		OpenInterest string `json:"openInterest"`
		Timestamp    string `json:"timestamp"`
	} `json:"list"`
}

// OpenInterestHist fetches open-interest history for the symbol at the given
// interval (5min, 15min, 1h, ...).
func (c *Client) OpenInterestHist(ctx context.Context, symbol, intervalTime string, limit int) ([]*schema.OpenInterest, error) {
	q := url.Values{
		"category":     {"linear"},
		"symbol":       {strings.ToUpper(symbol)},
		"intervalTime": {intervalTime},
		"limit":        {strconv.Itoa(limit)},
	}
	var result openInterestResult
	if err := c.getResult(ctx, "/v5/market/open-interest", q, &result); err != nil {
		return nil, err
	}

	out := make([]*schema.OpenInterest, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		oi, ok := numeric.ParseFloat(row.OpenInterest)
		if !ok {
			continue
		}
		ts, err := strconv.ParseInt(row.Timestamp, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, &schema.OpenInterest{
			Exchange:     Name,
			Symbol:       strings.ToUpper(result.Symbol),
			Timestamp:    schema.FromEpoch(ts),
			OpenInterest: oi,
		})
	}
	return out, nil
}

type tickersResult struct {
	List []struct {
		Symbol            string `json:"symbol"`
		FundingRate       string `json:"fundingRate"`
		NextFundingTime   string `json:"nextFundingTime"`
		OpenInterest      string `json:"openInterest"`
		OpenInterestValue string `json:"openInterestValue"`
	} `json:"list"`
}

// OpenInterest fetches the current open interest from the ticker snapshot.
func (c *Client) OpenInterest(ctx context.Context, symbol string) (*schema.OpenInterest, error) {
	row, err := c.ticker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	oi, ok := numeric.ParseFloat(row.OpenInterest)
	if !ok {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("ticker open interest"))
	}
	rec := &schema.OpenInterest{
		Exchange:     Name,
		Symbol:       strings.ToUpper(row.Symbol),
		Timestamp:    nowUTC(),
		OpenInterest: oi,
	}
	if v, okV := numeric.ParseFloat(row.OpenInterestValue); okV {
		rec.OpenInterestValue = &v
	}
	return rec, nil
}

// Funding fetches the current funding snapshot from the ticker.
func (c *Client) Funding(ctx context.Context, symbol string) (*schema.Funding, error) {
	row, err := c.ticker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	rate, ok := numeric.ParseFloat(row.FundingRate)
	if !ok {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("ticker funding rate"))
	}
	ts := nowUTC()
	f := &schema.Funding{
		Exchange:    Name,
		Symbol:      strings.ToUpper(row.Symbol),
		Timestamp:   ts,
		FundingRate: rate,
		FundingTime: ts,
	}
	if next, err := strconv.ParseInt(row.NextFundingTime, 10, 64); err == nil && next > 0 {
		nt := schema.FromEpoch(next)
		f.NextFundingTime = &nt
	}
	return f, nil
}

func (c *Client) ticker(ctx context.Context, symbol string) (*struct {
	Symbol            string `json:"symbol"`
	FundingRate       string `json:"fundingRate"`
	NextFundingTime   string `json:"nextFundingTime"`
	OpenInterest      string `json:"openInterest"`
	OpenInterestValue string `json:"openInterestValue"`
}, error) {
	q := url.Values{
		"category": {"linear"},
		"symbol":   {strings.ToUpper(symbol)},
	}
	var result tickersResult
	if err := c.getResult(ctx, "/v5/market/tickers", q, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, errs.New(Name, errs.CodeNotFound, errs.WithMessage("no ticker for "+strings.ToUpper(symbol)))
	}
	return &result.List[0], nil
}

type fundingHistoryResult struct {
	List []struct {
		Symbol               string `json:"symbol"`
		FundingRate          string `json:"fundingRate"`
		FundingRateTimestamp string `json:"fundingRateTimestamp"`
	} `json:"list"`
}

// FundingHist fetches historical funding rates.
func (c *Client) FundingHist(ctx context.Context, symbol string, limit int) ([]*schema.Funding, error) {
	q := url.Values{
		"category": {"linear"},
		"symbol":   {strings.ToUpper(symbol)},
		"limit":    {strconv.Itoa(limit)},
	}
	var result fundingHistoryResult
	if err := c.getResult(ctx, "/v5/market/funding/history", q, &result); err != nil {
		return nil, err
	}

	out := make([]*schema.Funding, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		rate, ok := numeric.ParseFloat(row.FundingRate)
		if !ok {
			continue
		}
		tsRaw, err := strconv.ParseInt(row.FundingRateTimestamp, 10, 64)
		if err != nil {
			continue
		}
		ts := schema.FromEpoch(tsRaw)
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

type instrumentsResult struct {
	List []struct {
		Symbol       string `json:"symbol"`
		QuoteCoin    string `json:"quoteCoin"`
		ContractType string `json:"contractType"`
		Status       string `json:"status"`
	} `json:"list"`
}

// PerpSymbols lists currently-trading USDT-quoted linear perpetuals. The
// liquidation aggregator uses this once at startup to enumerate topics.
func (c *Client) PerpSymbols(ctx context.Context) ([]string, error) {
	q := url.Values{
		"category": {"linear"},
		"status":   {"Trading"},
		"limit":    {"1000"},
	}
	var result instrumentsResult
	if err := c.getResult(ctx, "/v5/market/instruments-info", q, &result); err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(result.List))
	for _, row := range result.List {
		if row.QuoteCoin != "USDT" {
			continue
		}
		if row.ContractType != "" && row.ContractType != "LinearPerpetual" {
			continue
		}
		symbols = append(symbols, row.Symbol)
	}
	return symbols, nil
}
