package hyperliquid

import (
	"context"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/numeric"
	"github.com/tidefeed/gateway/internal/schema"
)

// reencode converts a loosely-decoded JSON value into a concrete shape.
func reencode[T any](v any) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("reencode response"), errs.WithCause(err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("reencode response"), errs.WithCause(err))
	}
	return out, nil
}

// All Hyperliquid snapshot access goes through POST /info with a typed
// request body.

// Ping probes REST reachability via the lightweight mid-price listing.
func (c *Client) Ping(ctx context.Context) error {
	var out map[string]string
	return c.rest.PostJSON(ctx, "/info", map[string]string{"type": "allMids"}, &out)
}

type candleSnapshotReq struct {
	Type string `json:"type"`
	Req  struct {
		Coin      string `json:"coin"`
		Interval  string `json:"interval"`
		StartTime int64  `json:"startTime"`
		EndTime   int64  `json:"endTime,omitempty"`
	} `json:"req"`
}

type candleSnapshotRow struct {
	StartTime int64  `json:"t"`
	Coin      string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Trades    int64  `json:"n"`
}

// Klines fetches recent candles. The lookback window is derived from the
// interval and requested row count.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]*schema.Candle, error) {
	interval = schema.HyperliquidInterval(interval)
	coin := schema.ToCoin(symbol)
	if limit <= 0 {
		limit = 100
	}

	req := candleSnapshotReq{Type: "candleSnapshot"}
	req.Req.Coin = coin
	req.Req.Interval = interval
	req.Req.StartTime = time.Now().Add(-time.Duration(limit) * intervalDuration(interval)).UnixMilli()

	var rows []candleSnapshotRow
	if err := c.rest.PostJSON(ctx, "/info", req, &rows); err != nil {
		return nil, err
	}

	candles := make([]*schema.Candle, 0, len(rows))
	for _, row := range rows {
		open, okO := numeric.ParseFloat(row.Open)
		high, okH := numeric.ParseFloat(row.High)
		low, okL := numeric.ParseFloat(row.Low)
		closeP, okC := numeric.ParseFloat(row.Close)
		volume, okV := numeric.ParseFloat(row.Volume)
		if !(okO && okH && okL && okC && okV) {
			continue
		}
		candles = append(candles, &schema.Candle{
			Exchange:    Name,
			Symbol:      strings.ToUpper(symbol),
			Interval:    interval,
			Timestamp:   schema.FromEpoch(row.StartTime),
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closeP,
			Volume:      volume,
			QuoteVolume: numeric.Notional(closeP, volume),
			TradesCount: row.Trades,
			IsClosed:    true,
		})
	}
	return candles, nil
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	case "1M":
		return 30 * 24 * time.Hour
	default:
		return time.Minute
	}
}

type metaAndCtxsReq struct {
	Type string `json:"type"`
}

type metaUniverse struct {
	Universe []struct {
		Name string `json:"name"`
	} `json:"universe"`
}

type assetCtx struct {
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
	MarkPx       string `json:"markPx"`
}

// assetContext fetches the per-coin context row carrying open interest and
// funding. The response pairs a meta block with a positional context list.
func (c *Client) assetContext(ctx context.Context, coin string) (*assetCtx, error) {
	var resp []any
	if err := c.rest.PostJSON(ctx, "/info", metaAndCtxsReq{Type: "metaAndAssetCtxs"}, &resp); err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("metaAndAssetCtxs shape"))
	}

	meta, err := reencode[metaUniverse](resp[0])
	if err != nil {
		return nil, err
	}
	ctxs, err := reencode[[]assetCtx](resp[1])
	if err != nil {
		return nil, err
	}

	for i, entry := range meta.Universe {
		if strings.EqualFold(entry.Name, coin) {
			if i < len(*ctxs) {
				return &(*ctxs)[i], nil
			}
			break
		}
	}
	return nil, errs.New(Name, errs.CodeNotFound, errs.WithMessage("unknown coin "+coin))
}

// OpenInterest fetches the current open interest for a symbol.
func (c *Client) OpenInterest(ctx context.Context, symbol string) (*schema.OpenInterest, error) {
	coin := schema.ToCoin(symbol)
	actx, err := c.assetContext(ctx, coin)
	if err != nil {
		return nil, err
	}
	oi, ok := numeric.ParseFloat(actx.OpenInterest)
	if !ok {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("openInterest numeric field"))
	}
	rec := &schema.OpenInterest{
		Exchange:     Name,
		Symbol:       strings.ToUpper(symbol),
		Timestamp:    time.Now().UTC(),
		OpenInterest: oi,
	}
	if mark, okM := numeric.ParseFloat(actx.MarkPx); okM {
		v := numeric.Notional(mark, oi)
		rec.OpenInterestValue = &v
	}
	return rec, nil
}

// Funding fetches the current funding snapshot for a symbol.
func (c *Client) Funding(ctx context.Context, symbol string) (*schema.Funding, error) {
	coin := schema.ToCoin(symbol)
	actx, err := c.assetContext(ctx, coin)
	if err != nil {
		return nil, err
	}
	rate, ok := numeric.ParseFloat(actx.Funding)
	if !ok {
		return nil, errs.New(Name, errs.CodeMalformed, errs.WithMessage("funding numeric field"))
	}
	ts := time.Now().UTC()
	return &schema.Funding{
		Exchange:    Name,
		Symbol:      strings.ToUpper(symbol),
		Timestamp:   ts,
		FundingRate: rate,
		FundingTime: ts,
	}, nil
}

type fundingHistoryReq struct {
	Type      string `json:"type"`
	Coin      string `json:"coin"`
	StartTime int64  `json:"startTime"`
}

type fundingHistoryRow struct {
	Coin        string `json:"coin"`
	FundingRate string `json:"fundingRate"`
	Time        int64  `json:"time"`
}

// FundingHist fetches funding history over the past day.
func (c *Client) FundingHist(ctx context.Context, symbol string) ([]*schema.Funding, error) {
	coin := schema.ToCoin(symbol)
	req := fundingHistoryReq{
		Type:      "fundingHistory",
		Coin:      coin,
		StartTime: time.Now().Add(-24 * time.Hour).UnixMilli(),
	}
	var rows []fundingHistoryRow
	if err := c.rest.PostJSON(ctx, "/info", req, &rows); err != nil {
		return nil, err
	}

	out := make([]*schema.Funding, 0, len(rows))
	for _, row := range rows {
		rate, ok := numeric.ParseFloat(row.FundingRate)
		if !ok {
			continue
		}
		ts := schema.FromEpoch(row.Time)
		out = append(out, &schema.Funding{
			Exchange:    Name,
			Symbol:      strings.ToUpper(symbol),
			Timestamp:   ts,
			FundingRate: rate,
			FundingTime: ts,
		})
	}
	return out, nil
}
