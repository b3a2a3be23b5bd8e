// Package schema defines the normalized record shapes emitted by the gateway.
package schema

import "time"

// Topic names the well-known bus topics populated by the aggregation services.
type Topic string

const (
	TopicLiquidation Topic = "liquidation"
	TopicLargeTrade  Topic = "large_trade"
	TopicOISpike     Topic = "oi_spike"
)

// Side is the taker direction of a trade or liquidation.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Candle is an interval summary of trades on one symbol.
// Invariants: low <= min(open, close), high >= max(open, close), high >= low,
// all price and volume fields >= 0.
type Candle struct {
	Exchange    string    `json:"exchange"`
	Symbol      string    `json:"symbol"`
	Interval    string    `json:"interval"`
	Timestamp   time.Time `json:"timestamp"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	QuoteVolume float64   `json:"quote_volume"`
	TradesCount int64     `json:"trades_count"`
	IsClosed    bool      `json:"is_closed"`
}

// OpenInterest is the outstanding contract total for a symbol.
type OpenInterest struct {
	Exchange          string    `json:"exchange"`
	Symbol            string    `json:"symbol"`
	Timestamp         time.Time `json:"timestamp"`
	OpenInterest      float64   `json:"open_interest"`
	OpenInterestValue *float64  `json:"open_interest_value,omitempty"`
}

// Funding is a perpetual funding-rate observation.
type Funding struct {
	Exchange        string     `json:"exchange"`
	Symbol          string     `json:"symbol"`
	Timestamp       time.Time  `json:"timestamp"`
	FundingRate     float64    `json:"funding_rate"`
	FundingTime     time.Time  `json:"funding_time"`
	NextFundingRate *float64   `json:"next_funding_rate,omitempty"`
	NextFundingTime *time.Time `json:"next_funding_time,omitempty"`
}

// Liquidation is a forced position closure reported by a venue.
// Value approximates Price*Quantity within float tolerance.
type Liquidation struct {
	Type      string    `json:"type"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Value     float64   `json:"value"`
}

// LargeTrade is a trade whose notional exceeds the configured threshold.
type LargeTrade struct {
	Type         string    `json:"type"`
	Exchange     string    `json:"exchange"`
	Symbol       string    `json:"symbol"`
	Timestamp    time.Time `json:"timestamp"`
	Side         Side      `json:"side"`
	Price        float64   `json:"price"`
	Quantity     float64   `json:"quantity"`
	Value        float64   `json:"value"`
	IsBuyerMaker bool      `json:"is_buyer_maker"`
}

// SpikeAlert is a statistical deviation signal for open interest and volume.
// Confirmed holds exactly when both z-scores meet the timeframe threshold.
type SpikeAlert struct {
	Type      string    `json:"type"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`
	ZOI       float64   `json:"z_oi"`
	ZVol      float64   `json:"z_vol"`
	Confirmed bool      `json:"confirmed"`
}

// Record tag values carried in the wire "type" field.
const (
	TypeLiquidation = "liquidation"
	TypeLargeTrade  = "large_trade"
	TypeOISpike     = "oi_spike"
)

// Event is the unit carried by the bus: a topic plus one of the record types.
type Event struct {
	Topic   Topic
	Payload any
}

// NewEvent wraps a record for publication under topic.
func NewEvent(topic Topic, payload any) *Event {
	return &Event{Topic: topic, Payload: payload}
}
