// Package telemetry provides semantic conventions for gateway observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for gateway-specific telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name
const (
	// Record attributes
	AttrRecordType = attribute.Key("record.type")
	AttrExchange   = attribute.Key("exchange")
	AttrSymbol     = attribute.Key("symbol")
	AttrStream     = attribute.Key("stream")
	AttrTimeframe  = attribute.Key("timeframe")
	AttrTopic      = attribute.Key("topic")

	// Environment attribute
	AttrEnvironment = attribute.Key("environment")

	// Error attributes
	AttrErrorType = attribute.Key("error.type")
	AttrReason    = attribute.Key("reason")

	// Connection attributes
	AttrConnectionState = attribute.Key("connection.state")
)

// Record type values
const (
	RecordTypeOHLC         = "ohlc"
	RecordTypeOpenInterest = "oi"
	RecordTypeFunding      = "funding"
	RecordTypeLiquidation  = "liquidation"
	RecordTypeLargeTrade   = "large_trade"
	RecordTypeOISpike      = "oi_spike"
)

// Connection state values
const (
	ConnectionStateConnected    = "connected"
	ConnectionStateReconnecting = "reconnecting"
	ConnectionStateDegraded     = "degraded"
)
