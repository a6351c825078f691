package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yanun0323/decimal"
)

const (
	// StreamAggTicker is the venue's aggregate all-market ticker stream.
	StreamAggTicker = "!ticker@arr"

	depthMarker = "@depth"
)

// StreamMessage is the combined-stream wrapper delivered by the venue:
// {"stream": "<name>", "data": <payload>}.
type StreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Envelope is the unit buffered between stream callbacks and the processing
// loop. ReceivedAt is stamped at enqueue time, in milliseconds since epoch.
type Envelope struct {
	Stream     string
	Data       json.RawMessage
	ReceivedAt int64
}

// IsDepthStream reports whether the stream name carries a depth marker.
func IsDepthStream(stream string) bool {
	return strings.Contains(stream, depthMarker)
}

// DepthSymbol extracts the symbol from a depth stream name,
// e.g. "ethusdt@depth5" -> "ethusdt".
func DepthSymbol(stream string) string {
	if idx := strings.Index(stream, "@"); idx >= 0 {
		return stream[:idx]
	}
	return stream
}

// DepthStreamName builds a partial book depth stream name for a symbol.
func DepthStreamName(symbol string, levels int) string {
	return fmt.Sprintf("%s%s%d", strings.ToLower(symbol), depthMarker, levels)
}

// TickerRecord is one per-symbol entry of the aggregate ticker payload,
// carried raw so the persistence layer can apply its field rules.
type TickerRecord struct {
	Symbol     string
	Payload    json.RawMessage
	ReceivedAt int64
}

// PartialBookDepth mirrors the venue's partial book depth payload.
type PartialBookDepth struct {
	LastUpdateID int64                 `json:"lastUpdateId"`
	Bids         [][2]decimal.Decimal `json:"bids"` // [0]price [1]quantity
	Asks         [][2]decimal.Decimal `json:"asks"` // [0]price [1]quantity
}

// DepthSnapshot is one order book observation bound for storage.
type DepthSnapshot struct {
	Symbol       string
	LastUpdateID int64
	Asks         [][2]decimal.Decimal
	Bids         [][2]decimal.Decimal
	ReceivedAt   int64
}

// Levels returns the level count discovered from the snapshot. Ask and bid
// sides normally match; the larger side wins when they do not.
func (s DepthSnapshot) Levels() int {
	if len(s.Asks) >= len(s.Bids) {
		return len(s.Asks)
	}
	return len(s.Bids)
}
