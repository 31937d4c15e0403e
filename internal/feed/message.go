package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"footprint/internal/model"

	"github.com/shopspring/decimal"
)

var ErrMalformed = errors.New("feed: malformed message")

const (
	TypeTrade        = "trade"
	TypeLiquidityRaw = "liquidity_raw"
)

// Envelope is the common frame of every upstream message. Depth batches carry their
// fields at the top level; trades nest them under data.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *int64          `json:"timestamp,omitempty"`
	Bids      [][]string      `json:"bids,omitempty"`
	Asks      [][]string      `json:"asks,omitempty"`
}

// TradePayload is an aggregated trade as sent by the collector.
type TradePayload struct {
	T *int64 `json:"T"` // trade time (ms)
	P string `json:"p"` // price
	Q string `json:"q"` // quantity
	M *bool  `json:"m"` // buyer is maker
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// Trade decodes the trade carried in data.
func (e Envelope) Trade() (model.Trade, error) {
	if len(e.Data) == 0 {
		return model.Trade{}, fmt.Errorf("%w: trade without data", ErrMalformed)
	}
	var p TradePayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return model.Trade{}, fmt.Errorf("%w: trade data: %v", ErrMalformed, err)
	}
	if p.T == nil || p.M == nil || p.P == "" || p.Q == "" {
		return model.Trade{}, fmt.Errorf("%w: trade missing fields", ErrMalformed)
	}
	price, err := parseNumber(p.P)
	if err != nil {
		return model.Trade{}, fmt.Errorf("%w: price %q", ErrMalformed, p.P)
	}
	qty, err := parseNumber(p.Q)
	if err != nil {
		return model.Trade{}, fmt.Errorf("%w: quantity %q", ErrMalformed, p.Q)
	}
	return model.Trade{
		EventTimeMs:       *p.T,
		Price:             price,
		Quantity:          qty,
		IsSellerInitiated: *p.M,
	}, nil
}

// Depth decodes a liquidity_raw batch.
func (e Envelope) Depth() (timestampMs int64, bids, asks []model.PriceLevel, err error) {
	if e.Timestamp == nil || *e.Timestamp == 0 {
		return 0, nil, nil, fmt.Errorf("%w: depth without timestamp", ErrMalformed)
	}
	if bids, err = ParseLevels(e.Bids); err != nil {
		return 0, nil, nil, err
	}
	if asks, err = ParseLevels(e.Asks); err != nil {
		return 0, nil, nil, err
	}
	return *e.Timestamp, bids, asks, nil
}

// ParseLevels converts [["price","qty"], ...] rows into price levels.
func ParseLevels(rows [][]string) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			return nil, fmt.Errorf("%w: level %v", ErrMalformed, r)
		}
		price, err := parseNumber(r[0])
		if err != nil || price <= 0 {
			return nil, fmt.Errorf("%w: level price %q", ErrMalformed, r[0])
		}
		// zero is a cancel, anything below is garbage
		qty, err := parseNumber(r[1])
		if err != nil || qty < 0 {
			return nil, fmt.Errorf("%w: level quantity %q", ErrMalformed, r[1])
		}
		out = append(out, model.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

// parseNumber reads a decimal string. Values that overflow float64 are rejected.
func parseNumber(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%q out of range", s)
	}
	return f, nil
}
