package footprint

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// Level is the traded volume at one footprint price level, split by aggressor.
type Level struct {
	Bid float64 // seller-initiated volume (resting bids hit)
	Ask float64 // buyer-initiated volume (resting asks lifted)
}

// Candle is an OHLC candle whose volume is broken down by price level.
type Candle struct {
	Timeframe   Timeframe
	OpenTimeMs  int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	TotalVolume float64
	Levels      map[float64]*Level
}

func newCandle(tf Timeframe, openTimeMs int64, open, price float64) *Candle {
	return &Candle{
		Timeframe:  tf,
		OpenTimeMs: openTimeMs,
		Open:       open,
		High:       price,
		Low:        price,
		Close:      price,
		Levels:     make(map[float64]*Level),
	}
}

// gapCandle stands in for a period without trades.
func gapCandle(tf Timeframe, openTimeMs int64, lastClose float64) *Candle {
	return newCandle(tf, openTimeMs, lastClose, lastClose)
}

func (c *Candle) apply(price, qty float64, level float64, sellerInitiated bool) {
	c.High = math.Max(c.High, price)
	c.Low = math.Min(c.Low, price)
	c.Close = price
	c.TotalVolume += qty

	l, ok := c.Levels[level]
	if !ok {
		l = &Level{}
		c.Levels[level] = l
	}
	if sellerInitiated {
		l.Bid += qty
	} else {
		l.Ask += qty
	}
}

// POC returns the point of control: the level with the most traded volume.
// Ties resolve to the higher price. ok is false for a candle without levels.
func (c *Candle) POC() (price float64, ok bool) {
	best := -1.0
	for p, l := range c.Levels {
		v := l.Bid + l.Ask
		if v > best || (v == best && p > price) {
			best, price, ok = v, p, true
		}
	}
	return price, ok
}

// Clone returns a deep copy that is safe to hand outside the ingestion loop.
func (c *Candle) Clone() *Candle {
	cp := *c
	cp.Levels = make(map[float64]*Level, len(c.Levels))
	for p, l := range c.Levels {
		lv := *l
		cp.Levels[p] = &lv
	}
	return &cp
}

// SortedLevels returns the level prices from highest to lowest.
func (c *Candle) SortedLevels() []float64 {
	prices := make([]float64, 0, len(c.Levels))
	for p := range c.Levels {
		prices = append(prices, p)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(prices)))
	return prices
}

type candleJSON struct {
	Timestamp   int64        `json:"timestamp"`
	Time        string       `json:"time"`
	Open        float64      `json:"open"`
	High        float64      `json:"high"`
	Low         float64      `json:"low"`
	Close       float64      `json:"close"`
	TotalVolume float64      `json:"totalVolume"`
	POC         *float64     `json:"poc,omitempty"`
	Levels      [][3]float64 `json:"levels"`
}

// MarshalJSON renders the subscriber wire shape: levels as [price, bid, ask]
// rows sorted by price descending, volumes rounded to 4 decimals.
func (c *Candle) MarshalJSON() ([]byte, error) {
	out := candleJSON{
		Timestamp:   c.OpenTimeMs,
		Time:        time.UnixMilli(c.OpenTimeMs).UTC().Format("15:04"),
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		TotalVolume: round4(c.TotalVolume),
		Levels:      make([][3]float64, 0, len(c.Levels)),
	}
	if poc, ok := c.POC(); ok {
		out.POC = &poc
	}
	for _, p := range c.SortedLevels() {
		l := c.Levels[p]
		out.Levels = append(out.Levels, [3]float64{p, round4(l.Bid), round4(l.Ask)})
	}
	return json.Marshal(out)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
