package footprint

import (
	"errors"
	"fmt"
	"math"

	"footprint/internal/model"

	"go.uber.org/zap"
)

// ErrInvalidTrade marks trades rejected before they touch candle state.
var ErrInvalidTrade = errors.New("invalid trade")

// Aggregator keeps one open footprint candle per timeframe plus a bounded history.
// It is not safe for concurrent use; the ingestion loop owns it.
type Aggregator struct {
	timeframes []Timeframe
	grouping   *Grouping
	current    map[Timeframe]*Candle
	history    map[Timeframe]*ring
	lastClose  map[Timeframe]float64
	logger     *zap.Logger
}

// NewAggregator creates an aggregator for the given timeframes. limit bounds the
// finalized candles kept per timeframe.
func NewAggregator(timeframes []Timeframe, grouping *Grouping, limit int, logger *zap.Logger) *Aggregator {
	if grouping == nil {
		grouping, _ = NewGrouping(nil)
	}
	a := &Aggregator{
		timeframes: append([]Timeframe(nil), timeframes...),
		grouping:   grouping,
		current:    make(map[Timeframe]*Candle, len(timeframes)),
		history:    make(map[Timeframe]*ring, len(timeframes)),
		lastClose:  make(map[Timeframe]float64, len(timeframes)),
		logger:     logger,
	}
	for _, tf := range timeframes {
		a.history[tf] = newRing(limit)
	}
	return a
}

// OnTrade folds a trade into every timeframe and returns the timeframes whose
// candle changed. Invalid trades are logged and dropped.
func (a *Aggregator) OnTrade(t model.Trade) []Timeframe {
	if err := validateTrade(t); err != nil {
		a.logger.Warn("dropping trade", zap.Error(err), zap.Int64("time", t.EventTimeMs))
		return nil
	}

	changed := make([]Timeframe, 0, len(a.timeframes))
	for _, tf := range a.timeframes {
		openTime := tf.Floor(t.EventTimeMs)
		candle := a.current[tf]

		switch {
		case candle == nil:
			open := t.Price
			if last, ok := a.lastClose[tf]; ok {
				open = last
			}
			candle = newCandle(tf, openTime, open, t.Price)
			a.current[tf] = candle

		case openTime > candle.OpenTimeMs:
			a.roll(tf, candle, openTime)
			candle = newCandle(tf, openTime, candle.Close, t.Price)
			a.current[tf] = candle

		case openTime < candle.OpenTimeMs:
			a.logger.Debug("dropping late trade",
				zap.String("timeframe", string(tf)),
				zap.Int64("time", t.EventTimeMs),
				zap.Int64("open_time", candle.OpenTimeMs))
			continue
		}

		candle.apply(t.Price, t.Quantity, Bucket(t.Price, a.grouping.Width(tf)), t.IsSellerInitiated)
		a.lastClose[tf] = t.Price
		changed = append(changed, tf)
	}
	return changed
}

// roll finalizes prev and fills every skipped period before nextOpen with a flat
// zero-volume candle. Gap candles beyond the history capacity would be evicted
// immediately, so only the newest ones are produced.
func (a *Aggregator) roll(tf Timeframe, prev *Candle, nextOpen int64) {
	h := a.history[tf]
	h.push(prev)

	d := tf.Millis()
	first := prev.OpenTimeMs + d
	if missing := (nextOpen - first) / d; missing > int64(h.cap()) {
		first = nextOpen - int64(h.cap())*d
	}
	for ts := first; ts < nextOpen; ts += d {
		h.push(gapCandle(tf, ts, prev.Close))
	}
}

// Current returns a copy of the open candle of tf.
func (a *Aggregator) Current(tf Timeframe) (*Candle, bool) {
	c, ok := a.current[tf]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Finalized returns the finalized candles of tf, oldest first. Finalized candles
// are never mutated again, so they are shared rather than copied.
func (a *Aggregator) Finalized(tf Timeframe) []*Candle {
	h, ok := a.history[tf]
	if !ok {
		return nil
	}
	return h.items()
}

// Candles returns the finalized history followed by a copy of the open candle.
func (a *Aggregator) Candles(tf Timeframe) []*Candle {
	out := a.Finalized(tf)
	if c, ok := a.Current(tf); ok {
		out = append(out, c)
	}
	return out
}

// Timeframes returns the configured timeframes.
func (a *Aggregator) Timeframes() []Timeframe {
	return append([]Timeframe(nil), a.timeframes...)
}

// Tracks reports whether tf is one of the configured timeframes.
func (a *Aggregator) Tracks(tf Timeframe) bool {
	_, ok := a.history[tf]
	return ok
}

func (a *Aggregator) Grouping() *Grouping {
	return a.grouping
}

func validateTrade(t model.Trade) error {
	switch {
	case t.EventTimeMs < 0:
		return fmt.Errorf("%w: event time %d", ErrInvalidTrade, t.EventTimeMs)
	case math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0:
		return fmt.Errorf("%w: price %v", ErrInvalidTrade, t.Price)
	case math.IsNaN(t.Quantity) || math.IsInf(t.Quantity, 0) || t.Quantity < 0:
		return fmt.Errorf("%w: quantity %v", ErrInvalidTrade, t.Quantity)
	}
	return nil
}
