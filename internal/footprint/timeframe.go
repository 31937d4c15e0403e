package footprint

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownTimeframe is returned for timeframe keys outside the supported table.
var ErrUnknownTimeframe = errors.New("unknown timeframe")

// Timeframe is the wire key of a candle timeframe, e.g. "1M" or "4H".
type Timeframe string

// timeframeMeta holds the duration and default footprint grouping of a timeframe.
type timeframeMeta struct {
	Duration        time.Duration
	DefaultGrouping float64
}

const (
	Timeframe1Min  Timeframe = "1M"
	Timeframe5Min  Timeframe = "5M"
	Timeframe15Min Timeframe = "15M"
	Timeframe1H    Timeframe = "1H"
	Timeframe4H    Timeframe = "4H"
	Timeframe1D    Timeframe = "1D"
)

var validTimeframes = map[Timeframe]timeframeMeta{
	Timeframe1Min:  {Duration: time.Minute, DefaultGrouping: 5},
	Timeframe5Min:  {Duration: 5 * time.Minute, DefaultGrouping: 15},
	Timeframe15Min: {Duration: 15 * time.Minute, DefaultGrouping: 25},
	Timeframe1H:    {Duration: time.Hour, DefaultGrouping: 35},
	Timeframe4H:    {Duration: 4 * time.Hour, DefaultGrouping: 100},
	Timeframe1D:    {Duration: 24 * time.Hour, DefaultGrouping: 250},
}

// AllTimeframes lists the supported timeframes from finest to coarsest.
func AllTimeframes() []Timeframe {
	return []Timeframe{Timeframe1Min, Timeframe5Min, Timeframe15Min, Timeframe1H, Timeframe4H, Timeframe1D}
}

// ParseTimeframe accepts keys case-insensitively ("1m" and "1M" are the same).
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := validTimeframes[tf]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTimeframe, s)
	}
	return tf, nil
}

// ParseTimeframes parses a list, failing on the first unknown key. Repeated keys
// ("1M" and "1m") collapse to the first occurrence.
func ParseTimeframes(keys []string) ([]Timeframe, error) {
	out := make([]Timeframe, 0, len(keys))
	seen := make(map[Timeframe]struct{}, len(keys))
	for _, k := range keys {
		tf, err := ParseTimeframe(k)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[tf]; dup {
			continue
		}
		seen[tf] = struct{}{}
		out = append(out, tf)
	}
	return out, nil
}

// Contains reports whether tf is in list.
func Contains(list []Timeframe, tf Timeframe) bool {
	for _, t := range list {
		if t == tf {
			return true
		}
	}
	return false
}

func (t Timeframe) IsValid() bool {
	_, ok := validTimeframes[t]
	return ok
}

func (t Timeframe) Duration() time.Duration {
	return validTimeframes[t].Duration
}

// Millis is the timeframe length in milliseconds.
func (t Timeframe) Millis() int64 {
	return t.Duration().Milliseconds()
}

// DefaultGrouping is the footprint price grouping used until overridden at runtime.
func (t Timeframe) DefaultGrouping() float64 {
	return validTimeframes[t].DefaultGrouping
}

// Floor returns the open time of the candle containing ms, aligned to the Unix epoch.
func (t Timeframe) Floor(ms int64) int64 {
	d := t.Millis()
	if d <= 0 {
		return ms
	}
	r := ms % d
	if r < 0 {
		r += d
	}
	return ms - r
}
