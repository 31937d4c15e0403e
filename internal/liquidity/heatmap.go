package liquidity

import (
	"math"
	"sort"

	"footprint/internal/footprint"
	"footprint/internal/model"
)

// Block is a run of adjacent filtered buckets rendered as one heatmap cell.
type Block struct {
	High      float64 `json:"high"`      // highest bucket price in the run
	Low       float64 `json:"low"`       // lowest bucket price in the run
	Levels    int     `json:"levels"`    // number of merged buckets
	Quantity  float64 `json:"quantity"`  // summed resting quantity
	Timestamp int64   `json:"timestamp"` // mean last-update time
	Weight    float64 `json:"weight"`    // fade weight in [0,1]
	Intensity float64 `json:"intensity"` // average quantity relative to the book maximum, in [0,1]
}

// Frame is the renderable state of the live heatmap at one instant.
type Frame struct {
	TimestampMs int64   `json:"timestamp"`
	MaxQuantity float64 `json:"max_quantity"`
	Bids        []Block `json:"bids"`
	Asks        []Block `json:"asks"`
}

// Weight is the display weight of an entry: 1 when fresh, falling linearly to 0
// at the fade window.
func (b *Book) Weight(e Entry, nowMs int64) float64 {
	return fade(nowMs-e.LastUpdateMs, b.opts.FadeWindow.Milliseconds())
}

func fade(elapsedMs, windowMs int64) float64 {
	if windowMs <= 0 {
		return 0
	}
	w := 1 - float64(elapsedMs)/float64(windowMs)
	return math.Max(0, math.Min(1, w))
}

// Heatmap prunes filtered entries older than the fade window and returns the
// remaining buckets merged into contiguous blocks, highest price first.
func (b *Book) Heatmap(nowMs int64) Frame {
	if b.prune(nowMs) > 0 {
		b.recomputeMax()
	}
	return Frame{
		TimestampMs: nowMs,
		MaxQuantity: b.maxQty,
		Bids:        b.blocks(model.SideBid, nowMs),
		Asks:        b.blocks(model.SideAsk, nowMs),
	}
}

func (b *Book) prune(nowMs int64) int {
	window := b.opts.FadeWindow.Milliseconds()
	pruned := 0
	for _, side := range b.filtered {
		for p, e := range side {
			if nowMs-e.LastUpdateMs > window {
				delete(side, p)
				pruned++
			}
		}
	}
	return pruned
}

func (b *Book) blocks(side model.Side, nowMs int64) []Block {
	entries := b.filtered[side]
	prices := make([]float64, 0, len(entries))
	for p := range entries {
		prices = append(prices, p)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(prices)))

	out := make([]Block, 0)
	var run []float64
	flush := func() {
		if len(run) > 0 {
			out = append(out, b.merge(entries, run, nowMs))
		}
		run = run[:0]
	}
	for _, p := range prices {
		if len(run) > 0 && !footprint.Adjacent(run[len(run)-1], p, b.opts.Grouping) {
			flush()
		}
		run = append(run, p)
	}
	flush()
	return out
}

// merge collapses a run of adjacent buckets, given highest price first.
func (b *Book) merge(entries map[float64]Entry, run []float64, nowMs int64) Block {
	var qty float64
	var tsSum int64
	for _, p := range run {
		e := entries[p]
		qty += e.Quantity
		tsSum += e.LastUpdateMs
	}
	n := len(run)
	meanTs := tsSum / int64(n)
	avg := qty / float64(n)

	return Block{
		High:      run[0],
		Low:       run[n-1],
		Levels:    n,
		Quantity:  qty,
		Timestamp: meanTs,
		Weight:    fade(nowMs-meanTs, b.opts.FadeWindow.Milliseconds()),
		Intensity: math.Min(avg, b.maxQty) / b.maxQty,
	}
}
