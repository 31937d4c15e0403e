package liquidity

import (
	"math"
	"time"

	"footprint/internal/footprint"
	"footprint/internal/model"
)

// Entry is the latest resting quantity seen for one price bucket.
type Entry struct {
	Quantity     float64
	LastUpdateMs int64
}

// view maps bucketed price to entry for each side.
type view map[model.Side]map[float64]Entry

func newView() view {
	return view{
		model.SideBid: make(map[float64]Entry),
		model.SideAsk: make(map[float64]Entry),
	}
}

type Options struct {
	Grouping     float64       // price bucket width of the live book
	MinLiquidity float64       // quantity needed to enter the filtered view
	FadeWindow   time.Duration // age at which an entry's display weight reaches zero
}

// Book is the live order book behind the heatmap. It keeps an unfiltered view of
// every non-zero bucket and a filtered view of buckets at or above MinLiquidity.
// It is not safe for concurrent use; the ingestion loop owns it.
type Book struct {
	opts       Options
	unfiltered view
	filtered   view
	maxQty     float64
}

func NewBook(opts Options) *Book {
	if opts.Grouping <= 0 {
		opts.Grouping = 1
	}
	if opts.FadeWindow <= 0 {
		opts.FadeWindow = 15 * time.Minute
	}
	return &Book{
		opts:       opts,
		unfiltered: newView(),
		filtered:   newView(),
		maxQty:     1,
	}
}

// ApplyDepthUpdate folds a depth batch into both views. Each level overwrites its
// bucket (last write wins); a zero quantity removes the bucket from both views.
func (b *Book) ApplyDepthUpdate(timestampMs int64, bids, asks []model.PriceLevel) {
	b.applySide(model.SideBid, timestampMs, bids)
	b.applySide(model.SideAsk, timestampMs, asks)
	b.recomputeMax()
}

func (b *Book) applySide(side model.Side, ts int64, levels []model.PriceLevel) {
	unfiltered, filtered := b.unfiltered[side], b.filtered[side]
	for _, l := range levels {
		if !validLevel(l) {
			continue
		}
		bucket := footprint.Bucket(l.Price, b.opts.Grouping)
		entry := Entry{Quantity: l.Quantity, LastUpdateMs: ts}

		if l.Quantity == 0 {
			delete(unfiltered, bucket)
		} else {
			unfiltered[bucket] = entry
		}

		if l.Quantity < b.opts.MinLiquidity || l.Quantity == 0 {
			delete(filtered, bucket)
		} else {
			filtered[bucket] = entry
		}
	}
}

// validLevel rejects levels that would poison the max quantity or the bucket grid.
func validLevel(l model.PriceLevel) bool {
	finite := func(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
	return finite(l.Price) && finite(l.Quantity) && l.Price > 0 && l.Quantity >= 0
}

// Sweep removes every bucket priced within [low, high] from both views and both
// sides. A zero bound means there is no candle range yet and is ignored.
func (b *Book) Sweep(low, high float64) int {
	if low == 0 || high == 0 {
		return 0
	}
	removed := 0
	for _, v := range []view{b.unfiltered, b.filtered} {
		for _, side := range v {
			for p := range side {
				if p >= low && p <= high {
					delete(side, p)
					removed++
				}
			}
		}
	}
	if removed > 0 {
		b.recomputeMax()
	}
	return removed
}

// MaxQuantity is the largest filtered quantity on either side, or 1 when empty.
func (b *Book) MaxQuantity() float64 {
	return b.maxQty
}

func (b *Book) recomputeMax() {
	max := 0.0
	for _, side := range b.filtered {
		for _, e := range side {
			if e.Quantity > max {
				max = e.Quantity
			}
		}
	}
	if max == 0 {
		max = 1
	}
	b.maxQty = max
}

// Lookup returns the filtered and unfiltered entries of a bucket.
func (b *Book) Lookup(side model.Side, bucket float64) (filtered, unfiltered Entry, inFiltered, inUnfiltered bool) {
	filtered, inFiltered = b.filtered[side][bucket]
	unfiltered, inUnfiltered = b.unfiltered[side][bucket]
	return
}

// Len returns the number of buckets per view for one side.
func (b *Book) Len(side model.Side) (filtered, unfiltered int) {
	return len(b.filtered[side]), len(b.unfiltered[side])
}

func (b *Book) Options() Options {
	return b.opts
}

// SetGrouping changes the bucket width. Buckets of the old grid cannot be mapped
// onto the new one, so the book starts empty.
func (b *Book) SetGrouping(width float64) {
	if width <= 0 || width == b.opts.Grouping {
		return
	}
	b.opts.Grouping = width
	b.unfiltered = newView()
	b.filtered = newView()
	b.recomputeMax()
}

// SetMinLiquidity changes the filter threshold and rebuilds the filtered view from
// the unfiltered one.
func (b *Book) SetMinLiquidity(min float64) {
	if min < 0 {
		return
	}
	b.opts.MinLiquidity = min
	b.filtered = newView()
	for side, entries := range b.unfiltered {
		for p, e := range entries {
			if e.Quantity >= min {
				b.filtered[side][p] = e
			}
		}
	}
	b.recomputeMax()
}
