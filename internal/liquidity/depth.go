package liquidity

import (
	"sort"

	"footprint/internal/footprint"
	"footprint/internal/model"
)

// DepthProfile is the unfiltered book re-bucketed to a coarser width, each row
// a [price, quantity] pair, highest price first.
type DepthProfile struct {
	Grouping float64      `json:"grouping"`
	Bids     [][2]float64 `json:"bids"`
	Asks     [][2]float64 `json:"asks"`
}

// Depth sums the unfiltered view into buckets of the given width. The fade window
// does not apply: the profile shows everything currently resting.
func (b *Book) Depth(width float64) DepthProfile {
	if width <= 0 {
		width = 1
	}
	return DepthProfile{
		Grouping: width,
		Bids:     aggregate(b.unfiltered[model.SideBid], width),
		Asks:     aggregate(b.unfiltered[model.SideAsk], width),
	}
}

func aggregate(entries map[float64]Entry, width float64) [][2]float64 {
	sums := make(map[float64]float64)
	for p, e := range entries {
		sums[footprint.Bucket(p, width)] += e.Quantity
	}
	out := make([][2]float64, 0, len(sums))
	for p, q := range sums {
		out = append(out, [2]float64{p, q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] > out[j][0] })
	return out
}
