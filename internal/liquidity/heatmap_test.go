package liquidity

import (
	"testing"

	"footprint/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// go test -v --run TestWeight
func TestWeight(t *testing.T) {
	b := newTestBook()
	e := Entry{Quantity: 1, LastUpdateMs: 1_000}

	assert.Equal(t, 1.0, b.Weight(e, 1_000))
	assert.InDelta(t, 0.5, b.Weight(e, 6_000), 1e-9)
	assert.Equal(t, 0.0, b.Weight(e, 11_000))
	assert.Equal(t, 0.0, b.Weight(e, 60_000))
	assert.Equal(t, 1.0, b.Weight(e, 500), "future timestamps clamp to 1")
}

// go test -v --run TestHeatmapMergesAdjacent
func TestHeatmapMergesAdjacent(t *testing.T) {
	b := newTestBook()
	b.ApplyDepthUpdate(0, levels(100, 2, 110, 4, 130, 6), nil)

	frame := b.Heatmap(5_000)
	assert.Equal(t, 6.0, frame.MaxQuantity)
	assert.Empty(t, frame.Asks)
	require.Len(t, frame.Bids, 2)

	top := frame.Bids[0]
	assert.Equal(t, 130.0, top.High)
	assert.Equal(t, 130.0, top.Low)
	assert.Equal(t, 1, top.Levels)
	assert.Equal(t, 1.0, top.Intensity)

	run := frame.Bids[1]
	assert.Equal(t, 110.0, run.High)
	assert.Equal(t, 100.0, run.Low)
	assert.Equal(t, 2, run.Levels)
	assert.Equal(t, 6.0, run.Quantity)
	assert.Equal(t, int64(0), run.Timestamp)
	assert.InDelta(t, 0.5, run.Weight, 1e-9)
	assert.InDelta(t, 0.5, run.Intensity, 1e-9)
}

// go test -v --run TestHeatmapPrunesLazily
func TestHeatmapPrunesLazily(t *testing.T) {
	b := newTestBook()
	b.ApplyDepthUpdate(0, levels(100, 2), nil)
	b.ApplyDepthUpdate(8_000, levels(130, 6), nil)

	f, _ := b.Len(model.SideBid)
	assert.Equal(t, 2, f, "nothing is pruned until a frame is built")

	frame := b.Heatmap(12_000)
	require.Len(t, frame.Bids, 1)
	assert.Equal(t, 130.0, frame.Bids[0].High)

	f, u := b.Len(model.SideBid)
	assert.Equal(t, 1, f)
	assert.Equal(t, 2, u, "the unfiltered view never fades")
}

// go test -v --run TestHeatmapRefreshResetsFade
func TestHeatmapRefreshResetsFade(t *testing.T) {
	b := newTestBook()
	b.ApplyDepthUpdate(0, levels(100, 2), nil)
	b.ApplyDepthUpdate(9_000, levels(101, 3), nil)

	frame := b.Heatmap(15_000)
	require.Len(t, frame.Bids, 1)
	assert.Equal(t, int64(9_000), frame.Bids[0].Timestamp)
	assert.Equal(t, 3.0, frame.Bids[0].Quantity)
}

// go test -v --run TestDepth
func TestDepth(t *testing.T) {
	b := newTestBook()
	b.ApplyDepthUpdate(0, levels(100, 0.5, 110, 2, 130, 6), levels(150, 1))

	d := b.Depth(20)
	assert.Equal(t, 20.0, d.Grouping)
	assert.Equal(t, [][2]float64{{120, 6}, {100, 2.5}}, d.Bids)
	assert.Equal(t, [][2]float64{{140, 1}}, d.Asks)

	assert.Equal(t, 1.0, b.Depth(0).Grouping)
}
