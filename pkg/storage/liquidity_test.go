package storage_test

import (
	"context"
	"testing"

	"footprint/internal/footprint"
	"footprint/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleUpdates() []model.LiquidityUpdate {
	return []model.LiquidityUpdate{
		{TimestampMs: 1_000, Price: 100.4, Quantity: 2, Side: model.SideBid},
		{TimestampMs: 1_500, Price: 104.9, Quantity: 3, Side: model.SideBid},
		{TimestampMs: 1_900, Price: 112, Quantity: 0.05, Side: model.SideBid},
		{TimestampMs: 2_100, Price: 120, Quantity: 4, Side: model.SideAsk},
		{TimestampMs: 2_200, Price: 121, Quantity: 1, Side: model.SideAsk},
		{TimestampMs: 500, Price: 100, Quantity: 9, Side: model.SideBid},
	}
}

// go test -v --run ^TestQueryHeatmap$
func TestQueryHeatmap(t *testing.T) {
	client := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, client.InsertLiquidityUpdates(ctx, sampleUpdates()))

	got, err := client.QueryHeatmap(ctx, model.HeatmapQuery{StartTimeMs: 1_000, PriceGrouping: 5, MinQuantity: 0.1})
	require.NoError(t, err)

	want := []model.HeatmapBucket{
		{TimeBucketMs: 1_000, PriceBucket: 100, Side: model.SideBid, TotalQuantity: 5},
		{TimeBucketMs: 2_000, PriceBucket: 120, Side: model.SideAsk, TotalQuantity: 5},
	}
	assert.Equal(t, want, got)
}

// go test -v --run ^TestQueryHeatmapFractionalGrouping$
func TestQueryHeatmapFractionalGrouping(t *testing.T) {
	client := openTestSQLite(t)
	ctx := context.Background()

	prices := []float64{100.3, 100.35, 0.3, 67321.7}
	var rows []model.LiquidityUpdate
	for _, p := range prices {
		rows = append(rows, model.LiquidityUpdate{TimestampMs: 1_000, Price: p, Quantity: 1, Side: model.SideBid})
	}
	require.NoError(t, client.InsertLiquidityUpdates(ctx, rows))

	got, err := client.QueryHeatmap(ctx, model.HeatmapQuery{StartTimeMs: 0, PriceGrouping: 0.1, MinQuantity: 0})
	require.NoError(t, err)

	buckets := make(map[float64]float64)
	for _, b := range got {
		buckets[b.PriceBucket] += b.TotalQuantity
	}
	for _, p := range prices {
		assert.Contains(t, buckets, footprint.Bucket(p, 0.1), "price %v", p)
	}
	assert.Equal(t, 2.0, buckets[100.3], "100.3 and 100.35 share the live bucket")
	assert.Len(t, got, 3)
}

// go test -v --run ^TestQueryHeatmapConservesQuantity$
func TestQueryHeatmapConservesQuantity(t *testing.T) {
	client := openTestSQLite(t)
	ctx := context.Background()

	var rows []model.LiquidityUpdate
	var want float64
	for i := 0; i < 300; i++ {
		u := model.LiquidityUpdate{
			TimestampMs: int64(i * 137),
			Price:       1000 + float64(i%41)*0.75,
			Quantity:    float64(i%7) * 0.5,
			Side:        model.SideAsk,
		}
		if i%2 == 0 {
			u.Side = model.SideBid
		}
		rows = append(rows, u)
		if u.TimestampMs >= 5_000 && u.Quantity >= 1 {
			want += u.Quantity
		}
	}
	require.NoError(t, client.InsertLiquidityUpdates(ctx, rows))

	got, err := client.QueryHeatmap(ctx, model.HeatmapQuery{StartTimeMs: 5_000, PriceGrouping: 2.5, MinQuantity: 1})
	require.NoError(t, err)

	var sum float64
	for i, b := range got {
		sum += b.TotalQuantity
		if i > 0 {
			prev := got[i-1]
			assert.True(t, prev.TimeBucketMs <= b.TimeBucketMs, "ordered by time bucket")
		}
		assert.Zero(t, b.TimeBucketMs%1000)
	}
	assert.InDelta(t, want, sum, 1e-9)
}

// go test -v --run ^TestDeleteLiquidityUpdatesBefore$
func TestDeleteLiquidityUpdatesBefore(t *testing.T) {
	client := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, client.InsertLiquidityUpdates(ctx, sampleUpdates()))

	deleted, err := client.DeleteLiquidityUpdatesBefore(ctx, 1_500)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	n, err := client.CountLiquidityUpdates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

// go test -v --run ^TestInsertEmpty$
func TestInsertEmpty(t *testing.T) {
	client := openTestSQLite(t)
	assert.NoError(t, client.InsertLiquidityUpdates(context.Background(), nil))
}
