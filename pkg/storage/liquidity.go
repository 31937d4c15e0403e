package storage

import (
	"context"
	"fmt"

	"footprint/internal/footprint"
	"footprint/internal/model"

	"gorm.io/gorm"
)

const insertBatchSize = 500

// InsertLiquidityUpdates writes the rows in a single transaction.
func (c *Client) InsertLiquidityUpdates(ctx context.Context, updates []model.LiquidityUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	records := make([]LiquidityUpdateRecord, len(updates))
	for i, u := range updates {
		records[i] = ToLiquidityUpdateRecord(u)
	}

	return c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(records, insertBatchSize).Error; err != nil {
			return fmt.Errorf("insert %d liquidity updates: %w", len(records), err)
		}
		return nil
	})
}

// Checkpoint folds the SQLite write-ahead log back into the main file so readers on
// other handles see a compact database. PostgreSQL needs nothing.
func (c *Client) Checkpoint(ctx context.Context) error {
	if c.dialect != DialectSQLite {
		return nil
	}
	if err := c.DB.WithContext(ctx).Exec("PRAGMA wal_checkpoint(PASSIVE)").Error; err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// DeleteLiquidityUpdatesBefore removes rows older than the cutoff and reports how many.
func (c *Client) DeleteLiquidityUpdatesBefore(ctx context.Context, cutoffMs int64) (int64, error) {
	tx := c.DB.WithContext(ctx).
		Where("timestamp_ms < ?", cutoffMs).
		Delete(&LiquidityUpdateRecord{})
	if tx.Error != nil {
		return 0, fmt.Errorf("delete liquidity updates before %d: %w", cutoffMs, tx.Error)
	}
	return tx.RowsAffected, nil
}

type heatmapRow struct {
	TimeBucket    int64   `gorm:"column:time_bucket"`
	PriceBucket   float64 `gorm:"column:price_bucket"`
	Side          string  `gorm:"column:side"`
	TotalQuantity float64 `gorm:"column:total_quantity"`
}

// bucketEpsilon absorbs binary rounding of price/width so that e.g. 100.3/0.1 does
// not truncate to 1002.
const bucketEpsilon = 1e-7

func (c *Client) priceBucketExpr() string {
	if c.dialect == DialectPostgres {
		return "FLOOR(price / ? + ?) * ?"
	}
	// prices are positive, so truncation is floor
	return "CAST(price / ? + ? AS INTEGER) * ?"
}

// QueryHeatmap aggregates persisted updates into one-second, price-grouped buckets.
func (c *Client) QueryHeatmap(ctx context.Context, q model.HeatmapQuery) ([]model.HeatmapBucket, error) {
	width := q.PriceGrouping
	if width <= 0 {
		width = 1
	}

	sql := fmt.Sprintf(`SELECT (timestamp_ms / 1000) * 1000 AS time_bucket,
       %s AS price_bucket,
       side,
       SUM(quantity) AS total_quantity
FROM liquidity_updates
WHERE timestamp_ms >= ? AND quantity >= ?
GROUP BY time_bucket, price_bucket, side
ORDER BY time_bucket, price_bucket, side`, c.priceBucketExpr())

	var rows []heatmapRow
	err := c.DB.WithContext(ctx).
		Raw(sql, width, bucketEpsilon, width, q.StartTimeMs, q.MinQuantity).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query heatmap: %w", err)
	}

	// Snap the SQL product (e.g. 100.30000000000001) onto the exact live grid.
	// Rows that land on the same key are summed; ordering is preserved.
	out := make([]model.HeatmapBucket, 0, len(rows))
	index := make(map[model.HeatmapBucket]int, len(rows))
	for _, r := range rows {
		key := model.HeatmapBucket{
			TimeBucketMs: r.TimeBucket,
			PriceBucket:  footprint.Bucket(r.PriceBucket+width*bucketEpsilon, width),
			Side:         model.Side(r.Side),
		}
		if i, ok := index[key]; ok {
			out[i].TotalQuantity += r.TotalQuantity
			continue
		}
		index[key] = len(out)
		key.TotalQuantity = r.TotalQuantity
		out = append(out, key)
	}
	return out, nil
}

// CountLiquidityUpdates returns the number of stored rows.
func (c *Client) CountLiquidityUpdates(ctx context.Context) (int64, error) {
	var n int64
	if err := c.DB.WithContext(ctx).Model(&LiquidityUpdateRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count liquidity updates: %w", err)
	}
	return n, nil
}
