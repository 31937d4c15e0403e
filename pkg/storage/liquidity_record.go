package storage

import "footprint/internal/model"

// LiquidityUpdateRecord is one persisted depth level update.
type LiquidityUpdateRecord struct {
	TimestampMs int64   `gorm:"column:timestamp_ms;not null;index:idx_liquidity_timestamp"`
	Price       float64 `gorm:"column:price;type:double precision;not null"`
	Quantity    float64 `gorm:"column:quantity;type:double precision;not null"`
	Side        string  `gorm:"column:side;type:varchar(4);not null"`
}

// TableName overrides the default table name for GORM.
func (LiquidityUpdateRecord) TableName() string {
	return "liquidity_updates"
}

func ToLiquidityUpdateRecord(u model.LiquidityUpdate) LiquidityUpdateRecord {
	return LiquidityUpdateRecord{
		TimestampMs: u.TimestampMs,
		Price:       u.Price,
		Quantity:    u.Quantity,
		Side:        string(u.Side),
	}
}
