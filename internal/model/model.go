package model

// Side of the order book a level or update belongs to.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Trade is a single market execution from the upstream feed.
type Trade struct {
	EventTimeMs       int64   // execution time (ms since epoch)
	Price             float64 // execution price
	Quantity          float64 // executed quantity
	IsSellerInitiated bool    // true when the buyer was the maker, i.e. a resting bid was hit
}

// PriceLevel is one (price, quantity) pair of a depth update.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// LiquidityUpdate is the persisted, raw-resolution record of one book level update.
type LiquidityUpdate struct {
	TimestampMs int64
	Price       float64
	Quantity    float64
	Side        Side
}

// HeatmapQuery selects persisted liquidity for a historical heatmap.
type HeatmapQuery struct {
	StartTimeMs   int64
	PriceGrouping float64
	MinQuantity   float64
}

// HeatmapBucket is one aggregated cell of a historical heatmap.
type HeatmapBucket struct {
	TimeBucketMs  int64   `json:"time_bucket"`
	PriceBucket   float64 `json:"price_bucket"`
	Side          Side    `json:"side"`
	TotalQuantity float64 `json:"total_quantity"`
}

// UpdatesFromLevels expands a depth batch into one LiquidityUpdate per level.
func UpdatesFromLevels(timestampMs int64, bids, asks []PriceLevel) []LiquidityUpdate {
	out := make([]LiquidityUpdate, 0, len(bids)+len(asks))
	for _, l := range bids {
		out = append(out, LiquidityUpdate{TimestampMs: timestampMs, Price: l.Price, Quantity: l.Quantity, Side: SideBid})
	}
	for _, l := range asks {
		out = append(out, LiquidityUpdate{TimestampMs: timestampMs, Price: l.Price, Quantity: l.Quantity, Side: SideAsk})
	}
	return out
}
