package engine

import (
	"footprint/internal/footprint"
	"footprint/internal/liquidity"
	"footprint/internal/model"
)

// Downstream message types.
const (
	MsgUpdate      = "update"
	MsgFullData    = "full_data"
	MsgFullHeatmap = "full_heatmap"
	MsgLiveHeatmap = "live_heatmap"
	MsgError       = "error"
)

// Subscriber request types.
const (
	ReqTimeframe      = "request_timeframe"
	ReqUpdateSettings = "update_settings"
)

const (
	defaultMaxCandles   = 200
	defaultMinLiquidity = 0.1
)

type request struct {
	Type      string `json:"type"`
	Timeframe string `json:"timeframe"`

	// request_timeframe
	MaxCandles   *int     `json:"max_candles"`
	MinLiquidity *float64 `json:"min_liquidity"`

	// update_settings
	PriceGrouping      map[string]float64 `json:"price_grouping"`
	LiquidityGrouping  *float64           `json:"liquidity_grouping"`
	MinLiquidityToShow *float64           `json:"min_liquidity_to_show"`
}

type updateMessage struct {
	Type string                       `json:"type"`
	Data map[string]*footprint.Candle `json:"data"`
}

type fullDataMessage struct {
	Type      string              `json:"type"`
	Timeframe string              `json:"timeframe"`
	Data      []*footprint.Candle `json:"data"`
}

type fullHeatmapMessage struct {
	Type      string                `json:"type"`
	Timeframe string                `json:"timeframe"`
	Data      []model.HeatmapBucket `json:"data"`
}

type liveHeatmapMessage struct {
	Type        string                 `json:"type"`
	Timestamp   int64                  `json:"timestamp"`
	MaxQuantity float64                `json:"max_quantity"`
	Bids        []liquidity.Block      `json:"bids"`
	Asks        []liquidity.Block      `json:"asks"`
	COB         liquidity.DepthProfile `json:"cob"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
