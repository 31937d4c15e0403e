package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footprint_feed_messages_total",
		Help: "Feed messages received, by type",
	}, []string{"type"})

	FeedDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footprint_feed_dropped_total",
		Help: "Feed messages dropped, by reason",
	}, []string{"reason"})

	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_feed_reconnects_total",
		Help: "Upstream feed reconnect attempts",
	})

	TradesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_trades_processed_total",
		Help: "Trades folded into candles",
	})

	CandlesFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footprint_candles_finalized_total",
		Help: "Candles closed, by timeframe",
	}, []string{"timeframe"})

	LiquiditySwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_liquidity_swept_total",
		Help: "Book buckets removed by trade sweeps",
	})

	PersistEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_persist_enqueued_total",
		Help: "Liquidity rows accepted by the writer queue",
	})

	PersistDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_persist_dropped_total",
		Help: "Liquidity rows dropped because the writer queue was full",
	})

	PersistFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_persist_rows_flushed_total",
		Help: "Liquidity rows committed to storage",
	})

	PersistFlushErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_persist_flush_errors_total",
		Help: "Failed batch commits",
	})

	PersistFlushLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "footprint_persist_flush_seconds",
		Help:    "Latency of one batch commit",
		Buckets: prometheus.DefBuckets,
	})

	HistoryQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footprint_history_queries_total",
		Help: "Historical heatmap queries, by outcome",
	}, []string{"outcome"})

	HistoryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "footprint_history_query_seconds",
		Help:    "Latency of historical heatmap queries",
		Buckets: prometheus.DefBuckets,
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "footprint_subscribers",
		Help: "Connected downstream subscribers",
	})

	SubscribersEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_subscribers_evicted_total",
		Help: "Subscribers removed after a failed send",
	})

	RetentionPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_retention_prunes_total",
		Help: "Retention prune requests issued",
	})
)
