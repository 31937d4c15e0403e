package history

import (
	"context"
	"sync"
	"time"

	"footprint/internal/metrics"
	"footprint/internal/model"

	"go.uber.org/zap"
)

// Reader is the read side of the liquidity history database.
type Reader interface {
	QueryHeatmap(ctx context.Context, q model.HeatmapQuery) ([]model.HeatmapBucket, error)
}

type Options struct {
	Workers      int
	QueueSize    int
	QueryTimeout time.Duration
}

type request struct {
	query   model.HeatmapQuery
	deliver func([]model.HeatmapBucket)
}

// Engine answers historical heatmap queries on a small worker pool so the
// ingestion loop never waits on the database.
type Engine struct {
	reader Reader
	opts   Options
	logger *zap.Logger

	jobs chan request
	wg   sync.WaitGroup
}

func NewEngine(reader Reader, opts Options, logger *zap.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	return &Engine{
		reader: reader,
		opts:   opts,
		logger: logger.Named("history"),
		jobs:   make(chan request, opts.QueueSize),
	}
}

func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	e.logger.Info("started history workers", zap.Int("workers", e.opts.Workers))
}

// Wait blocks until every worker has exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Submit queues a query; deliver runs on a worker goroutine with the result. When the
// queue is full deliver is called at once with an empty result and Submit reports false.
func (e *Engine) Submit(q model.HeatmapQuery, deliver func([]model.HeatmapBucket)) bool {
	select {
	case e.jobs <- request{query: q, deliver: deliver}:
		return true
	default:
		metrics.HistoryQueries.WithLabelValues("rejected").Inc()
		e.logger.Warn("history queue full, query rejected", zap.Int64("start_ms", q.StartTimeMs))
		deliver([]model.HeatmapBucket{})
		return false
	}
}

// Query runs q synchronously on the caller's goroutine. Errors yield an empty result.
func (e *Engine) Query(ctx context.Context, q model.HeatmapQuery) []model.HeatmapBucket {
	ctx, cancel := context.WithTimeout(ctx, e.opts.QueryTimeout)
	defer cancel()

	start := time.Now()
	buckets, err := e.reader.QueryHeatmap(ctx, q)
	metrics.HistoryLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HistoryQueries.WithLabelValues("error").Inc()
		e.logger.Error("history query failed",
			zap.Int64("start_ms", q.StartTimeMs),
			zap.Float64("grouping", q.PriceGrouping),
			zap.Error(err),
		)
		return []model.HeatmapBucket{}
	}
	metrics.HistoryQueries.WithLabelValues("ok").Inc()
	if buckets == nil {
		buckets = []model.HeatmapBucket{}
	}
	return buckets
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.jobs:
			buckets := e.Query(ctx, req.query)
			e.logger.Debug("history query done", zap.Int("worker_id", id), zap.Int("buckets", len(buckets)))
			req.deliver(buckets)
		}
	}
}
