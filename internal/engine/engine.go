package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"footprint/internal/feed"
	"footprint/internal/footprint"
	"footprint/internal/hub"
	"footprint/internal/liquidity"
	"footprint/internal/metrics"
	"footprint/internal/model"

	"go.uber.org/zap"
)

var ErrStopped = errors.New("engine: loop stopped")

// Sink accepts liquidity rows for persistence without blocking.
type Sink interface {
	TryEnqueue(rows ...model.LiquidityUpdate) int
}

// Historian answers historical heatmap queries asynchronously.
type Historian interface {
	Submit(q model.HeatmapQuery, deliver func([]model.HeatmapBucket)) bool
}

// Broadcaster fans messages out to every subscriber.
type Broadcaster interface {
	Publish(msg []byte)
	Len() int
}

type Options struct {
	SweepTimeframe    footprint.Timeframe
	HeatmapTimeframes []footprint.Timeframe
	LookbackPadding   int
	LivePushInterval  time.Duration
	DepthGrouping     float64
	InboxSize         int
}

// Engine is the single-threaded ingestion context. The aggregator and the book are
// touched only by the Run goroutine; everything else reaches them through the
// inbox or Do.
type Engine struct {
	agg     *footprint.Aggregator
	book    *liquidity.Book
	hub     Broadcaster
	sink    Sink
	history Historian
	opts    Options
	logger  *zap.Logger

	heatmapTFs map[footprint.Timeframe]bool
	inbox      chan []byte
	cmds       chan func()
	done       chan struct{}

	now func() time.Time
}

func New(agg *footprint.Aggregator, book *liquidity.Book, b Broadcaster, sink Sink, history Historian, opts Options, logger *zap.Logger) *Engine {
	if opts.SweepTimeframe == "" {
		opts.SweepTimeframe = footprint.Timeframe1Min
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 4096
	}
	if opts.DepthGrouping <= 0 {
		opts.DepthGrouping = book.Options().Grouping * 5
	}
	tfs := make(map[footprint.Timeframe]bool, len(opts.HeatmapTimeframes))
	for _, tf := range opts.HeatmapTimeframes {
		tfs[tf] = true
	}
	return &Engine{
		agg:        agg,
		book:       book,
		hub:        b,
		sink:       sink,
		history:    history,
		opts:       opts,
		logger:     logger.Named("engine"),
		heatmapTFs: tfs,
		inbox:      make(chan []byte, opts.InboxSize),
		cmds:       make(chan func(), 64),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run processes feed messages, commands and live pushes until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	var tick <-chan time.Time
	if e.opts.LivePushInterval > 0 {
		ticker := time.NewTicker(e.opts.LivePushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	e.logger.Info("engine started",
		zap.String("sweep_timeframe", string(e.opts.SweepTimeframe)),
		zap.Duration("live_push_interval", e.opts.LivePushInterval))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return
		case msg := <-e.inbox:
			e.HandleFeedMessage(msg)
		case fn := <-e.cmds:
			// commands observe every message ingested before them
			e.drainInbox()
			fn()
		case <-tick:
			e.pushLiveHeatmap()
		}
	}
}

func (e *Engine) drainInbox() {
	for {
		select {
		case msg := <-e.inbox:
			e.HandleFeedMessage(msg)
		default:
			return
		}
	}
}

// Ingest hands a raw feed message to the loop. It blocks while the inbox is full
// and returns immediately once the loop has stopped.
func (e *Engine) Ingest(msg []byte) {
	select {
	case e.inbox <- msg:
	case <-e.done:
	}
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}
	select {
	case e.cmds <- cmd:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleRequest queues a subscriber request for the loop.
func (e *Engine) HandleRequest(sub hub.Subscriber, raw []byte) {
	cmd := func() { e.handleRequest(sub, raw) }
	select {
	case e.cmds <- cmd:
	case <-e.done:
	}
}

// Candles returns the candles of tf, oldest first, read on the loop.
func (e *Engine) Candles(ctx context.Context, tf footprint.Timeframe) ([]*footprint.Candle, error) {
	if !e.agg.Tracks(tf) {
		return nil, fmt.Errorf("%w: %s not configured", footprint.ErrUnknownTimeframe, tf)
	}
	res := make(chan []*footprint.Candle, 1)
	if err := e.Do(ctx, func() { res <- e.agg.Candles(tf) }); err != nil {
		return nil, err
	}
	return <-res, nil
}

// HandleFeedMessage applies one upstream message. Malformed or unknown messages
// are logged and dropped.
func (e *Engine) HandleFeedMessage(raw []byte) {
	env, err := feed.DecodeEnvelope(raw)
	if err != nil {
		e.dropFeed("malformed", err)
		return
	}
	metrics.FeedMessages.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case feed.TypeTrade:
		trade, err := env.Trade()
		if err != nil {
			e.dropFeed("malformed", err)
			return
		}
		e.onTrade(trade)

	case feed.TypeLiquidityRaw:
		ts, bids, asks, err := env.Depth()
		if err != nil {
			e.dropFeed("malformed", err)
			return
		}
		e.sink.TryEnqueue(model.UpdatesFromLevels(ts, bids, asks)...)
		e.book.ApplyDepthUpdate(ts, bids, asks)
		e.hub.Publish(raw)

	default:
		e.dropFeed("unknown_type", fmt.Errorf("unknown message type %q", env.Type))
	}
}

func (e *Engine) dropFeed(reason string, err error) {
	metrics.FeedDropped.WithLabelValues(reason).Inc()
	e.logger.Warn("dropping feed message", zap.String("reason", reason), zap.Error(err))
}

func (e *Engine) onTrade(t model.Trade) {
	opened := make(map[footprint.Timeframe]int64)
	for _, tf := range e.agg.Timeframes() {
		if c, ok := e.agg.Current(tf); ok {
			opened[tf] = c.OpenTimeMs
		}
	}

	changed := e.agg.OnTrade(t)
	if len(changed) == 0 {
		return
	}
	metrics.TradesProcessed.Inc()

	data := make(map[string]*footprint.Candle, len(changed))
	for _, tf := range changed {
		c, _ := e.agg.Current(tf)
		data[string(tf)] = c
		if prev, ok := opened[tf]; ok && prev != c.OpenTimeMs {
			metrics.CandlesFinalized.WithLabelValues(string(tf)).Inc()
		}
	}
	e.publish(updateMessage{Type: MsgUpdate, Data: data})

	if c, ok := e.agg.Current(e.opts.SweepTimeframe); ok {
		if n := e.book.Sweep(c.Low, c.High); n > 0 {
			metrics.LiquiditySwept.Add(float64(n))
		}
	}
}

func (e *Engine) handleRequest(sub hub.Subscriber, raw []byte) {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		e.reply(sub, errorMessage{Type: MsgError, Message: "malformed request"})
		return
	}

	switch req.Type {
	case ReqTimeframe:
		e.requestTimeframe(sub, req)
	case ReqUpdateSettings:
		e.updateSettings(req)
	default:
		e.logger.Debug("unknown request", zap.String("type", req.Type), zap.String("subscriber", sub.ID()))
		e.reply(sub, errorMessage{Type: MsgError, Message: fmt.Sprintf("unknown request type %q", req.Type)})
	}
}

func (e *Engine) requestTimeframe(sub hub.Subscriber, req request) {
	tf, err := footprint.ParseTimeframe(req.Timeframe)
	if err != nil || !e.agg.Tracks(tf) {
		e.reply(sub, errorMessage{Type: MsgError, Message: fmt.Sprintf("unknown timeframe %q", req.Timeframe)})
		return
	}

	e.reply(sub, fullDataMessage{Type: MsgFullData, Timeframe: string(tf), Data: e.agg.Candles(tf)})

	if !e.heatmapTFs[tf] || e.history == nil {
		return
	}

	maxCandles := defaultMaxCandles
	if req.MaxCandles != nil && *req.MaxCandles > 0 {
		maxCandles = *req.MaxCandles
	}
	minLiq := defaultMinLiquidity
	if req.MinLiquidity != nil && *req.MinLiquidity >= 0 {
		minLiq = *req.MinLiquidity
	}
	q := model.HeatmapQuery{
		StartTimeMs:   e.now().UnixMilli() - int64(maxCandles+e.opts.LookbackPadding)*tf.Millis(),
		PriceGrouping: e.agg.Grouping().Width(tf),
		MinQuantity:   minLiq,
	}
	e.logger.Debug("querying heatmap history",
		zap.String("timeframe", string(tf)),
		zap.Int64("start_ms", q.StartTimeMs),
		zap.Float64("grouping", q.PriceGrouping))

	// delivered on a history worker; Send is safe from any goroutine
	e.history.Submit(q, func(buckets []model.HeatmapBucket) {
		e.reply(sub, fullHeatmapMessage{Type: MsgFullHeatmap, Timeframe: string(tf), Data: buckets})
	})
}

func (e *Engine) updateSettings(req request) {
	if len(req.PriceGrouping) > 0 {
		for _, err := range e.agg.Grouping().Merge(req.PriceGrouping) {
			e.logger.Warn("ignoring price grouping", zap.Error(err))
		}
		e.logger.Info("price grouping updated", zap.Any("price_grouping", e.agg.Grouping().Snapshot()))
	}
	if req.LiquidityGrouping != nil && *req.LiquidityGrouping > 0 {
		e.book.SetGrouping(*req.LiquidityGrouping)
		e.logger.Info("liquidity grouping updated", zap.Float64("grouping", *req.LiquidityGrouping))
	}
	if req.MinLiquidityToShow != nil && *req.MinLiquidityToShow >= 0 {
		e.book.SetMinLiquidity(*req.MinLiquidityToShow)
		e.logger.Info("min liquidity updated", zap.Float64("min_liquidity", *req.MinLiquidityToShow))
	}
}

func (e *Engine) pushLiveHeatmap() {
	if e.hub.Len() == 0 {
		return
	}
	frame := e.book.Heatmap(e.now().UnixMilli())
	e.publish(liveHeatmapMessage{
		Type:        MsgLiveHeatmap,
		Timestamp:   frame.TimestampMs,
		MaxQuantity: frame.MaxQuantity,
		Bids:        frame.Bids,
		Asks:        frame.Asks,
		COB:         e.book.Depth(e.opts.DepthGrouping),
	})
}

func (e *Engine) publish(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		e.logger.Error("marshal broadcast", zap.Error(err))
		return
	}
	e.hub.Publish(msg)
}

func (e *Engine) reply(sub hub.Subscriber, v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		e.logger.Error("marshal reply", zap.Error(err))
		return
	}
	if !sub.Send(msg) {
		e.logger.Debug("reply dropped", zap.String("subscriber", sub.ID()))
	}
}
