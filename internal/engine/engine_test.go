package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"footprint/internal/footprint"
	"footprint/internal/liquidity"
	"footprint/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHub struct {
	mu   sync.Mutex
	msgs [][]byte
	subs int
}

func (h *fakeHub) Publish(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

func (h *fakeHub) Len() int { return h.subs }

func (h *fakeHub) published() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.msgs...)
}

type fakeSink struct {
	rows []model.LiquidityUpdate
}

func (s *fakeSink) TryEnqueue(rows ...model.LiquidityUpdate) int {
	s.rows = append(s.rows, rows...)
	return len(rows)
}

type fakeHistory struct {
	queries []model.HeatmapQuery
	result  []model.HeatmapBucket
}

func (f *fakeHistory) Submit(q model.HeatmapQuery, deliver func([]model.HeatmapBucket)) bool {
	f.queries = append(f.queries, q)
	deliver(f.result)
	return true
}

type fakeSub struct {
	mu  sync.Mutex
	got []map[string]any
}

func (s *fakeSub) ID() string { return "sub-1" }

func (s *fakeSub) Send(msg []byte) bool {
	var m map[string]any
	if err := json.Unmarshal(msg, &m); err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, m)
	return true
}

func (s *fakeSub) Close() {}

func (s *fakeSub) messages() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.got...)
}

type fixture struct {
	engine  *Engine
	hub     *fakeHub
	sink    *fakeSink
	history *fakeHistory
	book    *liquidity.Book
	agg     *footprint.Aggregator
}

var testNow = time.UnixMilli(1_700_000_000_000)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	grouping, errs := footprint.NewGrouping(nil)
	require.Empty(t, errs)
	agg := footprint.NewAggregator([]footprint.Timeframe{footprint.Timeframe1Min, footprint.Timeframe15Min}, grouping, 200, zap.NewNop())
	book := liquidity.NewBook(liquidity.Options{Grouping: 10, MinLiquidity: 0.1, FadeWindow: time.Minute})

	f := &fixture{hub: &fakeHub{}, sink: &fakeSink{}, history: &fakeHistory{result: []model.HeatmapBucket{}}, book: book, agg: agg}
	f.engine = New(agg, book, f.hub, f.sink, f.history, Options{
		SweepTimeframe:    footprint.Timeframe1Min,
		HeatmapTimeframes: []footprint.Timeframe{footprint.Timeframe1Min},
		LookbackPadding:   5,
		DepthGrouping:     50,
	}, zap.NewNop())
	f.engine.now = func() time.Time { return testNow }
	return f
}

func decode(t *testing.T, msg []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(msg, &m))
	return m
}

// go test -v --run TestTradePublishesUpdateAndSweeps
func TestTradePublishesUpdateAndSweeps(t *testing.T) {
	f := newFixture(t)
	f.book.ApplyDepthUpdate(0, []model.PriceLevel{{Price: 101, Quantity: 3}, {Price: 111, Quantity: 2}, {Price: 125, Quantity: 4}}, nil)

	f.engine.HandleFeedMessage([]byte(`{"type":"trade","data":{"T":60000,"p":"95","q":"1","m":true}}`))
	f.engine.HandleFeedMessage([]byte(`{"type":"trade","data":{"T":61000,"p":"112","q":"2","m":false}}`))

	msgs := f.hub.published()
	require.Len(t, msgs, 2)
	update := decode(t, msgs[1])
	assert.Equal(t, MsgUpdate, update["type"])
	data := update["data"].(map[string]any)
	assert.Contains(t, data, "1M")
	assert.Contains(t, data, "15M")
	assert.Equal(t, 112.0, data["1M"].(map[string]any)["high"])

	_, _, _, in100 := f.book.Lookup(model.SideBid, 100)
	_, _, _, in110 := f.book.Lookup(model.SideBid, 110)
	_, _, _, in120 := f.book.Lookup(model.SideBid, 120)
	assert.False(t, in100)
	assert.False(t, in110)
	assert.True(t, in120)
}

// go test -v --run TestLiquidityRawPersistsAppliesAndForwards
func TestLiquidityRawPersistsAppliesAndForwards(t *testing.T) {
	f := newFixture(t)
	raw := []byte(`{"type":"liquidity_raw","timestamp":5000,"bids":[["100.5","2"]],"asks":[["120","1"],["130","0"]]}`)

	f.engine.HandleFeedMessage(raw)

	assert.Equal(t, []model.LiquidityUpdate{
		{TimestampMs: 5000, Price: 100.5, Quantity: 2, Side: model.SideBid},
		{TimestampMs: 5000, Price: 120, Quantity: 1, Side: model.SideAsk},
		{TimestampMs: 5000, Price: 130, Quantity: 0, Side: model.SideAsk},
	}, f.sink.rows)

	e, _, ok, _ := f.book.Lookup(model.SideBid, 100)
	require.True(t, ok)
	assert.Equal(t, 2.0, e.Quantity)

	require.Len(t, f.hub.published(), 1)
	assert.Equal(t, raw, f.hub.published()[0], "forwarded verbatim")
}

// go test -v --run TestMalformedFeedMessagesDropped
func TestMalformedFeedMessagesDropped(t *testing.T) {
	f := newFixture(t)
	for _, raw := range []string{
		`not json`,
		`{"type":"trade","data":{"p":"1"}}`,
		`{"type":"liquidity_raw","bids":[]}`,
		`{"type":"heartbeat"}`,
	} {
		f.engine.HandleFeedMessage([]byte(raw))
	}
	assert.Empty(t, f.hub.published())
	assert.Empty(t, f.sink.rows)
}

// go test -v --run TestOutOfRangeDepthDropped
func TestOutOfRangeDepthDropped(t *testing.T) {
	f := newFixture(t)
	for _, raw := range []string{
		`{"type":"liquidity_raw","timestamp":1700000000000,"bids":[["1e400","1"]]}`,
		`{"type":"liquidity_raw","timestamp":1700000000000,"bids":[["100","2"]],"asks":[["101","1e400"]]}`,
		`{"type":"liquidity_raw","timestamp":1700000000000,"bids":[["100","-3"]]}`,
	} {
		require.NotPanics(t, func() { f.engine.HandleFeedMessage([]byte(raw)) }, raw)
	}
	assert.Empty(t, f.hub.published())
	assert.Empty(t, f.sink.rows, "a rejected batch persists nothing")
	assert.Equal(t, 1.0, f.book.MaxQuantity())

	// live frames keep flowing after the bad batches
	f.book.ApplyDepthUpdate(testNow.UnixMilli(), []model.PriceLevel{{Price: 101, Quantity: 3}}, nil)
	f.hub.subs = 1
	f.engine.pushLiveHeatmap()
	require.Len(t, f.hub.published(), 1)
	assert.Equal(t, 3.0, decode(t, f.hub.published()[0])["max_quantity"])
}

// go test -v --run TestRequestTimeframeWithHeatmap
func TestRequestTimeframeWithHeatmap(t *testing.T) {
	f := newFixture(t)
	f.history.result = []model.HeatmapBucket{{TimeBucketMs: 1000, PriceBucket: 95, Side: model.SideBid, TotalQuantity: 1}}
	f.engine.HandleFeedMessage([]byte(`{"type":"trade","data":{"T":60000,"p":"95","q":"1","m":true}}`))

	sub := &fakeSub{}
	f.engine.handleRequest(sub, []byte(`{"type":"request_timeframe","timeframe":"1M"}`))

	msgs := sub.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, MsgFullData, msgs[0]["type"])
	assert.Equal(t, "1M", msgs[0]["timeframe"])
	assert.Len(t, msgs[0]["data"], 1)

	assert.Equal(t, MsgFullHeatmap, msgs[1]["type"])
	assert.Len(t, msgs[1]["data"], 1)

	require.Len(t, f.history.queries, 1)
	q := f.history.queries[0]
	assert.Equal(t, testNow.UnixMilli()-205*60_000, q.StartTimeMs)
	assert.Equal(t, 5.0, q.PriceGrouping)
	assert.Equal(t, 0.1, q.MinQuantity)
}

// go test -v --run TestRequestTimeframeWithoutHeatmap
func TestRequestTimeframeWithoutHeatmap(t *testing.T) {
	f := newFixture(t)
	sub := &fakeSub{}

	f.engine.handleRequest(sub, []byte(`{"type":"request_timeframe","timeframe":"15m","max_candles":10,"min_liquidity":1}`))

	msgs := sub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, MsgFullData, msgs[0]["type"])
	assert.Empty(t, msgs[0]["data"])
	assert.Empty(t, f.history.queries)
}

// go test -v --run TestRequestCustomLookback
func TestRequestCustomLookback(t *testing.T) {
	f := newFixture(t)
	f.engine.handleRequest(&fakeSub{}, []byte(`{"type":"request_timeframe","timeframe":"1M","max_candles":10,"min_liquidity":2.5}`))

	require.Len(t, f.history.queries, 1)
	assert.Equal(t, testNow.UnixMilli()-15*60_000, f.history.queries[0].StartTimeMs)
	assert.Equal(t, 2.5, f.history.queries[0].MinQuantity)
}

// go test -v --run TestUpdateSettings
func TestUpdateSettings(t *testing.T) {
	f := newFixture(t)
	f.book.ApplyDepthUpdate(0, []model.PriceLevel{{Price: 101, Quantity: 0.5}}, nil)

	sub := &fakeSub{}
	f.engine.handleRequest(sub, []byte(`{"type":"update_settings","price_grouping":{"1M":2,"2W":7},"min_liquidity_to_show":1}`))

	assert.Equal(t, 2.0, f.agg.Grouping().Width(footprint.Timeframe1Min))
	assert.Equal(t, 25.0, f.agg.Grouping().Width(footprint.Timeframe15Min), "merged, not replaced")
	filtered, unfiltered := f.book.Len(model.SideBid)
	assert.Zero(t, filtered)
	assert.Equal(t, 1, unfiltered)

	f.engine.handleRequest(sub, []byte(`{"type":"update_settings","liquidity_grouping":25}`))
	assert.Equal(t, 25.0, f.book.Options().Grouping)
	assert.Empty(t, sub.messages())
}

// go test -v --run TestUnknownRequest
func TestUnknownRequest(t *testing.T) {
	f := newFixture(t)
	sub := &fakeSub{}

	f.engine.handleRequest(sub, []byte(`{"type":"subscribe"}`))
	f.engine.handleRequest(sub, []byte(`{"type":"request_timeframe","timeframe":"1W"}`))
	f.engine.handleRequest(sub, []byte(`{`))

	msgs := sub.messages()
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.Equal(t, MsgError, m["type"])
		assert.NotEmpty(t, m["message"])
	}
}

// go test -v --run TestLiveHeatmapPush
func TestLiveHeatmapPush(t *testing.T) {
	f := newFixture(t)
	f.book.ApplyDepthUpdate(testNow.UnixMilli(), []model.PriceLevel{{Price: 101, Quantity: 3}, {Price: 111, Quantity: 1}}, nil)

	f.engine.pushLiveHeatmap()
	assert.Empty(t, f.hub.published(), "no subscribers, no frame")

	f.hub.subs = 1
	f.engine.pushLiveHeatmap()
	require.Len(t, f.hub.published(), 1)

	m := decode(t, f.hub.published()[0])
	assert.Equal(t, MsgLiveHeatmap, m["type"])
	assert.Equal(t, 3.0, m["max_quantity"])
	assert.Len(t, m["bids"], 1, "adjacent buckets merge")
	cob := m["cob"].(map[string]any)
	assert.Equal(t, 50.0, cob["grouping"])
	assert.Equal(t, []any{[]any{100.0, 4.0}}, cob["bids"])
}

// go test -v --run TestRunLoop
func TestRunLoop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		f.engine.Run(ctx)
		close(stopped)
	}()

	f.engine.Ingest([]byte(`{"type":"trade","data":{"T":60000,"p":"95","q":"1","m":true}}`))
	f.engine.Ingest([]byte(`{"type":"trade","data":{"T":125000,"p":"97","q":"1","m":false}}`))

	candles, err := f.engine.Candles(context.Background(), footprint.Timeframe1Min)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(60_000), candles[0].OpenTimeMs)
	assert.Equal(t, int64(120_000), candles[1].OpenTimeMs)

	_, err = f.engine.Candles(context.Background(), footprint.Timeframe4H)
	assert.ErrorIs(t, err, footprint.ErrUnknownTimeframe)

	sub := &fakeSub{}
	f.engine.HandleRequest(sub, []byte(`{"type":"request_timeframe","timeframe":"15M"}`))
	require.Eventually(t, func() bool { return len(sub.messages()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped
	assert.ErrorIs(t, f.engine.Do(context.Background(), func() {}), ErrStopped)
	f.engine.Ingest([]byte(`{}`))
}
