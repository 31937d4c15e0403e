package persist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"footprint/internal/metrics"
	"footprint/internal/model"

	"go.uber.org/zap"
)

var (
	ErrShutdownTimeout = errors.New("persist: writer did not stop before timeout")
	ErrStopped         = errors.New("persist: writer stopped")
)

// Store is the write side of the liquidity history database.
type Store interface {
	InsertLiquidityUpdates(ctx context.Context, updates []model.LiquidityUpdate) error
	Checkpoint(ctx context.Context) error
	DeleteLiquidityUpdatesBefore(ctx context.Context, cutoffMs int64) (int64, error)
	Close() error
}

type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	PollInterval  time.Duration
	QueueSize     int
}

func (o *Options) withDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 2000
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 100_000
	}
}

type jobKind int

const (
	jobRow jobKind = iota
	jobPrune
	jobStop
)

type job struct {
	kind     jobKind
	row      model.LiquidityUpdate
	cutoffMs int64
}

type Stats struct {
	Flushes      int64
	RowsWritten  int64
	Dropped      int64
	FailedFlush  int64
	PrunedRows   int64
	BufferedRows int64
}

// Writer batches liquidity updates onto a single goroutine that exclusively owns
// the Store. Producers never touch the database.
type Writer struct {
	store  Store
	opts   Options
	logger *zap.Logger

	queue    chan job
	done     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool

	flushes  atomic.Int64
	written  atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
	pruned   atomic.Int64
	buffered atomic.Int64

	now func() time.Time
}

func NewWriter(store Store, opts Options, logger *zap.Logger) *Writer {
	opts.withDefaults()
	return &Writer{
		store:  store,
		opts:   opts,
		logger: logger.Named("persist"),
		queue:  make(chan job, opts.QueueSize),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start launches the writer goroutine.
func (w *Writer) Start() {
	go w.run()
	w.logger.Info("writer started",
		zap.Int("batch_size", w.opts.BatchSize),
		zap.Duration("flush_interval", w.opts.FlushInterval),
		zap.Int("queue_size", w.opts.QueueSize),
	)
}

// TryEnqueue hands rows to the writer without blocking. Rows that do not fit in the
// queue are dropped and counted. It returns how many were accepted.
func (w *Writer) TryEnqueue(rows ...model.LiquidityUpdate) int {
	if w.stopped.Load() {
		w.drop(len(rows))
		return 0
	}
	for i, r := range rows {
		select {
		case w.queue <- job{kind: jobRow, row: r}:
		default:
			w.drop(len(rows) - i)
			metrics.PersistEnqueued.Add(float64(i))
			return i
		}
	}
	metrics.PersistEnqueued.Add(float64(len(rows)))
	return len(rows)
}

// Enqueue blocks until every row is queued or ctx is done.
func (w *Writer) Enqueue(ctx context.Context, rows ...model.LiquidityUpdate) error {
	for _, r := range rows {
		if w.stopped.Load() {
			return ErrStopped
		}
		select {
		case w.queue <- job{kind: jobRow, row: r}:
			metrics.PersistEnqueued.Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Prune asks the writer to delete rows older than cutoff. It does not block.
func (w *Writer) Prune(cutoff time.Time) bool {
	if w.stopped.Load() {
		return false
	}
	select {
	case w.queue <- job{kind: jobPrune, cutoffMs: cutoff.UnixMilli()}:
		return true
	default:
		w.logger.Warn("queue full, prune request skipped", zap.Time("cutoff", cutoff))
		return false
	}
}

// Stop queues the shutdown sentinel behind everything already accepted. Safe to call
// more than once.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		w.stopped.Store(true)
		// blocking send: the sentinel must not be lost to a full queue
		w.queue <- job{kind: jobStop}
	})
}

// Shutdown stops the writer and waits for the final flush.
func (w *Writer) Shutdown(timeout time.Duration) error {
	go w.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return nil
	case <-timer.C:
		return ErrShutdownTimeout
	}
}

// Done is closed once the writer has flushed and closed the store.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

func (w *Writer) Stats() Stats {
	return Stats{
		Flushes:      w.flushes.Load(),
		RowsWritten:  w.written.Load(),
		Dropped:      w.dropped.Load(),
		FailedFlush:  w.failed.Load(),
		PrunedRows:   w.pruned.Load(),
		BufferedRows: w.buffered.Load(),
	}
}

func (w *Writer) drop(n int) {
	if n <= 0 {
		return
	}
	w.dropped.Add(int64(n))
	metrics.PersistDropped.Add(float64(n))
	w.logger.Debug("queue full, rows dropped", zap.Int("rows", n))
}

func (w *Writer) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	buf := make([]model.LiquidityUpdate, 0, w.opts.BatchSize)
	lastFlush := w.now()
	var retryAt time.Time

	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := w.flush(buf); err != nil {
			retryAt = w.now().Add(w.opts.FlushInterval)
			return
		}
		buf = buf[:0]
		w.buffered.Store(0)
		lastFlush = w.now()
		retryAt = time.Time{}
	}

	for {
		select {
		case j := <-w.queue:
			switch j.kind {
			case jobRow:
				buf = append(buf, j.row)
				w.buffered.Store(int64(len(buf)))
				if len(buf) >= w.opts.BatchSize && !w.now().Before(retryAt) {
					flush()
				}
			case jobPrune:
				w.prune(j.cutoffMs)
			case jobStop:
				flush()
				if len(buf) > 0 {
					w.logger.Error("rows lost on shutdown", zap.Int("rows", len(buf)))
				}
				if err := w.store.Close(); err != nil {
					w.logger.Error("close store", zap.Error(err))
				}
				w.logger.Info("writer stopped", zap.Int64("rows_written", w.written.Load()))
				return
			}
		case <-ticker.C:
			now := w.now()
			if len(buf) > 0 && now.Sub(lastFlush) >= w.opts.FlushInterval && !now.Before(retryAt) {
				flush()
			}
		}
	}
}

func (w *Writer) flush(rows []model.LiquidityUpdate) error {
	ctx := context.Background()
	start := time.Now()

	if err := w.store.InsertLiquidityUpdates(ctx, rows); err != nil {
		w.failed.Add(1)
		metrics.PersistFlushErrors.Inc()
		w.logger.Error("flush failed, retrying later", zap.Int("rows", len(rows)), zap.Error(err))
		return err
	}
	metrics.PersistFlushLatency.Observe(time.Since(start).Seconds())

	w.flushes.Add(1)
	w.written.Add(int64(len(rows)))
	metrics.PersistFlushed.Add(float64(len(rows)))

	if err := w.store.Checkpoint(ctx); err != nil {
		// the rows are committed; only the checkpoint is deferred to the next flush
		w.logger.Warn("checkpoint failed", zap.Error(err))
	}
	w.logger.Debug("flushed", zap.Int("rows", len(rows)), zap.Duration("took", time.Since(start)))
	return nil
}

func (w *Writer) prune(cutoffMs int64) {
	n, err := w.store.DeleteLiquidityUpdatesBefore(context.Background(), cutoffMs)
	if err != nil {
		w.logger.Error("prune failed", zap.Int64("cutoff_ms", cutoffMs), zap.Error(err))
		return
	}
	w.pruned.Add(n)
	w.logger.Info("pruned liquidity history", zap.Int64("cutoff_ms", cutoffMs), zap.Int64("rows", n))
}
