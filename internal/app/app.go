package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"footprint/config"
	"footprint/internal/engine"
	"footprint/internal/feed"
	"footprint/internal/footprint"
	"footprint/internal/history"
	"footprint/internal/hub"
	"footprint/internal/liquidity"
	"footprint/internal/persist"
	"footprint/internal/retention"
	"footprint/internal/server"
	"footprint/pkg/storage"

	"go.uber.org/zap"
)

const httpShutdownTimeout = 5 * time.Second

// App holds every long-running component of the processor.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Store     *storage.Client // owned by Writer
	Reader    *storage.Client
	Writer    *persist.Writer
	History   *history.Engine
	Hub       *hub.Hub
	NATS      *hub.NATSSubscriber
	Engine    *engine.Engine
	Feed      *feed.Client
	Server    *server.Server
	Retention *retention.Scheduler

	cancel context.CancelFunc
}

func New(cfg *config.Config, logger *zap.Logger) *App {
	return &App{Config: cfg, Logger: logger}
}

// Start brings components up in dependency order: storage, writer, history, hub,
// engine, feed, HTTP, retention.
func (a *App) Start(parent context.Context) error {
	cfg := a.Config
	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel

	store, err := storage.InitializeAndMigrate(cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Store = store

	reader, err := storage.Open(cfg)
	if err != nil {
		cancel()
		store.Close()
		return fmt.Errorf("failed to open read handle: %w", err)
	}
	a.Reader = reader
	a.Logger.Info("storage ready", zap.String("driver", store.Dialect()))

	a.Writer = persist.NewWriter(store, persist.Options{
		BatchSize:     cfg.Storage.BatchSize,
		FlushInterval: cfg.Storage.FlushInterval,
		PollInterval:  cfg.Storage.PollInterval,
		QueueSize:     cfg.Storage.QueueSize,
	}, a.Logger)
	a.Writer.Start()

	a.History = history.NewEngine(reader, history.Options{
		Workers:      cfg.History.Workers,
		QueueSize:    cfg.History.QueueSize,
		QueryTimeout: cfg.History.QueryTimeout,
	}, a.Logger)
	a.History.Start(ctx)

	a.Hub = hub.New(a.Logger)
	if cfg.NATS.URL != "" {
		ns, err := hub.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, a.Logger)
		if err != nil {
			// the mirror is optional
			a.Logger.Warn("nats mirror disabled", zap.Error(err))
		} else {
			a.NATS = ns
			a.Hub.Register(ns)
		}
	}

	eng, err := a.buildEngine()
	if err != nil {
		cancel()
		a.Writer.Stop()
		<-a.Writer.Done()
		a.Hub.CloseAll()
		a.History.Wait()
		reader.Close()
		return err
	}
	a.Engine = eng
	go a.Engine.Run(ctx)

	a.Feed = feed.NewClient(cfg.Feed.URL, feed.Options{
		ReconnectBackoff: cfg.Feed.ReconnectBackoff,
		HandshakeTimeout: cfg.Feed.HandshakeTimeout,
	}, a.Logger)
	a.Feed.SetMessageHandler(a.Engine.Ingest)
	go a.Feed.Run(ctx)

	a.Server = server.New(a.Engine, a.Hub, a.History, reader, server.Options{
		Addr:         cfg.Server.Addr,
		Mode:         cfg.Server.Mode,
		SendBuffer:   cfg.Server.SendBuffer,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, a.Logger)
	a.Server.Start()

	a.Retention = retention.NewScheduler(a.Writer, cfg.Storage.Retention, cfg.Storage.RetentionSchedule, a.Logger)
	if err := a.Retention.Start(); err != nil {
		a.Logger.Error("retention not scheduled", zap.Error(err))
	}

	a.Logger.Info("processor started",
		zap.String("feed", cfg.Feed.URL),
		zap.String("addr", cfg.Server.Addr))
	return nil
}

func (a *App) buildEngine() (*engine.Engine, error) {
	cfg := a.Config

	timeframes, err := footprint.ParseTimeframes(cfg.Engine.Timeframes)
	if err != nil {
		return nil, fmt.Errorf("engine.timeframes: %w", err)
	}
	sweep, err := footprint.ParseTimeframe(cfg.Engine.SweepTimeframe)
	if err != nil {
		return nil, fmt.Errorf("engine.sweep_timeframe: %w", err)
	}
	// sweeping reads the current candle of this timeframe, so it must be tracked
	if !footprint.Contains(timeframes, sweep) {
		return nil, fmt.Errorf("engine.sweep_timeframe %q is not in engine.timeframes", sweep)
	}
	heatmapTFs, err := footprint.ParseTimeframes(cfg.Engine.HeatmapTimeframes)
	if err != nil {
		return nil, fmt.Errorf("engine.heatmap_timeframes: %w", err)
	}

	grouping, errs := footprint.NewGrouping(cfg.Engine.PriceGrouping)
	for _, e := range errs {
		a.Logger.Warn("ignoring configured price grouping", zap.Error(e))
	}

	agg := footprint.NewAggregator(timeframes, grouping, cfg.Engine.CandleLimit, a.Logger.Named("footprint"))
	book := liquidity.NewBook(liquidity.Options{
		Grouping:     cfg.Liquidity.PriceGrouping,
		MinLiquidity: cfg.Liquidity.MinLiquidity,
		FadeWindow:   cfg.Liquidity.FadeWindow,
	})

	return engine.New(agg, book, a.Hub, a.Writer, a.History, engine.Options{
		SweepTimeframe:    sweep,
		HeatmapTimeframes: heatmapTFs,
		LookbackPadding:   cfg.Engine.LookbackPadding,
		LivePushInterval:  cfg.Engine.LivePushInterval,
		DepthGrouping:     cfg.Liquidity.DepthGrouping,
		InboxSize:         cfg.Feed.InboxSize,
	}, a.Logger), nil
}

// Shutdown stops the writer first so buffered rows are flushed, then ingestion and
// HTTP. A writer that misses its deadline is logged and abandoned.
func (a *App) Shutdown() {
	a.Logger.Info("shutting down...")

	if a.Retention != nil {
		a.Retention.Stop()
	}
	if a.Writer != nil {
		go a.Writer.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}

	if a.Server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Logger.Error("http shutdown failed", zap.Error(err))
		}
		cancel()
	}

	if a.Writer != nil {
		if err := a.Writer.Shutdown(a.Config.Storage.ShutdownTimeout); err != nil {
			if errors.Is(err, persist.ErrShutdownTimeout) {
				a.Logger.Error("writer did not finish in time, pending rows may be lost",
					zap.Duration("timeout", a.Config.Storage.ShutdownTimeout),
					zap.Int64("buffered", a.Writer.Stats().BufferedRows))
			} else {
				a.Logger.Error("writer shutdown failed", zap.Error(err))
			}
		}
		stats := a.Writer.Stats()
		a.Logger.Info("writer stats",
			zap.Int64("flushes", stats.Flushes),
			zap.Int64("rows_written", stats.RowsWritten),
			zap.Int64("dropped", stats.Dropped),
			zap.Int64("failed_flushes", stats.FailedFlush))
	}

	if a.Hub != nil {
		a.Hub.CloseAll()
	}
	if a.History != nil {
		a.History.Wait()
	}
	if a.Reader != nil {
		if err := a.Reader.Close(); err != nil {
			a.Logger.Warn("close read handle", zap.Error(err))
		}
	}
	a.Logger.Info("shutdown complete")
}
