package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Feed      FeedConfig      `mapstructure:"feed"`
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Liquidity LiquidityConfig `mapstructure:"liquidity"`
	Storage   StorageConfig   `mapstructure:"storage"`
	History   HistoryConfig   `mapstructure:"history"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Log       LogConfig       `mapstructure:"log"`
}

// FeedConfig points at the upstream trade / depth stream.
type FeedConfig struct {
	URL              string        `mapstructure:"url"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	InboxSize        int           `mapstructure:"inbox_size"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"` // gin mode: "debug", "release", "test"
	SendBuffer   int           `mapstructure:"send_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// EngineConfig drives the footprint candles and the subscriber protocol.
type EngineConfig struct {
	Timeframes        []string           `mapstructure:"timeframes"`
	CandleLimit       int                `mapstructure:"candle_limit"`
	PriceGrouping     map[string]float64 `mapstructure:"price_grouping"`
	SweepTimeframe    string             `mapstructure:"sweep_timeframe"`
	HeatmapTimeframes []string           `mapstructure:"heatmap_timeframes"`
	LookbackPadding   int                `mapstructure:"lookback_padding"` // extra candles queried before the window
	LivePushInterval  time.Duration      `mapstructure:"live_push_interval"`
}

type LiquidityConfig struct {
	PriceGrouping float64       `mapstructure:"price_grouping"`
	MinLiquidity  float64       `mapstructure:"min_liquidity"`
	FadeWindow    time.Duration `mapstructure:"fade_window"`
	DepthGrouping float64       `mapstructure:"depth_grouping"` // bucket width of the current order block profile
}

// StorageConfig selects the liquidity history backend and the writer's flush policy.
type StorageConfig struct {
	Driver            string        `mapstructure:"driver"` // "sqlite" or "postgres"
	SQLitePath        string        `mapstructure:"sqlite_path"`
	CreateDatabase    bool          `mapstructure:"create_database"`
	BatchSize         int           `mapstructure:"batch_size"`
	FlushInterval     time.Duration `mapstructure:"flush_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	QueueSize         int           `mapstructure:"queue_size"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	Retention         time.Duration `mapstructure:"retention"`
	RetentionSchedule string        `mapstructure:"retention_schedule"`
}

type HistoryConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// NATSConfig enables mirroring broadcasts onto NATS when URL is set.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	ex, _ := os.Executable()
	var dir string
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		dir = filepath.Join(pwd, "../../config")
	} else {
		dir = filepath.Join(filepath.Dir(ex), "../config")
	}

	cfg, err := LoadFrom(dir, ".")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom reads config.yaml from the first matching path. A missing file is not an
// error: defaults and environment variables still apply.
func LoadFrom(paths ...string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	// Support environment variables with dot notation (e.g., FEED_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feed.url", "ws://localhost:8765")
	v.SetDefault("feed.reconnect_backoff", 5*time.Second)
	v.SetDefault("feed.handshake_timeout", 10*time.Second)
	v.SetDefault("feed.inbox_size", 4096)

	v.SetDefault("server.addr", "localhost:8766")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.send_buffer", 256)
	v.SetDefault("server.write_timeout", 5*time.Second)

	v.SetDefault("engine.timeframes", []string{"1M", "5M", "15M", "1H", "4H", "1D"})
	v.SetDefault("engine.candle_limit", 200)
	v.SetDefault("engine.price_grouping", map[string]float64{
		"1M": 5, "5M": 15, "15M": 25, "1H": 35, "4H": 100, "1D": 250,
	})
	v.SetDefault("engine.sweep_timeframe", "1M")
	v.SetDefault("engine.heatmap_timeframes", []string{"1M", "5M"})
	v.SetDefault("engine.lookback_padding", 5)
	v.SetDefault("engine.live_push_interval", time.Second)

	v.SetDefault("liquidity.price_grouping", 10.0)
	v.SetDefault("liquidity.min_liquidity", 0.1)
	v.SetDefault("liquidity.fade_window", 15*time.Minute)
	v.SetDefault("liquidity.depth_grouping", 50.0)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "heatmap_history.db")
	v.SetDefault("storage.create_database", false)
	v.SetDefault("storage.batch_size", 2000)
	v.SetDefault("storage.flush_interval", 5*time.Second)
	v.SetDefault("storage.poll_interval", 100*time.Millisecond)
	v.SetDefault("storage.queue_size", 100000)
	v.SetDefault("storage.shutdown_timeout", 10*time.Second)
	v.SetDefault("storage.retention", time.Duration(0))
	v.SetDefault("storage.retention_schedule", "@hourly")

	v.SetDefault("history.workers", 2)
	v.SetDefault("history.queue_size", 64)
	v.SetDefault("history.query_timeout", 30*time.Second)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.dbname", "footprint")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.ssm_prefix", "FOOTPRINT_DB")

	v.SetDefault("nats.subject_prefix", "footprint")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.environment", "dev")
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid storage driver: %q", c.Storage.Driver)
	}
	if c.Storage.BatchSize <= 0 {
		return fmt.Errorf("storage.batch_size must be positive, got %d", c.Storage.BatchSize)
	}
	if c.Storage.FlushInterval <= 0 || c.Storage.PollInterval <= 0 {
		return errors.New("storage.flush_interval and storage.poll_interval must be positive")
	}
	if c.Engine.CandleLimit <= 0 {
		return fmt.Errorf("engine.candle_limit must be positive, got %d", c.Engine.CandleLimit)
	}
	if len(c.Engine.Timeframes) == 0 {
		return errors.New("engine.timeframes must not be empty")
	}
	if c.Liquidity.FadeWindow <= 0 {
		return errors.New("liquidity.fade_window must be positive")
	}
	return nil
}
