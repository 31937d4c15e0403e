package storage

import (
	"context"
	"fmt"
	"time"

	"footprint/config"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Client wraps a gorm handle on the liquidity history database.
type Client struct {
	DB      *gorm.DB
	dialect string
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// OpenSQLite opens (creating if needed) a SQLite file in WAL mode.
func OpenSQLite(path string) (*Client, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// one writer per handle; readers use their own handle
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	return &Client{DB: db, dialect: DialectSQLite}, nil
}

// OpenPostgres connects with the given DSN and pool limits.
func OpenPostgres(dsn string, cfg config.PostgresConfig) (*Client, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// Apply connection pool settings
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Client{DB: db, dialect: DialectPostgres}, nil
}

// Open connects to the backend named by cfg.Storage.Driver without migrating.
func Open(cfg *config.Config) (*Client, error) {
	switch cfg.Storage.Driver {
	case DialectSQLite:
		return OpenSQLite(cfg.Storage.SQLitePath)
	case DialectPostgres:
		return OpenPostgres(cfg.Postgres.DSN(cfg.Log.Environment), cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// InitializeAndMigrate connects to the configured backend, optionally creates the
// Postgres database, and runs AutoMigrate.
func InitializeAndMigrate(cfg *config.Config) (*Client, error) {
	// Create the target database first when asked
	if cfg.Storage.Driver == DialectPostgres && cfg.Storage.CreateDatabase {
		if err := CreateDatabase(cfg.Postgres); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	client, err := Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	// Run schema migrations
	if err := client.AutoMigrate(); err != nil {
		client.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

func (c *Client) AutoMigrate() error {
	if err := c.DB.AutoMigrate(&LiquidityUpdateRecord{}); err != nil {
		return fmt.Errorf("auto-migrate liquidity table: %w", err)
	}
	return nil
}

func (c *Client) Dialect() string {
	return c.dialect
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	db, err := c.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

func (c *Client) Close() error {
	db, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
