package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"footprint/config"
	"footprint/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *storage.Client {
	t.Helper()
	client, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NoError(t, client.AutoMigrate())
	t.Cleanup(func() { client.Close() })
	return client
}

// go test -v --run ^TestSQLiteHealthy$
func TestSQLiteHealthy(t *testing.T) {
	client := openTestSQLite(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	assert.True(t, client.IsHealthy(ctx))
	assert.Equal(t, storage.DialectSQLite, client.Dialect())
	assert.NoError(t, client.Checkpoint(ctx))
}

// go test -v --run ^TestInitializeAndMigrateSQLite$
func TestInitializeAndMigrateSQLite(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "init.db"),
	}}

	client, err := storage.InitializeAndMigrate(cfg)
	require.NoError(t, err)
	defer client.Close()

	assert.True(t, client.DB.Migrator().HasTable(&storage.LiquidityUpdateRecord{}))
}

// go test -v --run ^TestOpenUnknownDriver$
func TestOpenUnknownDriver(t *testing.T) {
	_, err := storage.Open(&config.Config{Storage: config.StorageConfig{Driver: "mysql"}})
	assert.Error(t, err)
}

// go test -v --run ^TestPostgresClient$
func TestPostgresClient(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	client, err := storage.OpenPostgres(dsn, config.PostgresConfig{MaxOpenConns: 4})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.True(t, client.IsHealthy(ctx))
	require.NoError(t, client.AutoMigrate())
	assert.NoError(t, client.Checkpoint(ctx))
}
