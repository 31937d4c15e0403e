package storage

import (
	"database/sql"
	"fmt"

	"footprint/config"

	_ "github.com/lib/pq"
)

// CreateDatabase connects to the postgres server and creates cfg.DBName if it doesn't exist.
func CreateDatabase(cfg config.PostgresConfig) error {
	db, err := sql.Open("postgres", cfg.AdminDSN())
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer db.Close()

	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1);`
	if err := db.QueryRow(query, cfg.DBName).Scan(&exists); err != nil {
		return fmt.Errorf("check db exists failed: %w", err)
	}

	if exists {
		return nil
	}

	// identifiers can't be bound as parameters
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE %q", cfg.DBName))
	if err != nil {
		return fmt.Errorf("create db failed: %w", err)
	}

	return nil
}
