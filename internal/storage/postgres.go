package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/nadmax/callscope/internal/cache"
)

var _ cache.Adapter = (*PostgresAdapter)(nil)

const createCacheTable = `
	CREATE TABLE IF NOT EXISTS cache_entries (
		cache_key  TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// PostgresAdapter stores cache entries in the cache_entries table.
type PostgresAdapter struct {
	db *sql.DB
}

func NewPostgresAdapter(ctx context.Context, connectionString string) (*PostgresAdapter, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	a := &PostgresAdapter{db: db}
	if err := a.Migrate(ctx); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *PostgresAdapter) Migrate(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, createCacheTable); err != nil {
		return fmt.Errorf("failed to create cache table: %w", err)
	}

	return nil
}

func (a *PostgresAdapter) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := a.db.QueryRowContext(ctx, `SELECT value FROM cache_entries WHERE cache_key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	return value, true, nil
}

func (a *PostgresAdapter) SetItem(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO cache_entries (cache_key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (cache_key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`

	_, err := a.db.ExecContext(ctx, query, key, value)
	return err
}

func (a *PostgresAdapter) RemoveItem(ctx context.Context, key string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = $1`, key)
	return err
}

func (a *PostgresAdapter) Clear(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	return err
}

func (a *PostgresAdapter) Close() error {
	return a.db.Close()
}
