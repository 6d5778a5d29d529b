package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresAdapter) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return db, mock, &PostgresAdapter{db: db}
}

func TestNewPostgresAdapter(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		t.Skip("Integration test - requires real database")
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := NewPostgresAdapter(context.Background(), "invalid connection string")
		assert.Error(t, err)
	})
}

func TestPostgresMigrate(t *testing.T) {
	db, mock, a := setupMockDB(t)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS cache_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, a.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetItem(t *testing.T) {
	db, mock, a := setupMockDB(t)
	defer func() { _ = db.Close() }()

	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("SELECT value FROM cache_entries WHERE cache_key").
			WithArgs("slice:x").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(`{"value":1,"expiry":null}`))

		v, ok, err := a.GetItem(ctx, "slice:x")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `{"value":1,"expiry":null}`, v)
	})

	t.Run("missing", func(t *testing.T) {
		mock.ExpectQuery("SELECT value FROM cache_entries WHERE cache_key").
			WithArgs("slice:y").
			WillReturnError(sql.ErrNoRows)

		_, ok, err := a.GetItem(ctx, "slice:y")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectQuery("SELECT value FROM cache_entries WHERE cache_key").
			WithArgs("slice:z").
			WillReturnError(errors.New("connection reset"))

		_, _, err := a.GetItem(ctx, "slice:z")
		assert.Error(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetRemoveClear(t *testing.T) {
	db, mock, a := setupMockDB(t)
	defer func() { _ = db.Close() }()

	ctx := context.Background()

	mock.ExpectExec("INSERT INTO cache_entries").
		WithArgs("singleton:config", `{"value":{},"expiry":null}`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM cache_entries WHERE cache_key").
		WithArgs("singleton:config").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM cache_entries").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, a.SetItem(ctx, "singleton:config", `{"value":{},"expiry":null}`))
	require.NoError(t, a.RemoveItem(ctx, "singleton:config"))
	require.NoError(t, a.Clear(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}
