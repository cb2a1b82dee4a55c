package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*CountStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewCountStoreWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewCountStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewCountStoreWithPool(nil, "x")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewCountStoreWithPool(mock, "bad-name; DROP")
	require.Error(t, err)

	_, err = NewCountStore(context.Background(), Config{})
	require.Error(t, err)
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawled_urls").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordProcessedUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO crawled_urls").
		WithArgs("https://example.com", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordProcessed(context.Background(), "https://example.com", at))
	require.Error(t, store.RecordProcessed(context.Background(), "", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM crawled_urls`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClearPropagatesErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM crawled_urls").WillReturnError(errors.New("boom"))

	err := store.Clear(context.Background())
	require.ErrorContains(t, err, "boom")
	require.NoError(t, mock.ExpectationsWereMet())
}
