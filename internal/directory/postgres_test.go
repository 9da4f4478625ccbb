package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func companyRows(mock pgxmock.PgxPoolIface, symbols ...string) *pgxmock.Rows {
	rows := mock.NewRows(companyColumns)
	for _, s := range symbols {
		for _, c := range fixture {
			if c.Symbol == s {
				rows.AddRow(c.Symbol, c.Name, c.LastSale, c.MarketCap, c.IPOYear, c.Sector, c.Industry, c.SummaryQuoteURL)
			}
		}
	}
	return rows
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewPostgresStoreWithPool(mock, "companies")
	require.NoError(t, err)
	return mock, store
}

func TestNewPostgresStoreWithPool_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresStoreWithPool(nil, "companies")
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresStoreWithPool(mock, "companies; DROP TABLE x")
	assert.ErrorContains(t, err, "invalid table name")

	s, err := NewPostgresStoreWithPool(mock, "")
	require.NoError(t, err)
	assert.Equal(t, "companies", s.table)
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS companies").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveAll(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery(`SELECT symbol, name, (.+) FROM companies ORDER BY symbol`).
		WillReturnRows(companyRows(mock, "AAPL", "GOOG", "MSFT"))

	res, err := store.Resolve(context.Background(), []string{"ALL"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "GOOG", "MSFT"}, targetSymbols(res.Targets))
	assert.Empty(t, res.Missing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveSymbols(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM companies WHERE upper\(symbol\) = ANY\(\$1\)`).
		WithArgs([]string{"MSFT", "ZZZZ", "AAPL"}).
		WillReturnRows(companyRows(mock, "AAPL", "MSFT"))

	res, err := store.Resolve(context.Background(), []string{"msft", "ZZZZ", " AAPL"})
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT", "AAPL"}, targetSymbols(res.Targets))
	assert.Equal(t, []string{"ZZZZ"}, res.Missing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveUnavailable(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM companies`).
		WillReturnError(errors.New("dial tcp: connection refused"))

	_, err := store.Resolve(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrUnavailable))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Replace(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM companies").WillReturnResult(pgxmock.NewResult("DELETE", 7))
	mock.ExpectCopyFrom(pgx.Identifier{"companies"}, companyColumns).WillReturnResult(3)
	mock.ExpectCommit()

	require.NoError(t, store.Replace(context.Background(), fixture))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceRollsBack(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM companies").WillReturnResult(pgxmock.NewResult("DELETE", 7))
	mock.ExpectCopyFrom(pgx.Identifier{"companies"}, companyColumns).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Replace(context.Background(), fixture)
	assert.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceBeginFails(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := store.Replace(context.Background(), fixture)
	assert.True(t, errors.Is(err, ErrUnavailable))
	require.NoError(t, mock.ExpectationsWereMet())
}
