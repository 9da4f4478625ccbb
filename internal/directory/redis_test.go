package directory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcrawler/internal/models"
)

const testKey = "stockcrawler:companies"

func encoded(t *testing.T, c models.Company) string {
	t.Helper()
	raw, err := json.Marshal(c)
	require.NoError(t, err)
	return string(raw)
}

func TestRedisStore_ResolveAll(t *testing.T) {
	t.Parallel()

	client, mock := redismock.NewClientMock()
	store := NewRedisStoreWithClient(client, "")

	mock.ExpectHGetAll(testKey).SetVal(map[string]string{
		"MSFT": encoded(t, fixture[0]),
		"AAPL": encoded(t, fixture[1]),
		"GOOG": encoded(t, fixture[2]),
	})

	res, err := store.Resolve(context.Background(), []string{"ALL"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "GOOG", "MSFT"}, targetSymbols(res.Targets))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ResolveSymbols(t *testing.T) {
	t.Parallel()

	client, mock := redismock.NewClientMock()
	store := NewRedisStoreWithClient(client, testKey)

	mock.ExpectHMGet(testKey, "GOOG", "ZZZZ", "MSFT").
		SetVal([]interface{}{encoded(t, fixture[2]), nil, encoded(t, fixture[0])})

	res, err := store.Resolve(context.Background(), []string{"goog", "ZZZZ", "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, []string{"GOOG", "MSFT"}, targetSymbols(res.Targets))
	assert.Equal(t, []string{"ZZZZ"}, res.Missing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ResolveUnavailable(t *testing.T) {
	t.Parallel()

	client, mock := redismock.NewClientMock()
	store := NewRedisStoreWithClient(client, testKey)

	mock.ExpectHGetAll(testKey).SetErr(errors.New("dial tcp: connection refused"))

	_, err := store.Resolve(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestRedisStore_ResolveCorruptValue(t *testing.T) {
	t.Parallel()

	client, mock := redismock.NewClientMock()
	store := NewRedisStoreWithClient(client, testKey)

	mock.ExpectHMGet(testKey, "AAPL").SetVal([]interface{}{"{not json"})

	_, err := store.Resolve(context.Background(), []string{"AAPL"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestRedisStore_Replace(t *testing.T) {
	t.Parallel()

	client, mock := redismock.NewClientMock()
	store := NewRedisStoreWithClient(client, testKey)
	staging := testKey + ":staging"

	// Fields are written in symbol order.
	mock.ExpectTxPipeline()
	mock.ExpectDel(staging).SetVal(0)
	mock.ExpectHSet(staging,
		"AAPL", encoded(t, fixture[1]),
		"GOOG", encoded(t, fixture[2]),
		"MSFT", encoded(t, fixture[0]),
	).SetVal(3)
	mock.ExpectRename(staging, testKey).SetVal("OK")
	mock.ExpectTxPipelineExec()

	require.NoError(t, store.Replace(context.Background(), fixture))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ReplaceEmptyClearsKey(t *testing.T) {
	t.Parallel()

	client, mock := redismock.NewClientMock()
	store := NewRedisStoreWithClient(client, testKey)

	mock.ExpectDel(testKey).SetVal(1)

	require.NoError(t, store.Replace(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
