package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcrawler/internal/models"
)

func TestFileStore_MissingFileIsUnavailable(t *testing.T) {
	t.Parallel()

	s := NewFileStore(filepath.Join(t.TempDir(), "companylist.csv"))
	_, err := s.Resolve(context.Background(), []string{"ALL"})
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestFileStore_ReadsListingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "companylist.csv")
	require.NoError(t, os.WriteFile(path, []byte(screenerCSV), 0o644))

	s := NewFileStore(path)
	res, err := s.Resolve(context.Background(), []string{"msft", "NOPE"})
	require.NoError(t, err)
	assert.Equal(t, []string{"msft"}, targetSymbols(res.Targets))
	assert.Equal(t, []string{"NOPE"}, res.Missing)
}

func TestFileStore_EmptyFileResolvesNothing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "companylist.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	res, err := NewFileStore(path).Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Targets)
}

func TestFileStore_Replace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "data", "companylist.csv")
	s := NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, s.Replace(ctx, fixture))

	res, err := s.Resolve(ctx, []string{"ALL"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "GOOG", "MSFT"}, targetSymbols(res.Targets))

	// A fresh store reads what the first one wrote.
	res, err = NewFileStore(path).Resolve(ctx, []string{"GOOG"})
	require.NoError(t, err)
	assert.Equal(t, []string{"GOOG"}, targetSymbols(res.Targets))

	require.NoError(t, s.Replace(ctx, []models.Company{company("NVDA", "NVIDIA Corporation")}))
	res, err = s.Resolve(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"NVDA"}, targetSymbols(res.Targets))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
	require.NoError(t, s.Close())
}

func TestFileStore_ReadersSeeWholeSnapshots(t *testing.T) {
	t.Parallel()

	s := NewFileStore(filepath.Join(t.TempDir(), "companylist.csv"))
	ctx := context.Background()
	small := []models.Company{company("AAPL", "Apple Inc.")}
	require.NoError(t, s.Replace(ctx, small))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			list := fixture
			if i%2 == 0 {
				list = small
			}
			assert.NoError(t, s.Replace(ctx, list))
		}
	}()

	for i := 0; i < 200; i++ {
		res, err := s.Resolve(ctx, nil)
		require.NoError(t, err)
		n := len(res.Targets)
		assert.True(t, n == 1 || n == 3, "saw partial list of %d", n)
	}
	wg.Wait()
}
