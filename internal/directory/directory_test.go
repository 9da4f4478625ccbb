package directory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcrawler/internal/models"
)

func company(symbol, name string) models.Company {
	return models.Company{
		Symbol:          symbol,
		Name:            name,
		LastSale:        "10.00",
		MarketCap:       "$1B",
		IPOYear:         "n/a",
		Sector:          "Technology",
		Industry:        "Software",
		SummaryQuoteURL: "https://www.nasdaq.com/symbol/" + symbol,
	}
}

var fixture = []models.Company{
	company("MSFT", "Microsoft Corporation"),
	company("AAPL", "Apple Inc."),
	company("GOOG", "Alphabet Inc."),
}

func targetSymbols(ts []models.Target) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Symbol()
	}
	return out
}

func TestWantsAll(t *testing.T) {
	t.Parallel()

	assert.True(t, WantsAll(nil))
	assert.True(t, WantsAll([]string{}))
	assert.True(t, WantsAll([]string{"ALL"}))
	assert.True(t, WantsAll([]string{" all "}))
	assert.True(t, WantsAll([]string{"", "  "}))
	assert.False(t, WantsAll([]string{"AAPL"}))
}

func TestIndexResolve(t *testing.T) {
	t.Parallel()

	idx := newIndex(fixture)

	tests := []struct {
		name    string
		symbols []string
		want    []string
		missing []string
	}{
		{"all sorted", []string{"ALL"}, []string{"AAPL", "GOOG", "MSFT"}, nil},
		{"empty means all", nil, []string{"AAPL", "GOOG", "MSFT"}, nil},
		{"request order", []string{"MSFT", "AAPL"}, []string{"MSFT", "AAPL"}, nil},
		{"case and space", []string{" msft ", "aapl"}, []string{"MSFT", "AAPL"}, nil},
		{"duplicates", []string{"AAPL", "aapl"}, []string{"AAPL"}, nil},
		{"miss", []string{"AAPL", "ZZZZ"}, []string{"AAPL"}, []string{"ZZZZ"}},
		{"all miss", []string{"XXXX", "YYYY"}, []string{}, []string{"XXXX", "YYYY"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := idx.resolve(tt.symbols)
			assert.Equal(t, tt.want, targetSymbols(res.Targets))
			assert.Equal(t, tt.missing, res.Missing)
		})
	}
}

func TestIndexCarriesDisplayName(t *testing.T) {
	t.Parallel()

	res := newIndex(fixture).resolve([]string{"AAPL"})
	require.Len(t, res.Targets, 1)
	assert.Equal(t, models.Target{URL: "https://www.nasdaq.com/symbol/AAPL", DisplayName: "Apple Inc."}, res.Targets[0])
}

func TestIndexCarriesCompanies(t *testing.T) {
	t.Parallel()

	res := newIndex(fixture).resolve([]string{"GOOG", "ZZZZ", "MSFT"})
	require.Len(t, res.Companies, len(res.Targets))
	assert.Equal(t, "Alphabet Inc.", res.Companies[0].Name)
	assert.Equal(t, "$1B", res.Companies[0].MarketCap)
	assert.Equal(t, "MSFT", res.Companies[1].Symbol)
	assert.Equal(t, "Technology", res.Companies[1].Sector)
}

func TestIndexKeepsFirstDuplicate(t *testing.T) {
	t.Parallel()

	idx := newIndex([]models.Company{company("AAPL", "First"), company("aapl", "Second"), {Name: "no symbol"}})
	require.Len(t, idx.sorted, 1)
	assert.Equal(t, "First", idx.sorted[0].Name)
}

func TestErrors(t *testing.T) {
	t.Parallel()

	err := unavailable("query companies", errors.New("connection refused"))
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "connection refused")

	var miss error = &MissError{Symbol: "ZZZZ"}
	var me *MissError
	require.True(t, errors.As(fmt.Errorf("resolve: %w", miss), &me))
	assert.Equal(t, "ZZZZ", me.Symbol)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	d, err := Open(context.Background(), Config{Backend: BackendFile, File: "companylist.csv"})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, d)

	_, err = Open(context.Background(), Config{Backend: BackendFile})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Backend: BackendPostgres})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Backend: BackendRedis})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Backend: "mongo"})
	assert.ErrorContains(t, err, "unknown directory backend")
}
