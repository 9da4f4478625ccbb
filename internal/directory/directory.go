// Package directory maps stock symbols to the summary pages the crawler fetches.
// Stores are read-mostly; Replace swaps the whole company list in one step.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"stockcrawler/internal/models"
)

// AllSymbols requests every known company.
const AllSymbols = "ALL"

// ErrUnavailable means the backing store could not be read. A crawl cannot
// proceed without it.
var ErrUnavailable = errors.New("directory unavailable")

// MissError reports a requested symbol the directory does not know.
type MissError struct {
	Symbol string
}

func (e *MissError) Error() string {
	return fmt.Sprintf("symbol %q not found in directory", e.Symbol)
}

// Resolution is the answer to a symbol lookup.
type Resolution struct {
	// Targets holds one entry per symbol found, in request order.
	Targets []models.Target
	// Companies holds the listing rows behind Targets, index for index.
	Companies []models.Company
	// Missing lists requested symbols that had no entry.
	Missing []string
}

// Directory resolves symbols to crawl targets.
type Directory interface {
	// Resolve returns every target for ["ALL"], an empty or nil list, and one
	// target per known symbol otherwise. Errors wrap ErrUnavailable.
	Resolve(ctx context.Context, symbols []string) (Resolution, error)
	// Replace atomically swaps the full company list.
	Replace(ctx context.Context, companies []models.Company) error
	Close() error
}

// NormalizeSymbol trims and upper-cases s.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// WantsAll reports whether symbols asks for the whole directory.
func WantsAll(symbols []string) bool {
	n := 0
	for _, s := range symbols {
		switch NormalizeSymbol(s) {
		case "":
		case AllSymbols:
			return true
		default:
			n++
		}
	}
	return n == 0
}

// requested normalizes symbols, dropping blanks and duplicates.
func requested(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		n := NormalizeSymbol(s)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// index is an immutable view of a company list keyed by normalized symbol.
type index struct {
	sorted   []models.Company
	bySymbol map[string]models.Company
}

// newIndex keeps the first row for any repeated symbol and drops rows with
// no symbol.
func newIndex(companies []models.Company) *index {
	idx := &index{bySymbol: make(map[string]models.Company, len(companies))}
	for _, c := range companies {
		key := NormalizeSymbol(c.Symbol)
		if key == "" {
			continue
		}
		if _, ok := idx.bySymbol[key]; ok {
			continue
		}
		idx.bySymbol[key] = c
		idx.sorted = append(idx.sorted, c)
	}
	sortCompanies(idx.sorted)
	return idx
}

func (idx *index) resolve(symbols []string) Resolution {
	res := Resolution{Targets: []models.Target{}, Companies: []models.Company{}}
	if WantsAll(symbols) {
		for _, c := range idx.sorted {
			res.Targets = append(res.Targets, c.Target())
			res.Companies = append(res.Companies, c)
		}
		return res
	}
	for _, s := range requested(symbols) {
		if c, ok := idx.bySymbol[s]; ok {
			res.Targets = append(res.Targets, c.Target())
			res.Companies = append(res.Companies, c)
		} else {
			res.Missing = append(res.Missing, s)
		}
	}
	return res
}

func sortCompanies(cs []models.Company) {
	sort.SliceStable(cs, func(i, j int) bool {
		return NormalizeSymbol(cs[i].Symbol) < NormalizeSymbol(cs[j].Symbol)
	})
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
