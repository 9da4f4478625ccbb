package directory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"stockcrawler/internal/models"
)

// ListingHeader is the column order of the NASDAQ company screener download.
var ListingHeader = []string{"Symbol", "Name", "LastSale", "MarketCap", "IPOyear", "Sector", "industry", "Summary Quote"}

// ErrEmptyListing is returned when a listing holds no company rows.
var ErrEmptyListing = errors.New("listing has no companies")

// ParseListing reads a screener CSV. The first row is a header and is skipped.
// Every data row needs at least len(ListingHeader) columns; extra trailing
// columns are ignored.
func ParseListing(r io.Reader) ([]models.Company, error) {
	companies, err := readListing(r)
	if err != nil {
		return nil, err
	}
	if len(companies) == 0 {
		return nil, ErrEmptyListing
	}
	return companies, nil
}

func readListing(r io.Reader) ([]models.Company, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read listing header: %w", err)
	}

	var out []models.Company
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read listing line %d: %w", line, err)
		}
		if len(row) < len(ListingHeader) {
			return nil, fmt.Errorf("listing line %d: want at least %d columns, got %d", line, len(ListingHeader), len(row))
		}
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		if row[0] == "" {
			continue
		}
		out = append(out, models.Company{
			Symbol:          row[0],
			Name:            row[1],
			LastSale:        row[2],
			MarketCap:       row[3],
			IPOYear:         row[4],
			Sector:          row[5],
			Industry:        row[6],
			SummaryQuoteURL: row[7],
		})
	}
	return out, nil
}

// WriteListing writes companies in the same format ParseListing reads.
func WriteListing(w io.Writer, companies []models.Company) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ListingHeader); err != nil {
		return fmt.Errorf("write listing header: %w", err)
	}
	for _, c := range companies {
		row := []string{c.Symbol, c.Name, c.LastSale, c.MarketCap, c.IPOYear, c.Sector, c.Industry, c.SummaryQuoteURL}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write listing row %s: %w", c.Symbol, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
