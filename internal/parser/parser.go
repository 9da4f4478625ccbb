// Package parser turns a stock summary page into a models.Record by reading
// its two-column label/value layout.
package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"stockcrawler/internal/models"
)

// Default selectors for the summary quote layout.
const (
	DefaultBlockSelector = "div.column.span-1-of-2"
	DefaultCellSelector  = "div.table-cell"
)

// Pairing selects how cells are matched into label/value pairs.
type Pairing string

const (
	// PairPerBlock restarts the label/value toggle at every block.
	PairPerBlock Pairing = "per_block"
	// PairFlat runs one toggle across every block in the document. A block with
	// an odd number of cells shifts every pair after it.
	PairFlat Pairing = "flat"
)

// ParsePairing validates a configured pairing name.
func ParsePairing(s string) (Pairing, error) {
	switch p := Pairing(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PairPerBlock:
		return PairPerBlock, nil
	case PairFlat:
		return PairFlat, nil
	default:
		return "", fmt.Errorf("unknown pairing %q", s)
	}
}

// ParseError reports a document that did not yield the expected layout.
// The record returned alongside it is still usable.
type ParseError struct {
	Symbol string
	// Partial is set when some pairs were read but a block had a dangling label.
	Partial bool
	Reason  string
	Cause   error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s: %s", e.Symbol, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Parser extracts records. The zero value is not usable; call New.
type Parser struct {
	blockSelector string
	cellSelector  string
	pairing       Pairing
}

// Option customizes a Parser.
type Option func(*Parser)

// WithSelectors overrides the block and cell selectors. Empty values keep the defaults.
func WithSelectors(block, cell string) Option {
	return func(p *Parser) {
		if block != "" {
			p.blockSelector = block
		}
		if cell != "" {
			p.cellSelector = cell
		}
	}
}

// WithPairing sets the pairing mode.
func WithPairing(pairing Pairing) Option {
	return func(p *Parser) {
		if pairing != "" {
			p.pairing = pairing
		}
	}
}

// New returns a Parser using the summary quote selectors and per-block pairing.
func New(opts ...Option) *Parser {
	p := &Parser{
		blockSelector: DefaultBlockSelector,
		cellSelector:  DefaultCellSelector,
		pairing:       PairPerBlock,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse reads body and returns the record for target. The record always holds
// Company and Symbol. A non-nil *ParseError means the page was degraded, not
// that the record should be discarded.
func (p *Parser) Parse(body, contentType string, target models.Target) (models.Record, error) {
	rec := models.NewRecord(target)
	symbol := target.Symbol()

	doc, err := p.document(body, contentType)
	if err != nil {
		return rec, &ParseError{Symbol: symbol, Reason: "invalid html", Cause: err}
	}

	blocks := doc.Find(p.blockSelector)
	if blocks.Length() == 0 {
		return rec, &ParseError{Symbol: symbol, Reason: "no two-column blocks found"}
	}

	var dangling int
	switch p.pairing {
	case PairFlat:
		p.pairFlat(blocks, &rec)
	default:
		dangling = p.pairPerBlock(blocks, &rec)
	}

	if dangling > 0 {
		return rec, &ParseError{
			Symbol:  symbol,
			Partial: true,
			Reason:  fmt.Sprintf("%d block(s) ended with a label and no value", dangling),
		}
	}
	return rec, nil
}

func (p *Parser) document(body, contentType string) (*goquery.Document, error) {
	var r io.Reader = strings.NewReader(body)
	if decoded, err := charset.NewReader(r, contentType); err == nil {
		r = decoded
	} else {
		r = strings.NewReader(body)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return doc, nil
}

// pairPerBlock returns the number of blocks that had an odd number of cells.
func (p *Parser) pairPerBlock(blocks *goquery.Selection, rec *models.Record) int {
	dangling := 0
	blocks.Each(func(_ int, block *goquery.Selection) {
		var label string
		cells := block.Find(p.cellSelector)
		cells.Each(func(i int, cell *goquery.Selection) {
			if i%2 == 0 {
				label = cleanLabel(cell.Text())
				return
			}
			rec.Set(label, cleanValue(cell.Text()))
		})
		if cells.Length()%2 != 0 {
			dangling++
		}
	})
	return dangling
}

// pairFlat keeps a single counter across blocks.
func (p *Parser) pairFlat(blocks *goquery.Selection, rec *models.Record) {
	var label string
	n := 0
	blocks.Each(func(_ int, block *goquery.Selection) {
		block.Find(p.cellSelector).Each(func(_ int, cell *goquery.Selection) {
			if n%2 == 0 {
				label = cleanLabel(cell.Text())
			} else {
				rec.Set(label, cleanValue(cell.Text()))
			}
			n++
		})
	})
}

func cleanLabel(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, " / ", "/"))
}

func cleanValue(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.ReplaceAll(s, " / ", "/")
	return strings.TrimSpace(s)
}
