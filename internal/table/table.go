// Package table merges heterogeneous records into one ordered table whose
// columns are the union of every record's keys in first-seen order.
package table

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"stockcrawler/internal/models"
)

// FileTimeLayout names report files, one per minute.
const FileTimeLayout = "2006-01-02-15-04"

// Table is an ordered list of records plus the derived column list.
// Every key of every record is present in Columns.
type Table struct {
	columns []string
	seen    map[string]struct{}
	records []models.Record
}

// New returns an empty table.
func New() *Table {
	return &Table{seen: make(map[string]struct{})}
}

// Aggregate builds a table from records in order.
func Aggregate(records []models.Record) *Table {
	t := New()
	for _, r := range records {
		t.Append(r)
	}
	return t
}

// Append adds rec as the last row and extends the columns with any new keys.
func (t *Table) Append(rec models.Record) {
	if t.seen == nil {
		t.seen = make(map[string]struct{})
	}
	for _, k := range rec.Keys() {
		if _, ok := t.seen[k]; ok {
			continue
		}
		t.seen[k] = struct{}{}
		t.columns = append(t.columns, k)
	}
	t.records = append(t.records, rec.Clone())
}

// Columns returns a copy of the column list.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len is the number of rows.
func (t *Table) Len() int { return len(t.records) }

// Records returns copies of the rows as records.
func (t *Table) Records() []models.Record {
	out := make([]models.Record, len(t.records))
	for i, r := range t.records {
		out[i] = r.Clone()
	}
	return out
}

// Rows returns one slice per record aligned with Columns. Missing cells are "".
func (t *Table) Rows() [][]string {
	rows := make([][]string, len(t.records))
	for i, r := range t.records {
		row := make([]string, len(t.columns))
		for j, c := range t.columns {
			row[j], _ = r.Get(c)
		}
		rows[i] = row
	}
	return rows
}

// WriteCSV writes a header row followed by one row per record.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(t.Rows()); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// ToCSV renders the table as CSV bytes.
func (t *Table) ToCSV() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.WriteCSV(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadCSV is the inverse of WriteCSV. Empty cells are treated as absent.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := New()
	for _, c := range header {
		if _, ok := t.seen[c]; ok {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		t.seen[c] = struct{}{}
		t.columns = append(t.columns, c)
	}

	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		if len(row) > len(header) {
			return nil, fmt.Errorf("row %d has %d cells, header has %d", line, len(row), len(header))
		}
		var rec models.Record
		for i, v := range row {
			if v != "" {
				rec.Set(header[i], v)
			}
		}
		t.records = append(t.records, rec)
	}
	return t, nil
}

// FileName is the report name for a crawl that finished at ts.
func FileName(ts time.Time) string {
	return ts.Format(FileTimeLayout) + ".csv"
}

// SaveCSV writes the table to dir/FileName(ts), creating dir if needed. The
// file appears atomically: it is written under a temporary name and renamed.
func (t *Table) SaveCSV(dir string, ts time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".report-*.csv")
	if err != nil {
		return "", fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if err := t.WriteCSV(tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp report: %w", err)
	}

	path := filepath.Join(dir, FileName(ts))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish report: %w", err)
	}
	return path, nil
}

type tableJSON struct {
	Columns []string        `json:"columns"`
	Rows    []models.Record `json:"rows"`
}

// MarshalJSON encodes the table as {"columns": [...], "rows": [{...}]} with
// each row's keys in record order.
func (t *Table) MarshalJSON() ([]byte, error) {
	out := tableJSON{Columns: t.columns, Rows: t.records}
	if out.Columns == nil {
		out.Columns = []string{}
	}
	if out.Rows == nil {
		out.Rows = []models.Record{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the table from its JSON form. Columns listed in the
// payload come first; keys found only in rows are appended after them.
func (t *Table) UnmarshalJSON(data []byte) error {
	var in tableJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	nt := New()
	for _, c := range in.Columns {
		if _, ok := nt.seen[c]; !ok {
			nt.seen[c] = struct{}{}
			nt.columns = append(nt.columns, c)
		}
	}
	for _, r := range in.Rows {
		nt.Append(r)
	}
	*t = *nt
	return nil
}
