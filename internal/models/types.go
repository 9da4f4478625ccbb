// Package models holds the types shared by the directory, the parser and the crawler.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Keys every Record carries regardless of page content.
const (
	KeyCompany    = "Company"
	KeySymbol     = "Symbol"
	KeyRecordTime = "Record Time"
)

// Target is one summary page to crawl.
type Target struct {
	URL         string `json:"url"`
	DisplayName string `json:"displayName"`
}

// Symbol returns the last path segment of the target URL.
func (t Target) Symbol() string {
	return LastPathSegment(t.URL)
}

// LastPathSegment returns the final non-empty segment of a URL path.
// Unparseable input falls back to splitting the raw string on "/".
func LastPathSegment(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Company is one row of the NASDAQ company listing.
type Company struct {
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	LastSale        string `json:"lastSale"`
	MarketCap       string `json:"marketCap"`
	IPOYear         string `json:"ipoYear"`
	Sector          string `json:"sector"`
	Industry        string `json:"industry"`
	SummaryQuoteURL string `json:"summaryQuoteUrl"`
}

// Target converts a listing row into something the crawler can fetch.
func (c Company) Target() Target {
	return Target{URL: c.SummaryQuoteURL, DisplayName: c.Name}
}

// Record is an insertion-ordered string map. Setting an existing key replaces
// its value but keeps its original position.
type Record struct {
	keys   []string
	values map[string]string
}

// NewRecord returns a record seeded with the Company and Symbol of t.
func NewRecord(t Target) Record {
	r := Record{}
	r.Set(KeyCompany, t.DisplayName)
	r.Set(KeySymbol, t.Symbol())
	return r
}

// Set inserts or overwrites key.
func (r *Record) Set(key, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored under key.
func (r Record) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len reports the number of fields.
func (r Record) Len() int {
	return len(r.keys)
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	c := Record{keys: r.Keys(), values: make(map[string]string, len(r.values))}
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// Equal reports whether both records hold the same keys, order and values.
func (r Record) Equal(o Record) bool {
	if len(r.keys) != len(o.keys) {
		return false
	}
	for i, k := range r.keys {
		if o.keys[i] != k || o.values[k] != r.values[k] {
			return false
		}
	}
	return true
}

// Map returns an unordered copy of the fields.
func (r Record) Map() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the record as a JSON object with keys in insertion order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat JSON object of strings, preserving key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected JSON object, got %v", tok)
	}
	*r = Record{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := kt.(string)
		var value string
		if err := dec.Decode(&value); err != nil {
			return err
		}
		r.Set(key, value)
	}
	_, err = dec.Token()
	return err
}
