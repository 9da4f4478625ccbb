package testutil

import (
	"context"
	"html"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"stockcrawler/internal/fetcher"
)

// MockFetcher is a mock implementation of the Fetcher interface for testing
type MockFetcher struct {
	FetchFunc func(ctx context.Context, url string) fetcher.Result
	CloseFunc func() error

	mu      sync.Mutex
	calls   []string
	closed  atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

// Fetch implements the Fetcher interface
func (m *MockFetcher) Fetch(ctx context.Context, url string) fetcher.Result {
	m.mu.Lock()
	m.calls = append(m.calls, url)
	m.mu.Unlock()

	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, url)
	}
	return fetcher.Success(url, "", "text/html", 200, 0)
}

// Close implements the Fetcher interface
func (m *MockFetcher) Close() error {
	m.closed.Add(1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Calls returns the URLs fetched so far, in call order
func (m *MockFetcher) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CloseCount reports how many times Close was called
func (m *MockFetcher) CloseCount() int {
	return int(m.closed.Load())
}

// MaxConcurrent reports the highest number of Fetch calls seen in flight at once
func (m *MockFetcher) MaxConcurrent() int {
	return int(m.maxSeen.Load())
}

// NewPageFetcher serves bodies from pages keyed by URL. Any URL listed in
// failures fails with that error; unknown URLs fail with a 404 client error.
func NewPageFetcher(pages map[string]string, failures map[string]*fetcher.FetchError) *MockFetcher {
	return &MockFetcher{
		FetchFunc: func(ctx context.Context, url string) fetcher.Result {
			if fe, ok := failures[url]; ok {
				cp := *fe
				return fetcher.Failure(url, &cp, 0)
			}
			body, ok := pages[url]
			if !ok {
				return fetcher.Failure(url, fetcher.ClassifyHTTPError(404), 0)
			}
			return fetcher.Success(url, body, "text/html; charset=utf-8", 200, 0)
		},
	}
}

// HangingFetch blocks until ctx is done and then reports a timeout, the way
// the HTTP fetcher behaves against a server that never answers.
func HangingFetch(ctx context.Context, url string) fetcher.Result {
	start := time.Now()
	<-ctx.Done()
	return fetcher.Failure(url, fetcher.ClassifyTransportError(ctx.Err()), time.Since(start))
}

// SummaryPage renders a single two-column block holding the given cells
// in order: label, value, label, value...
func SummaryPage(cells ...string) string {
	return BlockPage(cells)
}

// BlockPage renders one two-column block per argument.
func BlockPage(blocks ...[]string) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>Summary Quote</title></head><body><div class="row">`)
	for _, cells := range blocks {
		b.WriteString(`<div class="column span-1-of-2"><div class="table">`)
		for _, c := range cells {
			b.WriteString(`<div class="table-row"><div class="table-cell">`)
			b.WriteString(html.EscapeString(c))
			b.WriteString(`</div></div>`)
		}
		b.WriteString(`</div></div>`)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}
