package crawler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcrawler/internal/events"
	"stockcrawler/internal/fetcher"
	"stockcrawler/internal/models"
	"stockcrawler/internal/parser"
	"stockcrawler/internal/testutil"
)

const base = "https://www.nasdaq.com/symbol/"

func target(symbol, name string) models.Target {
	return models.Target{URL: base + symbol, DisplayName: name}
}

func symbols(records []models.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		s, _ := r.Get(models.KeySymbol)
		out = append(out, s)
	}
	return out
}

func newCrawler(m *testutil.MockFetcher, opts Options, sink events.Sink) *Crawler {
	return New(func() fetcher.Fetcher { return m }, parser.New(), opts, sink, nil)
}

func TestCrawl_AllSucceed(t *testing.T) {
	t.Parallel()

	targets := []models.Target{
		target("AAPL", "Apple Inc."),
		target("MSFT", "Microsoft Corporation"),
		target("GOOG", "Alphabet Inc."),
	}
	pages := map[string]string{}
	for _, tg := range targets {
		pages[tg.URL] = testutil.SummaryPage("Market Cap", "$1T")
	}
	m := testutil.NewPageFetcher(pages, nil)

	got := newCrawler(m, Options{}, nil).Crawl(context.Background(), targets)

	assert.ElementsMatch(t, []string{"AAPL", "MSFT", "GOOG"}, symbols(got))
	assert.Equal(t, 1, m.CloseCount())
}

func TestCrawl_OneTimesOut(t *testing.T) {
	t.Parallel()

	targets := []models.Target{
		target("AAPL", "Apple Inc."),
		target("SLOW", "Slow Corp"),
		target("MSFT", "Microsoft Corporation"),
	}
	m := &testutil.MockFetcher{
		FetchFunc: func(ctx context.Context, url string) fetcher.Result {
			if url == base+"SLOW" {
				return testutil.HangingFetch(ctx, url)
			}
			return fetcher.Success(url, testutil.SummaryPage("Open", "$1"), "text/html", 200, 0)
		},
	}
	var rec events.Recorder

	c := newCrawler(m, Options{TaskTimeout: 50 * time.Millisecond}, &rec)
	report := c.CrawlDetailed(context.Background(), targets)

	require.Len(t, report.Records, 2)
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, symbols(report.Records))

	require.Len(t, report.Failures, 1)
	assert.Equal(t, events.KindTimeout, report.Failures[0].Kind)
	assert.False(t, report.Failures[0].Kept)
	assert.Equal(t, 1, report.Dropped())

	evts := rec.OfKind(events.KindTimeout)
	require.Len(t, evts, 1)
	assert.Equal(t, "SLOW", evts[0].Symbol)
	assert.Equal(t, report.CrawlID, evts[0].CrawlID)
	assert.NoError(t, evts[0].Validate())
	assert.Equal(t, 1, m.CloseCount())
}

func TestCrawl_MixedFailures(t *testing.T) {
	t.Parallel()

	var targets []models.Target
	pages := map[string]string{}
	for i := 0; i < 10; i++ {
		tg := target(fmt.Sprintf("S%02d", i), fmt.Sprintf("Stock %d", i))
		targets = append(targets, tg)
		pages[tg.URL] = testutil.SummaryPage("Open", "$1")
	}
	failures := map[string]*fetcher.FetchError{
		targets[1].URL: fetcher.ClassifyHTTPError(503),
		targets[4].URL: fetcher.NewNetworkError(fmt.Errorf("connection reset")),
		targets[7].URL: fetcher.ClassifyHTTPError(404),
	}
	m := testutil.NewPageFetcher(pages, failures)
	var rec events.Recorder

	got := newCrawler(m, Options{MaxInFlight: 3}, &rec).Crawl(context.Background(), targets)

	assert.Len(t, got, len(targets)-len(failures))
	assert.NotContains(t, symbols(got), "S01")
	assert.NotContains(t, symbols(got), "S04")
	assert.NotContains(t, symbols(got), "S07")
	assert.Len(t, rec.OfKind(events.KindStatus), 2)
	assert.Len(t, rec.OfKind(events.KindNetwork), 1)
}

func TestCrawl_ParseFailureKeepsMinimalRecord(t *testing.T) {
	t.Parallel()

	tg := target("AAPL", "Apple Inc.")
	m := testutil.NewPageFetcher(map[string]string{tg.URL: "<html><body>maintenance</body></html>"}, nil)
	var rec events.Recorder

	report := newCrawler(m, Options{}, &rec).CrawlDetailed(context.Background(), []models.Target{tg})

	require.Len(t, report.Records, 1)
	assert.Equal(t, map[string]string{"Company": "Apple Inc.", "Symbol": "AAPL"}, report.Records[0].Map())
	require.Len(t, report.Failures, 1)
	assert.True(t, report.Failures[0].Kept)
	assert.Zero(t, report.Dropped())
	assert.Len(t, rec.OfKind(events.KindParse), 1)
}

func TestCrawl_RespectsMaxInFlight(t *testing.T) {
	t.Parallel()

	var targets []models.Target
	for i := 0; i < 12; i++ {
		targets = append(targets, target(fmt.Sprintf("S%02d", i), "x"))
	}
	m := &testutil.MockFetcher{
		FetchFunc: func(ctx context.Context, url string) fetcher.Result {
			time.Sleep(10 * time.Millisecond)
			return fetcher.Success(url, testutil.SummaryPage("Open", "$1"), "text/html", 200, 0)
		},
	}

	got := newCrawler(m, Options{MaxInFlight: 2}, nil).Crawl(context.Background(), targets)

	assert.Len(t, got, 12)
	assert.LessOrEqual(t, m.MaxConcurrent(), 2)
}

func TestCrawl_DeadlineBoundsBatch(t *testing.T) {
	t.Parallel()

	targets := []models.Target{target("A", "a"), target("B", "b")}
	m := &testutil.MockFetcher{FetchFunc: testutil.HangingFetch}

	start := time.Now()
	report := newCrawler(m, Options{TaskTimeout: time.Minute, Deadline: 50 * time.Millisecond}, nil).
		CrawlDetailed(context.Background(), targets)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Empty(t, report.Records)
	assert.Len(t, report.Failures, 2)
}

func TestCrawl_PanickingFetcherIsContained(t *testing.T) {
	t.Parallel()

	targets := []models.Target{target("OK", "ok"), target("BOOM", "boom")}
	m := &testutil.MockFetcher{
		FetchFunc: func(ctx context.Context, url string) fetcher.Result {
			if url == base+"BOOM" {
				panic("unexpected")
			}
			return fetcher.Success(url, testutil.SummaryPage("Open", "$1"), "text/html", 200, 0)
		},
	}

	var report Report
	require.NotPanics(t, func() {
		report = newCrawler(m, Options{}, nil).CrawlDetailed(context.Background(), targets)
	})
	assert.Equal(t, []string{"OK"}, symbols(report.Records))
	require.Len(t, report.Failures, 1)
	assert.Equal(t, events.KindNetwork, report.Failures[0].Kind)
}

func TestCrawl_EmptyTargets(t *testing.T) {
	t.Parallel()

	var created bool
	c := New(func() fetcher.Fetcher {
		created = true
		return &testutil.MockFetcher{}
	}, nil, Options{}, nil, nil)

	got := c.Crawl(context.Background(), nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.False(t, created)
}

func TestCrawl_RecordTime(t *testing.T) {
	t.Parallel()

	tg := target("AAPL", "Apple Inc.")
	m := testutil.NewPageFetcher(map[string]string{tg.URL: testutil.SummaryPage("Open", "$1")}, nil)
	fixed := time.Date(2019, time.May, 3, 14, 7, 0, 0, time.UTC)

	got := newCrawler(m, Options{RecordTime: true, Now: func() time.Time { return fixed }}, nil).
		Crawl(context.Background(), []models.Target{tg})

	require.Len(t, got, 1)
	assert.Equal(t, []string{"Company", "Symbol", "Open", "Record Time"}, got[0].Keys())
	v, _ := got[0].Get(models.KeyRecordTime)
	assert.Equal(t, "2019/05/03 14:07", v)
}

func TestCrawl_FetcherPerCall(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var created []*testutil.MockFetcher
	c := New(func() fetcher.Fetcher {
		m := testutil.NewPageFetcher(nil, nil)
		mu.Lock()
		created = append(created, m)
		mu.Unlock()
		return m
	}, nil, Options{}, nil, nil)

	c.Crawl(context.Background(), []models.Target{target("A", "a")})
	c.Crawl(context.Background(), []models.Target{target("B", "b")})

	require.Len(t, created, 2)
	for _, m := range created {
		assert.Equal(t, 1, m.CloseCount())
	}
}

func TestCrawlIDFrom(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	assert.Equal(t, id, CrawlIDFrom(WithCrawlID(context.Background(), id)))

	fresh := CrawlIDFrom(context.Background())
	assert.NotEqual(t, uuid.Nil, fresh)
	assert.Equal(t, uuid.Version(7), fresh.Version())
}
