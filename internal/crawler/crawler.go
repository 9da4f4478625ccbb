// Package crawler fetches and parses a batch of summary pages concurrently.
package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stockcrawler/internal/events"
	"stockcrawler/internal/fetcher"
	"stockcrawler/internal/metrics"
	"stockcrawler/internal/models"
	"stockcrawler/internal/parser"
)

// RecordTimeLayout formats the optional Record Time field.
const RecordTimeLayout = "2006/01/02 15:04"

const defaultTaskTimeout = 20 * time.Second

// NewFetcherFunc creates the fetcher owned by a single crawl call.
type NewFetcherFunc func() fetcher.Fetcher

// Options tunes a Crawler.
type Options struct {
	// MaxInFlight caps concurrent tasks. Zero means one goroutine per target.
	MaxInFlight int
	// TaskTimeout bounds each fetch. Zero uses 20s.
	TaskTimeout time.Duration
	// Deadline bounds the whole batch. Zero means no batch deadline.
	Deadline time.Duration
	// RecordTime adds a "Record Time" field to every record.
	RecordTime bool
	// Now is used for Record Time. Nil means time.Now.
	Now func() time.Time
}

// Crawler runs batches of targets through a fetcher and a parser
type Crawler struct {
	newFetcher NewFetcherFunc
	parser     *parser.Parser
	sink       events.Sink
	logger     *zap.Logger
	opts       Options
}

// New creates a Crawler. A nil parser uses parser.New(); nil sink and logger discard.
func New(newFetcher NewFetcherFunc, p *parser.Parser, opts Options, sink events.Sink, logger *zap.Logger) *Crawler {
	if p == nil {
		p = parser.New()
	}
	if sink == nil {
		sink = events.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Crawler{newFetcher: newFetcher, parser: p, sink: sink, logger: logger, opts: opts}
}

// Failure is one target that failed to fetch or parse cleanly.
type Failure struct {
	Target models.Target
	Kind   events.Kind
	Err    error
	// Kept is true when a degraded record was still added to Records.
	Kept bool
}

// Report is the detailed result of one crawl call.
type Report struct {
	CrawlID  uuid.UUID
	Records  []models.Record
	Failures []Failure
}

// Dropped counts failures that produced no record.
func (r Report) Dropped() int {
	n := 0
	for _, f := range r.Failures {
		if !f.Kept {
			n++
		}
	}
	return n
}

// Crawl returns the records that could be produced, dropping fetch failures.
// It never returns an error; failures are reported to the event sink.
func (c *Crawler) Crawl(ctx context.Context, targets []models.Target) []models.Record {
	return c.CrawlDetailed(ctx, targets).Records
}

type outcome struct {
	record  models.Record
	ok      bool
	failure *Failure
}

// CrawlDetailed fetches every target concurrently and waits for all of them to
// settle. Each task writes only its own slot, so results need no lock.
func (c *Crawler) CrawlDetailed(ctx context.Context, targets []models.Target) Report {
	crawlID := CrawlIDFrom(ctx)
	report := Report{CrawlID: crawlID, Records: []models.Record{}}
	if len(targets) == 0 {
		return report
	}

	if c.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Deadline)
		defer cancel()
	}

	f := c.newFetcher()
	defer func() {
		if err := f.Close(); err != nil {
			c.logger.Warn("close fetcher", zap.String("crawl_id", crawlID.String()), zap.Error(err))
		}
	}()

	start := time.Now()
	slots := make([]outcome, len(targets))

	var g errgroup.Group
	if c.opts.MaxInFlight > 0 {
		g.SetLimit(c.opts.MaxInFlight)
	}
	for i, t := range targets {
		g.Go(func() error {
			slots[i] = c.run(ctx, f, crawlID, t)
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range slots {
		if s.ok {
			report.Records = append(report.Records, s.record)
		}
		if s.failure != nil {
			report.Failures = append(report.Failures, *s.failure)
		}
	}

	elapsed := time.Since(start)
	metrics.ObserveCrawl(elapsed, len(report.Records))
	c.logger.Info("crawl finished",
		zap.String("crawl_id", crawlID.String()),
		zap.Int("targets", len(targets)),
		zap.Int("records", len(report.Records)),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("elapsed", elapsed),
	)
	return report
}

// run handles one target. It never panics.
func (c *Crawler) run(ctx context.Context, f fetcher.Fetcher, crawlID uuid.UUID, t models.Target) (out outcome) {
	metrics.IncInFlight()
	defer metrics.DecInFlight()

	defer func() {
		if p := recover(); p != nil {
			err := fetcher.NewNetworkError(fmt.Errorf("task panicked: %v", p))
			err.URL = t.URL
			out = c.fail(crawlID, t, events.KindNetwork, err, false)
		}
	}()

	taskCtx, cancel := context.WithTimeout(ctx, c.opts.TaskTimeout)
	defer cancel()

	res := f.Fetch(taskCtx, t.URL)
	if !res.OK() {
		metrics.ObserveFetch(string(res.Err.Type))
		return c.fail(crawlID, t, events.KindOf(res.Err), res.Err, false)
	}
	metrics.ObserveFetch("success")
	c.logger.Debug("fetched",
		zap.String("crawl_id", crawlID.String()),
		zap.String("url", t.URL),
		zap.Int("status", res.StatusCode),
		zap.Duration("duration", res.Duration),
	)

	rec, err := c.parser.Parse(res.Body, res.ContentType, t)
	if c.opts.RecordTime {
		rec.Set(models.KeyRecordTime, c.opts.Now().Format(RecordTimeLayout))
	}
	out = outcome{record: rec, ok: true}
	if err != nil {
		// A degraded page still yields its minimal record.
		fo := c.fail(crawlID, t, events.KindParse, err, true)
		out.failure = fo.failure
	}
	return out
}

func (c *Crawler) fail(crawlID uuid.UUID, t models.Target, kind events.Kind, err error, kept bool) outcome {
	c.sink.Emit(events.New(kind, crawlID, t.Symbol(), t.URL, err))
	return outcome{failure: &Failure{Target: t, Kind: kind, Err: err, Kept: kept}}
}

type crawlIDKey struct{}

// WithCrawlID attaches id to ctx so events from the crawl carry it.
func WithCrawlID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, crawlIDKey{}, id)
}

// CrawlIDFrom returns the crawl ID stored in ctx, or a fresh UUIDv7.
func CrawlIDFrom(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(crawlIDKey{}).(uuid.UUID); ok && id != uuid.Nil {
		return id
	}
	return NewCrawlID()
}

// NewCrawlID returns a time-ordered crawl ID.
func NewCrawlID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
