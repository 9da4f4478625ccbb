// Package service wires the directory, the crawler and the table into the
// crawl entrypoint used by the CLI and the HTTP frontend.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stockcrawler/internal/crawler"
	"stockcrawler/internal/directory"
	"stockcrawler/internal/events"
	"stockcrawler/internal/table"
)

const (
	defaultRetryWait = 500 * time.Millisecond
	maxRetryWait     = 10 * time.Second
)

// ErrNoListingURL is returned by Refresh when neither the caller nor the
// configuration names a listing URL.
var ErrNoListingURL = errors.New("no listing url configured")

// Options tunes a Service.
type Options struct {
	// MaxAttempts bounds directory lookups that fail with ErrUnavailable.
	MaxAttempts int
	// RetryWait is the first backoff between lookups; it doubles each attempt.
	RetryWait time.Duration
	// ReportDir receives one CSV per crawl when ReportEnabled is set.
	ReportDir     string
	ReportEnabled bool
	// ListingURL is the default source for Refresh.
	ListingURL string
	// Now stamps report files. Nil means time.Now.
	Now func() time.Time
}

// Outcome is the result of one crawl call.
type Outcome struct {
	CrawlID uuid.UUID
	Table   *table.Table
	// Missing lists requested symbols the directory did not know.
	Missing  []string
	Failures []crawler.Failure
	// ReportPath is empty when no report was written.
	ReportPath string
}

// Service runs crawls against a directory. A crawl holds a read lock from
// lookup to completion and a refresh holds the write lock, so the two never
// overlap.
type Service struct {
	dir       directory.Directory
	crawler   *crawler.Crawler
	refresher *directory.Refresher
	sink      events.Sink
	logger    *zap.Logger
	opts      Options

	mu sync.RWMutex
}

// New creates a Service. refresher may be nil when refresh is not offered.
func New(dir directory.Directory, c *crawler.Crawler, refresher *directory.Refresher, sink events.Sink, opts Options, logger *zap.Logger) *Service {
	if sink == nil {
		sink = events.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWait
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		dir:       dir,
		crawler:   c,
		refresher: refresher,
		sink:      sink,
		logger:    logger,
		opts:      opts,
	}
}

// ParseSymbols splits comma-separated input, trimming blanks.
func ParseSymbols(text string) []string {
	parts := strings.Split(text, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Crawl resolves symbols, crawls the targets and aggregates the records.
// An empty table is a normal result. The only error is a directory that stays
// unavailable after every attempt, or a cancelled ctx.
func (s *Service) Crawl(ctx context.Context, symbols []string) (*Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	crawlID := crawler.NewCrawlID()
	ctx = crawler.WithCrawlID(ctx, crawlID)
	log := s.logger.With(zap.String("crawl_id", crawlID.String()))

	res, err := s.resolve(ctx, crawlID, symbols)
	if err != nil {
		return nil, err
	}
	for _, sym := range res.Missing {
		s.sink.Emit(events.New(events.KindDirectoryMiss, crawlID, sym, "", &directory.MissError{Symbol: sym}))
	}

	report := s.crawler.CrawlDetailed(ctx, res.Targets)
	out := &Outcome{
		CrawlID:  crawlID,
		Table:    table.Aggregate(report.Records),
		Missing:  res.Missing,
		Failures: report.Failures,
	}

	if s.opts.ReportEnabled && out.Table.Len() > 0 {
		path, err := out.Table.SaveCSV(s.opts.ReportDir, s.opts.Now())
		if err != nil {
			log.Error("save report", zap.Error(err))
		} else {
			out.ReportPath = path
		}
	}

	log.Info("crawl served",
		zap.Int("requested", len(symbols)),
		zap.Int("targets", len(res.Targets)),
		zap.Int("missing", len(res.Missing)),
		zap.Int("rows", out.Table.Len()),
		zap.String("report", out.ReportPath),
	)
	return out, nil
}

// resolve retries lookups that fail with ErrUnavailable, doubling the wait
// each time. Other errors are returned at once.
func (s *Service) resolve(ctx context.Context, crawlID uuid.UUID, symbols []string) (directory.Resolution, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		res, err := s.dir.Resolve(ctx, symbols)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, directory.ErrUnavailable) {
			return directory.Resolution{}, fmt.Errorf("resolve symbols: %w", err)
		}
		lastErr = err
		s.logger.Warn("directory unavailable",
			zap.String("crawl_id", crawlID.String()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.opts.MaxAttempts),
			zap.Error(err),
		)
		if attempt == s.opts.MaxAttempts {
			break
		}

		timer := time.NewTimer(s.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return directory.Resolution{}, fmt.Errorf("resolve symbols: %w", errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}

	s.sink.Emit(events.New(events.KindDirectoryUnavailable, crawlID, "", "", lastErr))
	return directory.Resolution{}, fmt.Errorf("resolve symbols after %d attempts: %w", s.opts.MaxAttempts, lastErr)
}

// backoff returns RetryWait * 2^(attempt-1), capped, with up to 50% jitter.
func (s *Service) backoff(attempt int) time.Duration {
	d := s.opts.RetryWait << (attempt - 1)
	if d <= 0 || d > maxRetryWait {
		d = maxRetryWait
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half)
}

// Refresh downloads a listing and replaces the directory. An empty sourceURL
// uses the configured listing URL. The download runs alongside crawls; only
// the swap waits for running crawls to finish.
func (s *Service) Refresh(ctx context.Context, sourceURL string) error {
	if s.refresher == nil {
		return errors.New("directory refresh is not configured")
	}
	if sourceURL == "" {
		sourceURL = s.opts.ListingURL
	}
	if sourceURL == "" {
		return ErrNoListingURL
	}

	companies, err := s.refresher.Download(ctx, sourceURL)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresher.Apply(ctx, sourceURL, companies)
}

// Companies looks up the listing rows for symbols, with the same retry and
// miss handling as Crawl but without fetching any page.
func (s *Service) Companies(ctx context.Context, symbols []string) (directory.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolve(ctx, uuid.Nil, symbols)
}
