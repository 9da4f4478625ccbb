package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"

	"stockcrawler/internal/fetcher"
	"stockcrawler/internal/models"
)

// RefreshOptions tunes the listing download.
type RefreshOptions struct {
	// MaxAttempts bounds the download, counting the first try. Values below 1 mean 1.
	MaxAttempts int
	// RetryWait is the initial backoff between attempts.
	RetryWait time.Duration
	Timeout   time.Duration
	UserAgent string
}

// Refresher downloads a company listing and swaps it into a Directory.
type Refresher struct {
	dir    Directory
	client *resty.Client
	logger *zap.Logger
}

// NewRefresher creates a Refresher with its own retrying HTTP client.
func NewRefresher(dir Directory, opts RefreshOptions, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	client := fetcher.NewHTTPClient(fetcher.Options{
		Timeout:       opts.Timeout,
		UserAgent:     opts.UserAgent,
		RetryCount:    opts.MaxAttempts - 1,
		RetryWaitTime: opts.RetryWait,
	}, logger)
	return &Refresher{dir: dir, client: client, logger: logger}
}

// Refresh reports whether the directory was replaced. Failures are logged,
// never raised.
func (r *Refresher) Refresh(ctx context.Context, sourceURL string) bool {
	if err := r.RefreshErr(ctx, sourceURL); err != nil {
		r.logger.Error("directory refresh failed", zap.String("url", sourceURL), zap.Error(err))
		return false
	}
	return true
}

// RefreshErr is Refresh for callers that want the cause.
func (r *Refresher) RefreshErr(ctx context.Context, sourceURL string) error {
	companies, err := r.Download(ctx, sourceURL)
	if err != nil {
		return err
	}
	return r.Apply(ctx, sourceURL, companies)
}

// Download fetches and parses the listing at sourceURL without touching the
// directory.
func (r *Refresher) Download(ctx context.Context, sourceURL string) (companies []models.Company, err error) {
	defer func() {
		if p := recover(); p != nil {
			companies, err = nil, fmt.Errorf("refresh panicked: %v", p)
		}
	}()

	if sourceURL == "" {
		return nil, errors.New("listing url is required")
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Accept", "text/csv,text/plain;q=0.9,*/*;q=0.8").
		Get(sourceURL)
	if err != nil {
		fe := fetcher.ClassifyTransportError(err)
		fe.URL = sourceURL
		return nil, fmt.Errorf("download listing: %w", fe)
	}
	if !resp.IsSuccess() {
		fe := fetcher.ClassifyHTTPError(resp.StatusCode())
		fe.URL = sourceURL
		return nil, fmt.Errorf("download listing: %w", fe)
	}

	companies, err = ParseListing(bytes.NewReader(resp.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	return companies, nil
}

// Apply replaces the directory contents with companies downloaded from sourceURL.
func (r *Refresher) Apply(ctx context.Context, sourceURL string, companies []models.Company) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("refresh panicked: %v", p)
		}
	}()

	start := time.Now()
	if err := r.dir.Replace(ctx, companies); err != nil {
		return fmt.Errorf("replace directory: %w", err)
	}

	r.logger.Info("directory refreshed",
		zap.String("url", sourceURL),
		zap.Int("companies", len(companies)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Close releases the download client.
func (r *Refresher) Close() error {
	return r.client.Close()
}
