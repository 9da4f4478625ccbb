package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"
)

// Fetcher performs single GETs against summary pages.
// Implementations never return a Go error from Fetch: every failure is
// carried in Result.Err so one bad page cannot abort a batch.
type Fetcher interface {
	// Fetch retrieves url once, without retrying
	Fetch(ctx context.Context, url string) Result

	// Close releases pooled connections. The fetcher must not be used afterwards.
	Close() error
}

// HTTPFetcher is the resty-backed Fetcher used by the crawler
type HTTPFetcher struct {
	client  *resty.Client
	logger  *zap.Logger
	maxBody int64
}

// NewHTTPFetcher creates a fetcher with its own connection pool.
// Retries are always disabled here; retry policy belongs to the caller.
func NewHTTPFetcher(opts Options, logger *zap.Logger) *HTTPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.RetryCount = 0
	return &HTTPFetcher{
		client:  NewHTTPClient(opts, logger),
		logger:  logger,
		maxBody: opts.MaxBodyBytes,
	}
}

// Fetch issues a GET and classifies every failure mode into a FetchError
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (res Result) {
	start := time.Now()
	defer func() {
		// resty hooks and decompressers run user code; never let a panic escape
		if p := recover(); p != nil {
			f.logger.Error("fetch panicked", zap.String("url", url), zap.Any("panic", p))
			res = Failure(url, &FetchError{Type: ErrorTypeNetwork, Message: "fetch panicked"}, time.Since(start))
		}
	}()

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8").
		Get(url)
	if err != nil {
		return Failure(url, ClassifyTransportError(err), time.Since(start))
	}

	if !resp.IsSuccess() {
		return Failure(url, ClassifyHTTPError(resp.StatusCode()), time.Since(start))
	}

	body := resp.Bytes()
	if f.maxBody > 0 && int64(len(body)) > f.maxBody {
		return Failure(url, &FetchError{
			Type:    ErrorTypeNetwork,
			Message: fmt.Sprintf("response body exceeds %d bytes", f.maxBody),
		}, time.Since(start))
	}

	return Success(url, string(body), resp.Header().Get("Content-Type"), resp.StatusCode(), time.Since(start))
}

// Close releases the underlying client
func (f *HTTPFetcher) Close() error {
	return f.client.Close()
}
