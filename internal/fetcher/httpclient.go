package fetcher

import (
	"io"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"resty.dev/v3"
)

const (
	defaultTimeout          = 15 * time.Second
	defaultUserAgent        = "stockcrawler/1.0"
	defaultRetryWaitTime    = 500 * time.Millisecond
	defaultRetryMaxWaitTime = 10 * time.Second
)

// Options tunes the resty client shared by one crawl or one directory download
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64

	// RetryCount is the number of extra attempts after the first one
	RetryCount       int
	RetryWaitTime    time.Duration
	RetryMaxWaitTime time.Duration
}

// NewHTTPClient builds a resty client. When RetryCount > 0 it retries network
// errors, 5xx, 429 and 408 with exponential backoff.
func NewHTTPClient(opts Options, logger *zap.Logger) *resty.Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetLogger(logger.Sugar()).
		AddContentDecompresser("br", decompressBrotli).
		AddContentDecompresser("zstd", decompressZstd)

	if opts.MaxBodyBytes > 0 {
		client.SetResponseBodyLimit(opts.MaxBodyBytes)
	}

	if opts.RetryCount <= 0 {
		return client.SetRetryCount(0)
	}

	if opts.RetryWaitTime <= 0 {
		opts.RetryWaitTime = defaultRetryWaitTime
	}
	if opts.RetryMaxWaitTime <= 0 {
		opts.RetryMaxWaitTime = defaultRetryMaxWaitTime
	}
	return client.
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWaitTime).
		SetRetryMaxWaitTime(opts.RetryMaxWaitTime).
		AddRetryConditions(retryCondition).
		AddRetryHooks(retryHook(logger))
}

// retryCondition decides whether a response or error is worth another attempt
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	switch code := r.StatusCode(); {
	case code >= 500, code == 429, code == 408:
		return true
	default:
		return false
	}
}

func retryHook(logger *zap.Logger) resty.RetryHookFunc {
	return func(r *resty.Response, err error) {
		fields := []zap.Field{
			zap.String("url", r.Request.URL),
			zap.Int("attempt", r.Request.Attempt),
		}
		if err != nil {
			logger.Debug("retrying request due to error", append(fields, zap.Error(err))...)
			return
		}
		logger.Debug("retrying request due to status code", append(fields, zap.Int("status_code", r.StatusCode()))...)
	}
}

type brotliReadCloser struct {
	*brotli.Reader
	src io.ReadCloser
}

func (b *brotliReadCloser) Close() error { return b.src.Close() }

func decompressBrotli(r io.ReadCloser) (io.ReadCloser, error) {
	return &brotliReadCloser{Reader: brotli.NewReader(r), src: r}, nil
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	src io.ReadCloser
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.src.Close()
}

func decompressZstd(r io.ReadCloser) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &zstdReadCloser{dec: dec, src: r}, nil
}
