package fetcher

import "time"

// Result is the outcome of one GET. Exactly one of Body or Err is meaningful:
// a nil Err is a success, a non-nil Err is a failure and Body is empty.
type Result struct {
	// URL is the address that was requested
	URL string

	// Body is the raw response body as text
	Body string

	// ContentType is the response Content-Type header, used for charset detection
	ContentType string

	// StatusCode is zero when no response was received
	StatusCode int

	// Duration is the wall time spent on the request
	Duration time.Duration

	// Err describes the failure, if any
	Err *FetchError
}

// OK reports whether the fetch produced a body
func (r Result) OK() bool {
	return r.Err == nil
}

// Success builds a successful result
func Success(url, body, contentType string, status int, d time.Duration) Result {
	return Result{URL: url, Body: body, ContentType: contentType, StatusCode: status, Duration: d}
}

// Failure builds a failed result and stamps the URL onto the error
func Failure(url string, err *FetchError, d time.Duration) Result {
	err.URL = url
	return Result{URL: url, StatusCode: err.StatusCode, Duration: d, Err: err}
}
