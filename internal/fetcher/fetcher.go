// Package fetcher issues upstream HTTP GET requests with timeouts, retries
// and exponential backoff, reducing every outcome to a status code and body.
package fetcher

import (
	"context"
	"fmt"
	"net/url"
)

// Fetcher defines the transport used by the acquisition pipeline.
type Fetcher interface {
	// Get fetches the URL and returns the final status code and body. A
	// transport-level failure that survives all retries is reported as a
	// synthetic 503 response rather than an error; an error is returned only
	// when the request cannot complete locally, or when the body exceeds the
	// size limit.
	Get(ctx context.Context, url string) (*Response, error)
}

// Response is the raw outcome of an upstream call. Body is never mutated
// after it is returned.
type Response struct {
	StatusCode int
	Body       []byte
	// Synthetic marks a response built locally after transport failures.
	Synthetic bool
}

// OK reports whether the upstream answered 200.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode == 200
}

// StatusError carries a retryable upstream response through the retry loop.
type StatusError struct {
	URL      string
	Response *Response
}

func (e *StatusError) Error() string {
	host := e.URL
	if u, err := url.Parse(e.URL); err == nil && u.Host != "" {
		host = u.Host
	}
	return fmt.Sprintf("http %d from %s", e.Response.StatusCode, host)
}

// BodyTooLargeError is returned when an upstream body exceeds the configured
// limit. The body is discarded rather than truncated.
type BodyTooLargeError struct {
	URL   string
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("response body from %s exceeds %d bytes", e.URL, e.Limit)
}
