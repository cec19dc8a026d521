package fetcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hogarfamiliar/catastro-cli/internal/resilience"
)

const defaultMaxBodyBytes = 16 << 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent      string
	ConnectTimeout time.Duration
	Timeout        time.Duration
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
	// RateLimit is the per-host requests-per-second budget; 0 disables it.
	RateLimit    float64
	MaxBodyBytes int64
	Retry        resilience.RetryConfig
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher implements Fetcher using net/http with retry and optional
// per-host rate limiting. It is safe for concurrent use.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "SistemaCatastralHogarFamiliar/1.0"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("catastro", "http_get")
	}

	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: opts.ConnectTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // opt-in through http.verify_ssl=false
		},
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	if f.opts.RateLimit <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		burst := int(f.opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		lim = NewAdaptiveLimiter(rate.Limit(f.opts.RateLimit), burst)
		f.limiters[host] = lim
	}
	return lim
}

// Get fetches rawURL, retrying on 429, 5xx and transport failures.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/xml, text/xml;q=0.9, */*;q=0.8")

	limiter := f.limiterFor(req.URL.Host)

	resp, err := resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) (*Response, error) {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, &waitRefusedError{err: err}
			}
		}
		return f.attempt(ctx, req, limiter)
	})
	if err == nil {
		return resp, nil
	}

	// Retries exhausted on a 429/5xx: hand the last response to the caller.
	var se *StatusError
	if errors.As(err, &se) {
		return se.Response, nil
	}

	if ctx.Err() != nil {
		return nil, eris.Wrap(err, "fetcher: get")
	}

	var tooLarge *BodyTooLargeError
	if errors.As(err, &tooLarge) {
		return nil, tooLarge
	}

	var refused *waitRefusedError
	if resilience.IsUnreachable(err) || errors.As(err, &refused) {
		zap.L().Warn("upstream unreachable after retries",
			zap.String("host", req.URL.Host),
			zap.Error(err),
		)
		return transportFailure(err), nil
	}

	return nil, eris.Wrap(err, "fetcher: get")
}

func (f *HTTPFetcher) attempt(ctx context.Context, req *http.Request, limiter *AdaptiveLimiter) (*Response, error) {
	resp, err := f.client.Do(req.Clone(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "read body"), 0)
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		return nil, &BodyTooLargeError{URL: req.URL.String(), Limit: f.opts.MaxBodyBytes}
	}

	out := &Response{StatusCode: resp.StatusCode, Body: body}

	switch {
	case resilience.IsTerminalHTTPStatus(resp.StatusCode):
		if limiter != nil {
			limiter.OnSuccess()
		}
		return out, nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		if resp.StatusCode == http.StatusTooManyRequests && limiter != nil {
			limiter.OnRateLimit()
		}
		return nil, resilience.NewTransientError(&StatusError{URL: req.URL.String(), Response: out}, resp.StatusCode)
	default:
		// Other 4xx responses are final and are not retried.
		return out, nil
	}
}

// waitRefusedError reports a rate limiter that cannot grant a slot before the
// context deadline. It is not retried: a later attempt has even less time.
type waitRefusedError struct {
	err error
}

func (e *waitRefusedError) Error() string {
	return "rate limiter: " + e.err.Error()
}

func (e *waitRefusedError) Unwrap() error {
	return e.err
}

// transportFailure builds the synthetic 503 returned when no upstream
// response was ever received.
func transportFailure(err error) *Response {
	var buf bytes.Buffer
	buf.WriteString("<error><message>transport error: ")
	_ = xml.EscapeText(&buf, []byte(err.Error()))
	buf.WriteString("</message></error>")
	return &Response{
		StatusCode: http.StatusServiceUnavailable,
		Body:       buf.Bytes(),
		Synthetic:  true,
	}
}
