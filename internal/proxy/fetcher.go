package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTooManyRedirects is returned when a redirect chain exceeds the budget.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrUpstreamUnavailable is returned when the origin stays unreachable
	// after the retry budget is spent.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

const (
	defaultAttemptTimeout = 10 * time.Second
	defaultRetryBaseDelay = 200 * time.Millisecond
)

// FetcherConfig holds upstream fetcher settings
type FetcherConfig struct {
	MaxRedirects   int
	MaxRetries     int
	RetryBaseDelay time.Duration
	AttemptTimeout time.Duration
	Logger         *slog.Logger
}

// UpstreamResponse is a streamed origin response. The caller owns Body and
// must close it.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Fetcher issues HTTP requests against the origin. It follows redirects
// manually, retries transient failures with backoff, and keeps a pooled
// transport so connections are reused per host.
type Fetcher struct {
	client         *http.Client
	maxRedirects   int
	maxRetries     int
	retryBaseDelay time.Duration
	logger         *slog.Logger
}

// NewFetcher creates a new upstream fetcher
func NewFetcher(cfg *FetcherConfig) *Fetcher {
	attemptTimeout := cfg.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = defaultAttemptTimeout
	}

	retryBaseDelay := cfg.RetryBaseDelay
	if retryBaseDelay <= 0 {
		retryBaseDelay = defaultRetryBaseDelay
	}

	// The attempt deadline covers dialing, TLS, and response headers. Body
	// reads are bounded by the caller's context instead, so a long transfer
	// to a slow client is not mistaken for a dead origin.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   attemptTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   attemptTimeout,
		ResponseHeaderTimeout: attemptTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				// Redirects are handled in Fetch so the budget and the
				// 303 Range rule stay under our control.
				return http.ErrUseLastResponse
			},
		},
		maxRedirects:   cfg.MaxRedirects,
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: retryBaseDelay,
		logger:         cfg.Logger,
	}
}

// Fetch issues a request and follows redirects up to the configured budget.
// A 303 answer forces the next hop to GET and drops any Range header, since
// the redirected resource need not share the original's byte layout.
func (f *Fetcher) Fetch(ctx context.Context, method, rawURL string, header http.Header) (*UpstreamResponse, error) {
	redirectsLeft := f.maxRedirects
	currentURL := rawURL

	for {
		resp, err := f.attempt(ctx, method, currentURL, header)
		if err != nil {
			return nil, err
		}

		location := resp.Header.Get("Location")
		if resp.StatusCode < 300 || resp.StatusCode >= 400 || location == "" {
			return &UpstreamResponse{
				StatusCode: resp.StatusCode,
				Header:     resp.Header,
				Body:       resp.Body,
			}, nil
		}

		resp.Body.Close()

		if redirectsLeft <= 0 {
			return nil, fmt.Errorf("%w: budget of %d exhausted at %s", ErrTooManyRedirects, f.maxRedirects, currentURL)
		}
		redirectsLeft--

		nextURL, err := resolveLocation(currentURL, location)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect location %q: %w", location, err)
		}

		if resp.StatusCode == http.StatusSeeOther {
			method = http.MethodGet
			header = withoutRange(header)
		}

		f.logger.Debug("following redirect",
			slog.Int("status", resp.StatusCode),
			slog.String("location", nextURL),
			slog.Int("redirects_left", redirectsLeft),
		)

		currentURL = nextURL
	}
}

// attempt performs a single logical request with transient-failure retries.
func (f *Fetcher) attempt(ctx context.Context, method, rawURL string, header http.Header) (*http.Response, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		copyHeader(req.Header, header)

		resp, err := f.client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isTransient(err) {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}

		if attempt > f.maxRetries {
			break
		}

		delay := f.retryBaseDelay * time.Duration(attempt)
		f.logger.Warn("transient upstream failure, retrying",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}

// Probe resolves the length and content type of a resource. Origins that
// reject HEAD are probed again with a one-byte GET range.
func (f *Fetcher) Probe(ctx context.Context, rawURL string) (int64, string, error) {
	resp, err := f.Fetch(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		return f.probeWithRange(ctx, rawURL)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, "", fmt.Errorf("%w: probe returned status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	length, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil || length < 0 {
		// Some origins omit Content-Length on HEAD.
		return f.probeWithRange(ctx, rawURL)
	}

	return length, resp.Header.Get("Content-Type"), nil
}

// Open fetches the full body of a resource, failing on non-2xx statuses.
func (f *Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := f.Fetch(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d for %s", ErrUpstreamUnavailable, resp.StatusCode, rawURL)
	}

	return resp.Body, nil
}

func (f *Fetcher) probeWithRange(ctx context.Context, rawURL string) (int64, string, error) {
	header := make(http.Header)
	header.Set("Range", "bytes=0-0")

	resp, err := f.Fetch(ctx, http.MethodGet, rawURL, header)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")

	switch resp.StatusCode {
	case http.StatusPartialContent:
		total, err := parseContentRangeTotal(resp.Header.Get("Content-Range"))
		if err != nil {
			return 0, "", fmt.Errorf("probe %s: %w", rawURL, err)
		}
		return total, contentType, nil
	case http.StatusOK:
		length, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
		if err != nil || length < 0 {
			return 0, "", fmt.Errorf("probe %s: origin reports no usable length", rawURL)
		}
		return length, contentType, nil
	default:
		return 0, "", fmt.Errorf("%w: probe returned status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
}

// parseContentRangeTotal extracts the total length from a Content-Range
// value such as "bytes 0-0/1000".
func parseContentRangeTotal(value string) (int64, error) {
	_, totalStr, ok := strings.Cut(value, "/")
	if !ok || totalStr == "*" {
		return 0, fmt.Errorf("unusable Content-Range %q", value)
	}

	total, err := strconv.ParseInt(totalStr, 10, 64)
	if err != nil || total < 0 {
		return 0, fmt.Errorf("unusable Content-Range %q", value)
	}

	return total, nil
}

// isTransient reports whether a failure is worth retrying. Cancellation by
// the caller is never transient; everything that looks like a flaky network
// (timeouts, DNS, refused or dropped connections) is.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}

func resolveLocation(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	locURL, err := url.Parse(location)
	if err != nil {
		return "", err
	}

	return baseURL.ResolveReference(locURL).String(), nil
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func withoutRange(header http.Header) http.Header {
	if header == nil {
		return nil
	}

	clone := header.Clone()
	clone.Del("Range")
	return clone
}
