package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ErrOriginNotAllowed is returned for stream sources whose host is not on
// the configured allow-list.
var ErrOriginNotAllowed = errors.New("origin not allowed")

// FallbackReader is the slice of the local fallback store the proxy needs.
// Open with length < 0 reads to the end of the entry.
type FallbackReader interface {
	Stat(id string) (size int64, contentType string, err error)
	Open(id string, offset, length int64) (io.ReadCloser, error)
}

// StreamResult is the proxy's answer to one stream request. The caller owns
// Body and must close it.
type StreamResult struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// Config holds range-streaming proxy settings
type Config struct {
	Fetcher          *Fetcher
	Fallback         FallbackReader
	AllowedOrigins   []string
	DefaultChunkSize int64
	Logger           *slog.Logger
}

// Proxy relays byte ranges of origin resources to clients, degrading to the
// local fallback store when the origin is unreachable.
type Proxy struct {
	fetcher          *Fetcher
	fallback         FallbackReader
	allowedOrigins   []string
	defaultChunkSize int64
	logger           *slog.Logger
}

// New creates a new range-streaming proxy
func New(cfg *Config) *Proxy {
	return &Proxy{
		fetcher:          cfg.Fetcher,
		fallback:         cfg.Fallback,
		allowedOrigins:   cfg.AllowedOrigins,
		defaultChunkSize: cfg.DefaultChunkSize,
		logger:           cfg.Logger,
	}
}

// Handle resolves one stream request. src is the origin URL, fallbackID an
// optional local copy to degrade to, rangeHeader the client's Range header
// (empty for full-resource mode).
func (p *Proxy) Handle(ctx context.Context, src, fallbackID, rangeHeader string) (*StreamResult, error) {
	srcURL, err := url.Parse(src)
	if err != nil || (srcURL.Scheme != "http" && srcURL.Scheme != "https") || srcURL.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrOriginNotAllowed, src)
	}
	if !p.hostAllowed(srcURL) {
		return nil, fmt.Errorf("%w: host %q", ErrOriginNotAllowed, srcURL.Host)
	}

	total, contentType, err := p.fetcher.Probe(ctx, src)
	if err != nil {
		return p.degrade(src, fallbackID, rangeHeader, err)
	}

	spec, err := ParseRange(rangeHeader, total, p.defaultChunkSize)
	if err != nil {
		if errors.Is(err, ErrRangeNotSatisfiable) {
			return unsatisfiableResult(total), nil
		}
		return nil, err
	}

	upstreamHeader := make(http.Header)
	if spec != nil {
		upstreamHeader.Set("Range", fmt.Sprintf("bytes=%d-%d", spec.Start, spec.End))
	}

	resp, err := p.fetcher.Fetch(ctx, http.MethodGet, src, upstreamHeader)
	if err != nil {
		return p.degrade(src, fallbackID, rangeHeader, err)
	}

	header := relayHeader(resp.Header)
	if header.Get("Content-Type") == "" && contentType != "" {
		header.Set("Content-Type", contentType)
	}
	if header.Get("Content-Length") == "" && spec == nil {
		header.Set("Content-Length", strconv.FormatInt(total, 10))
	}
	header.Set("Accept-Ranges", "bytes")

	return &StreamResult{
		Status: resp.StatusCode,
		Header: header,
		Body:   resp.Body,
	}, nil
}

// degrade serves the request from the fallback store if the origin failure
// is worth degrading for and a local copy exists; otherwise the original
// error is surfaced.
func (p *Proxy) degrade(src, fallbackID, rangeHeader string, cause error) (*StreamResult, error) {
	if !errors.Is(cause, ErrUpstreamUnavailable) && !errors.Is(cause, ErrTooManyRedirects) {
		return nil, cause
	}
	if fallbackID == "" || p.fallback == nil {
		return nil, cause
	}

	result, err := p.serveFallback(fallbackID, rangeHeader)
	if err != nil {
		p.logger.Error("origin unreachable and fallback copy unusable",
			slog.String("src", src),
			slog.String("fallback_id", fallbackID),
			slog.String("error", err.Error()),
		)
		return nil, cause
	}

	p.logger.Warn("origin unreachable, serving fallback copy",
		slog.String("src", src),
		slog.String("fallback_id", fallbackID),
		slog.String("cause", cause.Error()),
	)

	return result, nil
}

func (p *Proxy) serveFallback(id, rangeHeader string) (*StreamResult, error) {
	size, contentType, err := p.fallback.Stat(id)
	if err != nil {
		return nil, err
	}

	spec, err := ParseRange(rangeHeader, size, p.defaultChunkSize)
	if err != nil {
		if errors.Is(err, ErrRangeNotSatisfiable) {
			return unsatisfiableResult(size), nil
		}
		return nil, err
	}

	header := make(http.Header)
	header.Set("Content-Type", contentType)
	header.Set("Accept-Ranges", "bytes")

	if spec == nil {
		body, err := p.fallback.Open(id, 0, -1)
		if err != nil {
			return nil, err
		}
		header.Set("Content-Length", strconv.FormatInt(size, 10))
		return &StreamResult{Status: http.StatusOK, Header: header, Body: body}, nil
	}

	body, err := p.fallback.Open(id, spec.Start, spec.Length())
	if err != nil {
		return nil, err
	}
	header.Set("Content-Length", strconv.FormatInt(spec.Length(), 10))
	header.Set("Content-Range", spec.ContentRange())
	return &StreamResult{Status: http.StatusPartialContent, Header: header, Body: body}, nil
}

func (p *Proxy) hostAllowed(u *url.URL) bool {
	host := u.Host
	hostname := u.Hostname()
	for _, allowed := range p.allowedOrigins {
		if strings.EqualFold(allowed, host) || strings.EqualFold(allowed, hostname) {
			return true
		}
	}
	return false
}

func unsatisfiableResult(total int64) *StreamResult {
	header := make(http.Header)
	header.Set("Content-Range", UnsatisfiableContentRange(total))
	header.Set("Accept-Ranges", "bytes")
	return &StreamResult{
		Status: http.StatusRequestedRangeNotSatisfiable,
		Header: header,
		Body:   http.NoBody,
	}
}

// relayHeader copies the headers a range response is defined by; everything
// else from the origin stays private.
func relayHeader(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "Last-Modified", "ETag"} {
		if value := src.Get(key); value != "" {
			dst.Set(key, value)
		}
	}
	return dst
}
