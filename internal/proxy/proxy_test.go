package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFallback is an in-memory FallbackReader for tests.
type memFallback struct {
	entries map[string][]byte
}

func (m *memFallback) Stat(id string) (int64, string, error) {
	data, ok := m.entries[id]
	if !ok {
		return 0, "", fmt.Errorf("no entry %q", id)
	}
	return int64(len(data)), "video/mp4", nil
}

func (m *memFallback) Open(id string, offset, length int64) (io.ReadCloser, error) {
	data, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("no entry %q", id)
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	window := data[offset:]
	if length >= 0 && length < int64(len(window)) {
		window = window[:length]
	}
	return io.NopCloser(bytes.NewReader(window)), nil
}

func serverHost(t *testing.T, server *httptest.Server) string {
	t.Helper()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	return u.Host
}

func newTestProxy(allowedOrigins []string, fallback FallbackReader) *Proxy {
	return New(&Config{
		Fetcher:          newTestFetcher(5, 1),
		Fallback:         fallback,
		AllowedOrigins:   allowedOrigins,
		DefaultChunkSize: 256,
		Logger:           testLogger(),
	})
}

func newOrigin(t *testing.T, content []byte) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		http.ServeContent(w, r, "clip.mp4", time.Now(), bytes.NewReader(content))
	}))
}

func TestProxy_Handle_FullResource(t *testing.T) {
	content := bytes.Repeat([]byte("a"), 1000)
	origin := newOrigin(t, content)
	defer origin.Close()

	p := newTestProxy([]string{serverHost(t, origin)}, nil)

	result, err := p.Handle(context.Background(), origin.URL, "", "")
	require.NoError(t, err)
	defer result.Body.Close()

	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, "1000", result.Header.Get("Content-Length"))
	assert.Equal(t, "video/mp4", result.Header.Get("Content-Type"))
	assert.Equal(t, "bytes", result.Header.Get("Accept-Ranges"))

	body, err := io.ReadAll(result.Body)
	require.NoError(t, err)
	assert.Equal(t, content, body)
}

func TestProxy_Handle_PartialContent(t *testing.T) {
	content := []byte(strings.Repeat("0123456789", 100))
	origin := newOrigin(t, content)
	defer origin.Close()

	p := newTestProxy([]string{serverHost(t, origin)}, nil)

	result, err := p.Handle(context.Background(), origin.URL, "", "bytes=0-99")
	require.NoError(t, err)
	defer result.Body.Close()

	assert.Equal(t, http.StatusPartialContent, result.Status)
	assert.Equal(t, "bytes 0-99/1000", result.Header.Get("Content-Range"))
	assert.Equal(t, "100", result.Header.Get("Content-Length"))

	body, err := io.ReadAll(result.Body)
	require.NoError(t, err)
	assert.Equal(t, content[:100], body)
}

func TestProxy_Handle_OpenEndedRangeIsChunked(t *testing.T) {
	content := bytes.Repeat([]byte("b"), 1000)
	origin := newOrigin(t, content)
	defer origin.Close()

	p := newTestProxy([]string{serverHost(t, origin)}, nil)

	result, err := p.Handle(context.Background(), origin.URL, "", "bytes=100-")
	require.NoError(t, err)
	defer result.Body.Close()

	// Open-ended requests are bounded by the configured chunk size of 256.
	assert.Equal(t, http.StatusPartialContent, result.Status)
	assert.Equal(t, "bytes 100-355/1000", result.Header.Get("Content-Range"))

	body, err := io.ReadAll(result.Body)
	require.NoError(t, err)
	assert.Len(t, body, 256)
}

func TestProxy_Handle_RangeNotSatisfiable(t *testing.T) {
	origin := newOrigin(t, bytes.Repeat([]byte("c"), 1000))
	defer origin.Close()

	p := newTestProxy([]string{serverHost(t, origin)}, nil)

	result, err := p.Handle(context.Background(), origin.URL, "", "bytes=5000-")
	require.NoError(t, err)
	defer result.Body.Close()

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, result.Status)
	assert.Equal(t, "bytes */1000", result.Header.Get("Content-Range"))
}

func TestProxy_Handle_MultipleRangesNotSatisfiable(t *testing.T) {
	origin := newOrigin(t, bytes.Repeat([]byte("d"), 1000))
	defer origin.Close()

	p := newTestProxy([]string{serverHost(t, origin)}, nil)

	result, err := p.Handle(context.Background(), origin.URL, "", "bytes=0-99,200-299")
	require.NoError(t, err)
	defer result.Body.Close()

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, result.Status)
}

func TestProxy_Handle_MalformedRange(t *testing.T) {
	origin := newOrigin(t, bytes.Repeat([]byte("e"), 1000))
	defer origin.Close()

	p := newTestProxy([]string{serverHost(t, origin)}, nil)

	_, err := p.Handle(context.Background(), origin.URL, "", "chars=0-99")
	require.ErrorIs(t, err, ErrMalformedRange)
}

func TestProxy_Handle_DisallowedOrigin(t *testing.T) {
	origin := newOrigin(t, []byte("data"))
	defer origin.Close()

	p := newTestProxy([]string{"storage.example.com"}, nil)

	_, err := p.Handle(context.Background(), origin.URL, "", "")
	require.ErrorIs(t, err, ErrOriginNotAllowed)
}

func TestProxy_Handle_RejectsNonHTTPSources(t *testing.T) {
	p := newTestProxy([]string{"storage.example.com"}, nil)

	tests := []string{
		"ftp://storage.example.com/clip.mp4",
		"/relative/path.mp4",
		"://broken",
		"",
	}

	for _, src := range tests {
		t.Run("src "+src, func(t *testing.T) {
			_, err := p.Handle(context.Background(), src, "", "")
			require.ErrorIs(t, err, ErrOriginNotAllowed)
		})
	}
}

func TestProxy_Handle_FallbackWhenOriginDown(t *testing.T) {
	content := []byte(strings.Repeat("0123456789", 50))
	fallback := &memFallback{entries: map[string][]byte{"copy.mp4": content}}

	deadURL := closedPortURL(t)
	deadHost := strings.TrimPrefix(deadURL, "http://")

	p := newTestProxy([]string{deadHost}, fallback)

	t.Run("full resource", func(t *testing.T) {
		result, err := p.Handle(context.Background(), deadURL, "copy.mp4", "")
		require.NoError(t, err)
		defer result.Body.Close()

		assert.Equal(t, http.StatusOK, result.Status)
		assert.Equal(t, "video/mp4", result.Header.Get("Content-Type"))

		body, err := io.ReadAll(result.Body)
		require.NoError(t, err)
		assert.Equal(t, content, body)
	})

	t.Run("range request", func(t *testing.T) {
		result, err := p.Handle(context.Background(), deadURL, "copy.mp4", "bytes=10-19")
		require.NoError(t, err)
		defer result.Body.Close()

		assert.Equal(t, http.StatusPartialContent, result.Status)
		assert.Equal(t, "bytes 10-19/500", result.Header.Get("Content-Range"))

		body, err := io.ReadAll(result.Body)
		require.NoError(t, err)
		assert.Equal(t, "0123456789", string(body))
	})

	t.Run("unsatisfiable range against fallback size", func(t *testing.T) {
		result, err := p.Handle(context.Background(), deadURL, "copy.mp4", "bytes=9999-")
		require.NoError(t, err)
		defer result.Body.Close()

		assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, result.Status)
		assert.Equal(t, "bytes */500", result.Header.Get("Content-Range"))
	})
}

func TestProxy_Handle_ClientCancelReleasesUpstream(t *testing.T) {
	originDone := make(chan struct{})

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "1000000")
			w.Header().Set("Content-Type", "video/mp4")
			return
		}

		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		w.Write(bytes.Repeat([]byte("x"), 1024))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		// Hold the transfer open until the client side goes away.
		<-r.Context().Done()
		close(originDone)
	}))
	defer origin.Close()

	p := newTestProxy([]string{serverHost(t, origin)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	result, err := p.Handle(ctx, origin.URL, "", "")
	require.NoError(t, err)

	buf := make([]byte, 512)
	_, err = io.ReadFull(result.Body, buf)
	require.NoError(t, err)

	cancel()
	result.Body.Close()

	select {
	case <-originDone:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream connection was not released after client cancellation")
	}
}

func TestProxy_Handle_OriginDownWithoutFallback(t *testing.T) {
	deadURL := closedPortURL(t)
	deadHost := strings.TrimPrefix(deadURL, "http://")

	p := newTestProxy([]string{deadHost}, nil)

	_, err := p.Handle(context.Background(), deadURL, "", "")
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestProxy_Handle_OriginDownFallbackMissing(t *testing.T) {
	fallback := &memFallback{entries: map[string][]byte{}}

	deadURL := closedPortURL(t)
	deadHost := strings.TrimPrefix(deadURL, "http://")

	p := newTestProxy([]string{deadHost}, fallback)

	// The origin failure wins over the fallback lookup failure.
	_, err := p.Handle(context.Background(), deadURL, "gone.mp4", "")
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
}
