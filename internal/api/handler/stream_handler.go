package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/minhvtq/streamgate/internal/fallback"
	"github.com/minhvtq/streamgate/internal/proxy"
)

const copyBufferSize = 32 * 1024

// StreamHandler handles byte-range streaming requests
type StreamHandler struct {
	logger    *slog.Logger
	proxy     *proxy.Proxy
	fallback  *fallback.Store
	chunkSize int64
}

// NewStreamHandler creates a new StreamHandler instance
func NewStreamHandler(deps *Dependencies) *StreamHandler {
	return &StreamHandler{
		logger:    deps.Logger,
		proxy:     deps.Proxy,
		fallback:  deps.Fallback,
		chunkSize: deps.DefaultChunkSize,
	}
}

// Stream handles GET /api/v1/stream
// Relays a byte range of the src resource, degrading to a local fallback
// copy when the origin is unreachable.
func (h *StreamHandler) Stream(c *gin.Context) {
	src := c.Query("src")
	if src == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "src query parameter is required",
		})
		return
	}

	fallbackID := c.Query("fallback")
	rangeHeader := c.GetHeader("Range")

	result, err := h.proxy.Handle(c.Request.Context(), src, fallbackID, rangeHeader)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer result.Body.Close()

	h.relay(c, result)
}

// Fallback handles GET /fallback/:id
// Serves a stored fallback copy directly, with full range support.
func (h *StreamHandler) Fallback(c *gin.Context) {
	id := c.Param("id")

	size, contentType, err := h.fallback.Stat(id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	spec, err := proxy.ParseRange(c.GetHeader("Range"), size, h.chunkSize)
	if err != nil {
		if errors.Is(err, proxy.ErrRangeNotSatisfiable) {
			c.Header("Content-Range", proxy.UnsatisfiableContentRange(size))
			c.Status(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		h.writeError(c, err)
		return
	}

	c.Header("Content-Type", contentType)
	c.Header("Accept-Ranges", "bytes")

	var body io.ReadCloser
	status := http.StatusOK
	length := size

	if spec != nil {
		body, err = h.fallback.Open(id, spec.Start, spec.Length())
		status = http.StatusPartialContent
		length = spec.Length()
		c.Header("Content-Range", spec.ContentRange())
	} else {
		body, err = h.fallback.Open(id, 0, -1)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer body.Close()

	c.Header("Content-Length", strconv.FormatInt(length, 10))
	c.Status(status)
	h.pipe(c, body)
}

// relay writes a proxy result to the client.
func (h *StreamHandler) relay(c *gin.Context, result *proxy.StreamResult) {
	for key, values := range result.Header {
		for _, value := range values {
			c.Writer.Header().Add(key, value)
		}
	}

	c.Status(result.Status)
	h.pipe(c, result.Body)
}

// pipe copies body bytes to the client. Copy failures mean the client went
// away mid-stream, which is routine for seeking video players.
func (h *StreamHandler) pipe(c *gin.Context, body io.Reader) {
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(c.Writer, body, buf); err != nil {
		h.logger.Debug("stream copy interrupted",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// writeError maps streaming errors to HTTP responses.
func (h *StreamHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, proxy.ErrOriginNotAllowed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "origin not allowed"})
	case errors.Is(err, proxy.ErrMalformedRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed range header"})
	case errors.Is(err, fallback.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "fallback entry not found"})
	case errors.Is(err, proxy.ErrUpstreamUnavailable), errors.Is(err, proxy.ErrTooManyRedirects):
		h.logger.Error("upstream failure", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unavailable"})
	default:
		h.logger.Error("stream request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
