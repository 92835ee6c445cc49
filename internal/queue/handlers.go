package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/minhvtq/streamgate/internal/fallback"
)

// ErrInvalidPayload is returned when a job carries a payload of the wrong
// variant or with missing fields.
var ErrInvalidPayload = errors.New("invalid job payload")

// FallbackWriter is the slice of the fallback store the handlers need.
type FallbackWriter interface {
	Store(r io.Reader, suggestedName string) (*fallback.Descriptor, error)
}

// OriginUploader pushes video bytes to origin storage and returns the stored
// object key.
type OriginUploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// SourceOpener fetches the body of a remote resource.
type SourceOpener interface {
	Open(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// HandlerConfig holds job handler settings
type HandlerConfig struct {
	Logger         *slog.Logger
	Fallback       FallbackWriter
	Origin         OriginUploader
	Source         SourceOpener
	WorkDelay      time.Duration
	ViewCountRatio float64
	MinViewSeconds float64
}

// Handlers implements the work behind each job type.
type Handlers struct {
	logger         *slog.Logger
	fallback       FallbackWriter
	origin         OriginUploader
	source         SourceOpener
	workDelay      time.Duration
	viewCountRatio float64
	minViewSeconds float64

	mu    sync.Mutex
	views map[string]int64
}

// NewHandlers creates the job handlers.
func NewHandlers(cfg *HandlerConfig) *Handlers {
	return &Handlers{
		logger:         cfg.Logger,
		fallback:       cfg.Fallback,
		origin:         cfg.Origin,
		source:         cfg.Source,
		workDelay:      cfg.WorkDelay,
		viewCountRatio: cfg.ViewCountRatio,
		minViewSeconds: cfg.MinViewSeconds,
	}
}

// ProcessVideo ingests a video. When a source URL is present the bytes are
// fetched, copied into the fallback store, and pushed to origin storage.
func (h *Handlers) ProcessVideo(ctx context.Context, job Job) error {
	payload, ok := job.Payload.(ProcessVideoPayload)
	if !ok {
		return fmt.Errorf("%w: expected process-video payload, got %T", ErrInvalidPayload, job.Payload)
	}
	if payload.VideoID == "" {
		return fmt.Errorf("%w: video_id is required", ErrInvalidPayload)
	}

	if err := h.simulateWork(ctx); err != nil {
		return err
	}

	if payload.SourceURL == "" {
		h.logger.Info("video processed",
			slog.String("video_id", payload.VideoID),
			slog.String("job_id", job.ID),
		)
		return nil
	}

	body, err := h.source.Open(ctx, payload.SourceURL)
	if err != nil {
		return fmt.Errorf("fetch video source: %w", err)
	}
	defer body.Close()

	desc, err := h.fallback.Store(body, payload.SourceURL)
	if err != nil {
		return fmt.Errorf("store fallback copy: %w", err)
	}

	if h.origin != nil && payload.OriginKey != "" {
		local, err := h.openLocal(desc)
		if err != nil {
			return err
		}
		defer local.Close()

		key, err := h.origin.Upload(ctx, payload.OriginKey, "video/mp4", local)
		if err != nil {
			return fmt.Errorf("upload to origin: %w", err)
		}
		h.logger.Info("video uploaded to origin",
			slog.String("video_id", payload.VideoID),
			slog.String("key", key),
		)
	}

	h.logger.Info("video processed",
		slog.String("video_id", payload.VideoID),
		slog.String("job_id", job.ID),
		slog.String("fallback_id", desc.ID),
		slog.Int64("size", desc.Size),
	)
	return nil
}

// StreamVideo prepares a video's playback endpoint.
func (h *Handlers) StreamVideo(ctx context.Context, job Job) error {
	payload, ok := job.Payload.(StreamVideoPayload)
	if !ok {
		return fmt.Errorf("%w: expected stream-video payload, got %T", ErrInvalidPayload, job.Payload)
	}
	if payload.VideoID == "" || payload.PlaybackURL == "" {
		return fmt.Errorf("%w: video_id and playback_url are required", ErrInvalidPayload)
	}

	if err := h.simulateWork(ctx); err != nil {
		return err
	}

	h.logger.Info("stream prepared",
		slog.String("video_id", payload.VideoID),
		slog.String("playback_url", payload.PlaybackURL),
	)
	return nil
}

// ProcessAnalytics counts one watch session toward the video's view count
// when it qualifies as a view.
func (h *Handlers) ProcessAnalytics(ctx context.Context, job Job) error {
	payload, ok := job.Payload.(AnalyticsPayload)
	if !ok {
		return fmt.Errorf("%w: expected analytics payload, got %T", ErrInvalidPayload, job.Payload)
	}
	if payload.VideoID == "" {
		return fmt.Errorf("%w: video_id is required", ErrInvalidPayload)
	}
	if payload.WatchedSeconds < 0 || payload.TotalDuration < 0 {
		return fmt.Errorf("%w: negative watch times", ErrInvalidPayload)
	}

	if !h.CountsAsView(payload.WatchedSeconds, payload.TotalDuration) {
		h.logger.Debug("watch session below view threshold",
			slog.String("video_id", payload.VideoID),
			slog.Float64("watched_seconds", payload.WatchedSeconds),
		)
		return nil
	}

	h.mu.Lock()
	if h.views == nil {
		h.views = make(map[string]int64)
	}
	h.views[payload.VideoID]++
	count := h.views[payload.VideoID]
	h.mu.Unlock()

	h.logger.Info("view counted",
		slog.String("video_id", payload.VideoID),
		slog.Int64("view_count", count),
	)
	return nil
}

// CountsAsView decides whether a watch session is a view. With a known
// duration the ratio threshold applies; otherwise a minimum watch time does.
func (h *Handlers) CountsAsView(watchedSeconds, totalDuration float64) bool {
	if totalDuration > 0 {
		return watchedSeconds >= totalDuration*h.viewCountRatio
	}
	return watchedSeconds >= h.minViewSeconds
}

// ViewCount returns the accumulated view count for a video.
func (h *Handlers) ViewCount(videoID string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.views[videoID]
}

// openLocal reopens a stored fallback copy for upload. It only works when
// the writer is a real store; test doubles skip the origin step.
func (h *Handlers) openLocal(desc *fallback.Descriptor) (io.ReadCloser, error) {
	store, ok := h.fallback.(interface {
		Open(id string, offset, length int64) (io.ReadCloser, error)
	})
	if !ok {
		return nil, fmt.Errorf("fallback store cannot reopen %q", desc.ID)
	}

	rc, err := store.Open(desc.ID, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("reopen fallback copy: %w", err)
	}
	return rc, nil
}

func (h *Handlers) simulateWork(ctx context.Context) error {
	if h.workDelay <= 0 {
		return nil
	}

	select {
	case <-time.After(h.workDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Set bundles the service's three queues with their handlers wired in.
type Set struct {
	Processing *Queue
	Streaming  *Queue
	Analytics  *Queue
	Handlers   *Handlers
}

// SetConfig holds queue set settings
type SetConfig struct {
	Logger         *slog.Logger
	RetentionLimit int
	Observers      []Observer
	Handlers       *HandlerConfig
}

// NewSet creates the three service queues and registers their handlers.
func NewSet(cfg *SetConfig) *Set {
	handlers := NewHandlers(cfg.Handlers)

	processing := New("processing", cfg.RetentionLimit, cfg.Logger, cfg.Observers...)
	processing.Register(TypeProcessVideo, handlers.ProcessVideo)

	streaming := New("streaming-setup", cfg.RetentionLimit, cfg.Logger, cfg.Observers...)
	streaming.Register(TypeStreamVideo, handlers.StreamVideo)

	analytics := New("analytics", cfg.RetentionLimit, cfg.Logger, cfg.Observers...)
	analytics.Register(TypeProcessAnalytics, handlers.ProcessAnalytics)

	return &Set{
		Processing: processing,
		Streaming:  streaming,
		Analytics:  analytics,
		Handlers:   handlers,
	}
}

// ByName returns a queue by its name.
func (s *Set) ByName(name string) (*Queue, bool) {
	for _, q := range s.All() {
		if q.Name() == name {
			return q, true
		}
	}
	return nil, false
}

// All returns the queues in a fixed order.
func (s *Set) All() []*Queue {
	return []*Queue{s.Processing, s.Streaming, s.Analytics}
}

// Close drains and closes every queue.
func (s *Set) Close() {
	for _, q := range s.All() {
		q.Close()
	}
}
