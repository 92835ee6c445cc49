package handler

import (
	"log/slog"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/minhvtq/streamgate/internal/api/dto"
	"github.com/minhvtq/streamgate/internal/fallback"
	"github.com/minhvtq/streamgate/internal/origin"
	"github.com/minhvtq/streamgate/internal/queue"
)

// VideoHandler handles media ingest requests
type VideoHandler struct {
	logger         *slog.Logger
	fallback       *fallback.Store
	queues         *queue.Set
	uploader       *origin.Uploader
	maxUploadBytes int64
}

// NewVideoHandler creates a new VideoHandler instance
func NewVideoHandler(deps *Dependencies) *VideoHandler {
	return &VideoHandler{
		logger:         deps.Logger,
		fallback:       deps.Fallback,
		queues:         deps.Queues,
		uploader:       deps.Uploader,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

// Upload handles POST /api/v1/videos
// Ingests a video file: the bytes land in the fallback store, optionally in
// origin storage, and a processing job is enqueued.
func (h *VideoHandler) Upload(c *gin.Context) {
	if h.maxUploadBytes > 0 && c.Request.ContentLength > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "upload exceeds size limit",
		})
		return
	}

	file, header, err := c.Request.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "multipart field 'video' is required",
		})
		return
	}
	defer file.Close()

	desc, err := h.fallback.Store(file, header.Filename)
	if err != nil {
		h.logger.Error("Failed to store upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to store upload",
		})
		return
	}

	videoID := uuid.New().String()

	// Origin storage is best effort on the ingest path; the fallback copy
	// already guarantees the video is servable.
	var originKey string
	if h.uploader != nil {
		local, err := h.fallback.Open(desc.ID, 0, -1)
		if err == nil {
			contentType := header.Header.Get("Content-Type")
			key := path.Join("videos", videoID+path.Ext(desc.ID))
			originKey, err = h.uploader.Upload(c.Request.Context(), key, contentType, local)
			local.Close()
		}
		if err != nil {
			h.logger.Warn("origin upload failed, serving from fallback only",
				slog.String("video_id", videoID),
				slog.String("error", err.Error()),
			)
			originKey = ""
		}
	}

	job, err := h.queues.Processing.Add(queue.ProcessVideoPayload{
		VideoID:   videoID,
		OriginKey: originKey,
	}, 1, 1)
	if err != nil {
		h.logger.Error("Failed to enqueue processing job", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "queue is shutting down",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.UploadVideoResponse{
		VideoID:    videoID,
		FallbackID: desc.ID,
		ServingURL: desc.ServingURL,
		OriginKey:  originKey,
		Size:       desc.Size,
		JobID:      job.ID,
	})
}
