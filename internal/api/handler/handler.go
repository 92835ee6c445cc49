package handler

import (
	"log/slog"
	"time"

	"github.com/minhvtq/streamgate/internal/api/dto"
	"github.com/minhvtq/streamgate/internal/fallback"
	"github.com/minhvtq/streamgate/internal/origin"
	"github.com/minhvtq/streamgate/internal/proxy"
	"github.com/minhvtq/streamgate/internal/queue"
	"github.com/minhvtq/streamgate/internal/realtime"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger             *slog.Logger
	Proxy              *proxy.Proxy
	Fallback           *fallback.Store
	Queues             *queue.Set
	Reporter           *queue.Reporter
	Hub                *realtime.Hub
	Uploader           *origin.Uploader
	DefaultChunkSize   int64
	MaxUploadBytes     int64
	DefaultMaxAttempts int
}

func jobDTO(queueName string, job queue.Job) dto.JobDTO {
	return dto.JobDTO{
		JobID:       job.ID,
		Queue:       queueName,
		JobType:     string(job.Type),
		Status:      string(job.Status),
		Priority:    job.Priority,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		LastError:   job.LastError,
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
	}
}
