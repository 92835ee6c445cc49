package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobType identifies the kind of work a job carries.
type JobType string

const (
	TypeProcessVideo     JobType = "process-video"
	TypeStreamVideo      JobType = "stream-video"
	TypeProcessAnalytics JobType = "process-analytics"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrUnknownJobType is returned when a payload carries a type no handler knows.
var ErrUnknownJobType = errors.New("unknown job type")

// Payload is the typed body of a job. Each variant names its own type so a
// job can never be enqueued with a body that does not match it.
type Payload interface {
	JobType() JobType
}

// ProcessVideoPayload asks for a video to be ingested: fetched from its
// source, copied to the fallback store, and uploaded to origin storage.
type ProcessVideoPayload struct {
	VideoID   string `json:"video_id"`
	SourceURL string `json:"source_url,omitempty"`
	OriginKey string `json:"origin_key,omitempty"`
}

func (ProcessVideoPayload) JobType() JobType { return TypeProcessVideo }

// StreamVideoPayload asks for a video's playback endpoint to be prepared.
type StreamVideoPayload struct {
	VideoID     string `json:"video_id"`
	PlaybackURL string `json:"playback_url"`
}

func (StreamVideoPayload) JobType() JobType { return TypeStreamVideo }

// AnalyticsPayload reports one watch session for view counting.
type AnalyticsPayload struct {
	VideoID        string  `json:"video_id"`
	UserID         string  `json:"user_id,omitempty"`
	WatchedSeconds float64 `json:"watched_seconds"`
	TotalDuration  float64 `json:"total_duration"`
}

func (AnalyticsPayload) JobType() JobType { return TypeProcessAnalytics }

// ParsePayload decodes a raw JSON payload into the variant named by jobType.
func ParsePayload(jobType JobType, raw json.RawMessage) (Payload, error) {
	switch jobType {
	case TypeProcessVideo:
		var p ProcessVideoPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		return p, nil
	case TypeStreamVideo:
		var p StreamVideoPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		return p, nil
	case TypeProcessAnalytics:
		var p AnalyticsPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
}

// Job is one unit of queued work. Lower Priority values run first; jobs with
// equal priority run in arrival order.
type Job struct {
	ID          string     `json:"id"`
	Type        JobType    `json:"type"`
	Payload     Payload    `json:"payload"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`

	seq uint64
}

// Terminal reports whether the job has finished for good.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}
