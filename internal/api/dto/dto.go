package dto

import "encoding/json"

type SubmitJobRequest struct {
	Queue       string          `json:"queue" binding:"required"`
	JobType     string          `json:"job_type" binding:"required"`
	Payload     json.RawMessage `json:"payload" binding:"required"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
}

type JobDTO struct {
	JobID       string `json:"job_id"`
	Queue       string `json:"queue"`
	JobType     string `json:"job_type"`
	Status      string `json:"status"`
	Priority    int    `json:"priority"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type UploadVideoResponse struct {
	VideoID    string `json:"video_id"`
	FallbackID string `json:"fallback_id"`
	ServingURL string `json:"serving_url"`
	OriginKey  string `json:"origin_key,omitempty"`
	Size       int64  `json:"size"`
	JobID      string `json:"job_id"`
}
