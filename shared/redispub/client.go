package redispub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// Config holds redis publisher settings
type Config struct {
	DSN     string
	Channel string
}

// Notification is the message published for every job status change.
type Notification struct {
	JobID  string `json:"job_id"`
	Queue  string `json:"queue"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Client publishes job notifications to a redis channel so other processes
// can follow queue activity.
type Client struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

// New connects to redis and returns a publisher. An empty DSN disables
// publishing: the returned client is nil and safe to skip.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "streamgate.jobs"
	}

	logger.Info("redis publisher connected", slog.String("channel", channel))

	return &Client{rdb: rdb, channel: channel, logger: logger}, nil
}

// Publish sends one notification. Failures are logged, not returned; job
// processing never depends on the notification fan-out.
func (c *Client) Publish(queueName, jobID, status, errMsg string) {
	payload, err := json.Marshal(Notification{
		JobID:  jobID,
		Queue:  queueName,
		Status: status,
		Error:  errMsg,
	})
	if err != nil {
		c.logger.Error("marshal notification", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := c.rdb.Publish(ctx, c.channel, payload).Err(); err != nil {
		c.logger.Warn("publish notification failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// Close releases the redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
