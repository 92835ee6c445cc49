package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/minhvtq/streamgate/internal/realtime"
)

// WSHandler handles WebSocket subscription requests
type WSHandler struct {
	logger *slog.Logger
	hub    *realtime.Hub
}

// NewWSHandler creates a new WSHandler instance
func NewWSHandler(deps *Dependencies) *WSHandler {
	return &WSHandler{
		logger: deps.Logger,
		hub:    deps.Hub,
	}
}

// Jobs handles GET /ws/jobs
// Upgrades the connection and streams job status events. The job_id query
// parameter narrows the subscription; "all" is the default.
func (h *WSHandler) Jobs(c *gin.Context) {
	jobID := c.DefaultQuery("job_id", "all")

	if err := realtime.ServeWS(h.hub, c.Writer, c.Request, jobID); err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
	}
}
