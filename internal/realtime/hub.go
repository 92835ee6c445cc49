package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/minhvtq/streamgate/internal/queue"
)

// JobEvent is one job status change pushed to subscribed clients.
type JobEvent struct {
	JobID     string    `json:"job_id"`
	Queue     string    `json:"queue"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans job events out to WebSocket clients. Clients subscribe to one
// job id, or to "all" for every event.
type Hub struct {
	// Registered clients mapped by subscribed job id
	clients map[string]map[*Client]bool

	broadcast  chan JobEvent
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger
}

// NewHub creates a new event hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan JobEvent, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run starts the hub's event loop. It is meant to run in its own goroutine
// for the life of the process.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.jobID] == nil {
				h.clients[client.jobID] = make(map[*Client]bool)
			}
			h.clients[client.jobID][client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", slog.String("job_id", client.jobID))

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.jobID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.clients, client.jobID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", slog.String("job_id", client.jobID))

		case event := <-h.broadcast:
			h.mu.Lock()
			h.deliverLocked(event.JobID, event)
			h.deliverLocked("all", event)
			h.mu.Unlock()
		}
	}
}

// deliverLocked sends an event to one subscription group, dropping clients
// whose send buffer is full. Caller holds the lock.
func (h *Hub) deliverLocked(key string, event JobEvent) {
	clients, ok := h.clients[key]
	if !ok {
		return
	}

	for client := range clients {
		select {
		case client.send <- event:
		default:
			close(client.send)
			delete(clients, client)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, key)
	}
}

// Broadcast queues an event for delivery. It never blocks; under pressure
// events are dropped rather than stalling the producer.
func (h *Hub) Broadcast(event JobEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("event channel full, dropping job event", slog.String("job_id", event.JobID))
	}
}

// JobUpdated implements queue.Observer, turning queue status changes into
// client events.
func (h *Hub) JobUpdated(queueName string, job queue.Job) {
	h.Broadcast(JobEvent{
		JobID:     job.ID,
		Queue:     queueName,
		Type:      string(job.Type),
		Status:    string(job.Status),
		Attempts:  job.Attempts,
		Message:   job.LastError,
		Timestamp: time.Now(),
	})
}
