package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhvtq/streamgate/internal/queue"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()

	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()
	return hub
}

func dial(t *testing.T, hub *Hub, jobID string) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, ServeWS(hub, w, r, jobID))
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) JobEvent {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event JobEvent
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestHub_DeliversToJobSubscriber(t *testing.T) {
	hub := newTestHub(t)
	conn := dial(t, hub, "job-1")

	hub.Broadcast(JobEvent{JobID: "job-1", Queue: "processing", Status: "completed", Timestamp: time.Now()})

	event := readEvent(t, conn)
	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, "processing", event.Queue)
	assert.Equal(t, "completed", event.Status)
}

func TestHub_AllSubscriberSeesEveryJob(t *testing.T) {
	hub := newTestHub(t)
	conn := dial(t, hub, "all")

	hub.Broadcast(JobEvent{JobID: "job-1", Queue: "processing", Status: "pending", Timestamp: time.Now()})
	hub.Broadcast(JobEvent{JobID: "job-2", Queue: "analytics", Status: "failed", Timestamp: time.Now()})

	first := readEvent(t, conn)
	second := readEvent(t, conn)
	assert.Equal(t, "job-1", first.JobID)
	assert.Equal(t, "job-2", second.JobID)
}

func TestHub_OtherJobSubscriberSeesNothing(t *testing.T) {
	hub := newTestHub(t)
	conn := dial(t, hub, "job-2")

	hub.Broadcast(JobEvent{JobID: "job-1", Queue: "processing", Status: "pending", Timestamp: time.Now()})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestHub_JobUpdatedTranslatesQueueSnapshots(t *testing.T) {
	hub := newTestHub(t)
	conn := dial(t, hub, "all")

	hub.JobUpdated("processing", queue.Job{
		ID:          "job-9",
		Type:        queue.TypeProcessVideo,
		Status:      queue.StatusFailed,
		Attempts:    3,
		MaxAttempts: 3,
		LastError:   "origin always down",
	})

	event := readEvent(t, conn)
	assert.Equal(t, "job-9", event.JobID)
	assert.Equal(t, "process-video", event.Type)
	assert.Equal(t, "failed", event.Status)
	assert.Equal(t, 3, event.Attempts)
	assert.Equal(t, "origin always down", event.Message)
	assert.False(t, event.Timestamp.IsZero())
}
