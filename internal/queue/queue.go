package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultRetentionLimit = 100

// Handler runs one job attempt. A nil return completes the job; an error
// sends it back to pending until its attempt budget is spent.
type Handler func(ctx context.Context, job Job) error

// Observer is notified with a job snapshot after every status change.
// Notifications happen outside the queue lock.
type Observer interface {
	JobUpdated(queueName string, job Job)
}

// Queue is an in-memory priority job queue drained by a single worker
// goroutine. The worker starts on the first Add and exits when no pending
// work remains, so an idle queue costs nothing.
type Queue struct {
	name      string
	retention int
	logger    *slog.Logger
	observers []Observer

	mu       sync.Mutex
	jobs     []*Job
	handlers map[JobType]Handler
	running  bool
	closed   bool
	seq      uint64

	wg sync.WaitGroup
}

// New creates a queue with the given name and terminal-job retention limit.
func New(name string, retention int, logger *slog.Logger, observers ...Observer) *Queue {
	if retention <= 0 {
		retention = defaultRetentionLimit
	}

	return &Queue{
		name:      name,
		retention: retention,
		logger:    logger.With(slog.String("queue", name)),
		observers: observers,
		handlers:  make(map[JobType]Handler),
	}
}

// Name returns the queue's name.
func (q *Queue) Name() string {
	return q.name
}

// Register binds a handler to a job type. Jobs of unregistered types fail on
// their first attempt.
func (q *Queue) Register(jobType JobType, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

// Handles reports whether a handler is registered for the job type.
func (q *Queue) Handles(jobType JobType) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.handlers[jobType]
	return ok
}

// Add enqueues a job and returns a snapshot of it. The worker goroutine is
// started if it is not already draining.
func (q *Queue) Add(payload Payload, priority, maxAttempts int) (Job, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	job := &Job{
		ID:          uuid.New().String(),
		Type:        payload.JobType(),
		Payload:     payload,
		Priority:    priority,
		MaxAttempts: maxAttempts,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Job{}, fmt.Errorf("queue %q is closed", q.name)
	}

	q.seq++
	job.seq = q.seq
	q.jobs = append(q.jobs, job)
	snapshot := *job
	q.mu.Unlock()

	q.logger.Info("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
		slog.Int("priority", job.Priority),
	)
	q.notify(snapshot)

	// The worker starts after the enqueue notification so observers see
	// pending before processing.
	q.mu.Lock()
	if !q.running && !q.closed {
		q.running = true
		q.wg.Add(1)
		go q.run()
	}
	q.mu.Unlock()

	return snapshot, nil
}

// run drains pending jobs one at a time until none remain.
func (q *Queue) run() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		job := q.nextLocked()
		if job == nil {
			q.running = false
			q.mu.Unlock()
			return
		}

		job.Status = StatusProcessing
		job.Attempts++
		now := time.Now()
		job.StartedAt = &now
		handler := q.handlers[job.Type]
		started := *job
		q.mu.Unlock()

		q.notify(started)

		var err error
		if handler == nil {
			err = fmt.Errorf("%w: %q", ErrUnknownJobType, job.Type)
		} else {
			err = q.invoke(handler, started)
		}

		q.mu.Lock()
		switch {
		case err == nil:
			job.Status = StatusCompleted
			job.LastError = ""
			done := time.Now()
			job.CompletedAt = &done
		case job.Attempts < job.MaxAttempts && handler != nil:
			job.Status = StatusPending
			job.LastError = err.Error()
		default:
			job.Status = StatusFailed
			job.LastError = err.Error()
			done := time.Now()
			job.CompletedAt = &done
		}
		q.pruneLocked()
		finished := *job
		q.mu.Unlock()

		switch finished.Status {
		case StatusCompleted:
			q.logger.Info("job completed",
				slog.String("job_id", finished.ID),
				slog.String("type", string(finished.Type)),
				slog.Int("attempts", finished.Attempts),
			)
		case StatusPending:
			q.logger.Warn("job attempt failed, requeued",
				slog.String("job_id", finished.ID),
				slog.Int("attempt", finished.Attempts),
				slog.Int("max_attempts", finished.MaxAttempts),
				slog.String("error", finished.LastError),
			)
		case StatusFailed:
			q.logger.Error("job failed permanently",
				slog.String("job_id", finished.ID),
				slog.Int("attempts", finished.Attempts),
				slog.String("error", finished.LastError),
			)
		}
		q.notify(finished)
	}
}

// invoke runs a handler, converting panics into attempt failures so one bad
// job cannot take the worker down.
func (q *Queue) invoke(handler Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return handler(context.Background(), job)
}

// nextLocked picks the pending job with the lowest priority value, breaking
// ties by arrival order. Caller holds the lock.
func (q *Queue) nextLocked() *Job {
	var best *Job
	for _, job := range q.jobs {
		if job.Status != StatusPending {
			continue
		}
		if best == nil || job.Priority < best.Priority || (job.Priority == best.Priority && job.seq < best.seq) {
			best = job
		}
	}
	return best
}

// pruneLocked drops the oldest terminal jobs beyond the retention limit.
// Caller holds the lock.
func (q *Queue) pruneLocked() {
	terminal := 0
	for _, job := range q.jobs {
		if job.Terminal() {
			terminal++
		}
	}
	if terminal <= q.retention {
		return
	}

	excess := terminal - q.retention
	kept := q.jobs[:0]
	for _, job := range q.jobs {
		if excess > 0 && job.Terminal() {
			excess--
			continue
		}
		kept = append(kept, job)
	}
	q.jobs = kept
}

func (q *Queue) notify(job Job) {
	for _, observer := range q.observers {
		observer.JobUpdated(q.name, job)
	}
}

// Stats is a point-in-time summary of a queue.
type Stats struct {
	Total        int  `json:"total"`
	Pending      int  `json:"pending"`
	Processing   int  `json:"processing"`
	Completed    int  `json:"completed"`
	Failed       int  `json:"failed"`
	IsProcessing bool `json:"is_processing"`
}

// Stats returns a snapshot of the queue's job counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{Total: len(q.jobs), IsProcessing: q.running}
	for _, job := range q.jobs {
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// Job returns a snapshot of a job by id.
func (q *Queue) Job(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.ID == id {
			return *job, true
		}
	}
	return Job{}, false
}

// Close stops accepting new jobs and waits for the worker to drain.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("queue closed")
}
