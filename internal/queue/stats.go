package queue

// Reporter aggregates stats across a fixed set of queues.
type Reporter struct {
	queues []*Queue
}

// NewReporter creates a reporter over the given queues.
func NewReporter(queues ...*Queue) *Reporter {
	return &Reporter{queues: queues}
}

// Report returns a stats snapshot per queue, keyed by queue name.
func (r *Reporter) Report() map[string]Stats {
	report := make(map[string]Stats, len(r.queues))
	for _, q := range r.queues {
		report[q.Name()] = q.Stats()
	}
	return report
}
