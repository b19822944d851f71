package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultConcurrency  = 2
	DefaultMaxAttempts  = 3
	DefaultRetryDelay   = 5 * time.Second
	DefaultPollInterval = time.Second
)

// Priority orders jobs within the queue. High drains before normal, normal
// before low; jobs of equal priority drain in enqueue order.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityNormal, "":
		return PriorityNormal, nil
	case PriorityLow:
		return PriorityLow, nil
	}
	return "", fmt.Errorf("unknown priority: %s", s)
}

// rank maps priority to a sortable number, lower drains first.
func (p Priority) rank() int64 {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Priority   Priority        `json:"priority"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt int64           `json:"enqueued_at"`
}

// Status is a point-in-time snapshot of the queue. Completed and failed are
// counters that only grow over the life of the queue.
type Status struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type Handler func(ctx context.Context, job *Job) error

// Dispatcher accepts jobs for execution. The async implementation queues
// them durably; the inline one runs them on the calling goroutine. Which
// one serves is decided once at startup.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *Job) error
	Status(ctx context.Context) (*Status, error)
	Close() error
}

type Options struct {
	Prefix       string
	Concurrency  int
	MaxAttempts  int
	RetryDelay   time.Duration
	PollInterval time.Duration
}

func (o *Options) fillDefaults() {
	if o.Prefix == "" {
		o.Prefix = "quarry:queue"
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
}

// retryDelay returns the wait before re-running a job that just failed its
// n-th attempt: base, then doubling per attempt.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}
