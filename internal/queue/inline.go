package queue

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/quarrylabs/quarry/internal/pkg/timeutil"
)

// InlineDispatcher runs each job on the caller's goroutine before Dispatch
// returns. It exists for deployments without a queue backend: no durability,
// no retries, but the same observable state transitions.
type InlineDispatcher struct {
	handler   Handler
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	closed    atomic.Bool
}

func NewInlineDispatcher(handler Handler) *InlineDispatcher {
	return &InlineDispatcher{handler: handler}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, job *Job) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher closed")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Priority == "" {
		job.Priority = PriorityNormal
	}
	job.Attempt = 1
	job.EnqueuedAt = timeutil.NowMillis()
	d.active.Add(1)
	err := d.handler(ctx, job)
	d.active.Add(-1)
	if err != nil {
		d.failed.Add(1)
		return err
	}
	d.completed.Add(1)
	return nil
}

func (d *InlineDispatcher) Status(ctx context.Context) (*Status, error) {
	return &Status{
		Waiting:   0,
		Active:    d.active.Load(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
	}, nil
}

func (d *InlineDispatcher) Close() error {
	d.closed.Store(true)
	return nil
}
