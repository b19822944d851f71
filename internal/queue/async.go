package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/internal/pkg/timeutil"
)

// AsyncDispatcher queues jobs durably and drains them with a worker pool.
// A failed run is retried with doubling delays until MaxAttempts is spent,
// then counted as failed for good.
type AsyncDispatcher struct {
	store   jobStore
	handler Handler
	opts    Options
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	closed  atomic.Bool
}

func NewAsyncDispatcher(client *redis.Client, handler Handler, opts Options) *AsyncDispatcher {
	opts.fillDefaults()
	return &AsyncDispatcher{
		store:   newRedisJobStore(client, opts.Prefix),
		handler: handler,
		opts:    opts,
	}
}

func newAsyncDispatcherWithStore(store jobStore, handler Handler, opts Options) *AsyncDispatcher {
	opts.fillDefaults()
	return &AsyncDispatcher{
		store:   store,
		handler: handler,
		opts:    opts,
	}
}

func (d *AsyncDispatcher) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for i := 0; i < d.opts.Concurrency; i++ {
		d.wg.Add(1)
		go d.workerLoop(runCtx, i)
	}
}

func (d *AsyncDispatcher) Dispatch(ctx context.Context, job *Job) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher closed")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Priority == "" {
		job.Priority = PriorityNormal
	}
	job.EnqueuedAt = timeutil.NowMillis()
	return d.store.enqueue(ctx, job)
}

func (d *AsyncDispatcher) Status(ctx context.Context) (*Status, error) {
	return d.store.counts(ctx)
}

func (d *AsyncDispatcher) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *AsyncDispatcher) workerLoop(ctx context.Context, id int) {
	defer d.wg.Done()
	logger := logutil.GetLogger(ctx).With(zap.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}
		if err := d.store.promoteDue(ctx, timeutil.NowMillis()); err != nil && ctx.Err() == nil {
			logger.Error("promote delayed jobs failed", zap.Error(err))
		}
		job, ok, err := d.store.popReady(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("pop job failed", zap.Error(err))
			ok = false
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.opts.PollInterval):
			}
			continue
		}
		d.runJob(ctx, logger, job)
	}
}

func (d *AsyncDispatcher) runJob(ctx context.Context, logger *zap.Logger, job *Job) {
	// Bookkeeping must land even when shutdown cancels ctx mid-run,
	// otherwise the job would vanish from every counter.
	bgCtx := context.WithoutCancel(ctx)
	job.Attempt++
	_ = d.store.setActive(bgCtx, 1)
	err := d.handler(ctx, job)
	_ = d.store.setActive(bgCtx, -1)
	if err == nil {
		_ = d.store.incrCompleted(bgCtx)
		return
	}
	if job.Attempt >= d.opts.MaxAttempts {
		logger.Error("job failed permanently",
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind),
			zap.Int("attempt", job.Attempt),
			zap.Error(err))
		_ = d.store.incrFailed(bgCtx)
		return
	}
	delay := retryDelay(d.opts.RetryDelay, job.Attempt)
	logger.Warn("job failed, scheduling retry",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay),
		zap.Error(err))
	if serr := d.store.enqueueDelayed(bgCtx, job, timeutil.NowMillis()+delay.Milliseconds()); serr != nil {
		logger.Error("schedule retry failed", zap.String("job_id", job.ID), zap.Error(serr))
		_ = d.store.incrFailed(bgCtx)
	}
}
