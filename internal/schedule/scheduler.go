package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Job is one unit of scheduled background work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// CronScheduler drives jobs from five-field cron expressions. Each job is
// guarded against overlap: a tick firing while the previous run is still
// going is dropped, not queued.
type CronScheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

func NewCronScheduler() *CronScheduler {
	return &CronScheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
	}
}

func (c *CronScheduler) AddJob(j Job, spec string) error {
	task := &cronTask{name: j.Name(), run: j.Run, scheduler: c}
	if _, err := c.cron.AddFunc(spec, task.fire); err != nil {
		return fmt.Errorf("schedule %s (%s): %w", task.name, spec, err)
	}
	logutil.GetLogger(context.Background()).Info("cron job registered",
		zap.String("job", task.name), zap.String("spec", spec))
	return nil
}

// Start begins firing ticks. ctx becomes the base context every job run
// receives; it must be set before the first tick can fire.
func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx
	c.cron.Start()
}

// Stop waits for in-flight jobs before returning.
func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

type cronTask struct {
	name      string
	run       func(ctx context.Context) error
	scheduler *CronScheduler
	busy      atomic.Bool
}

func (t *cronTask) fire() {
	ctx := t.scheduler.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logutil.GetLogger(ctx).With(zap.String("job", t.name))
	if !t.busy.CompareAndSwap(false, true) {
		logger.Warn("previous run still active, tick dropped")
		return
	}
	defer t.busy.Store(false)

	start := time.Now()
	if err := t.run(ctx); err != nil {
		logger.Error("cron job failed", zap.Duration("cost", time.Since(start)), zap.Error(err))
		return
	}
	logger.Info("cron job done", zap.Duration("cost", time.Since(start)))
}
