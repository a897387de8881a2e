package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lumacorp/industry-exporter/internal/metrics"
)

// Job is one periodically refreshed unit of work. Run errors are logged and
// counted, never escalated; the next tick retries.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives the refresh jobs on fixed intervals. Each job is wrapped
// so that panics are recovered and a still-running invocation suppresses the
// next tick; a slow upstream can therefore delay a job but never stack it.
type Scheduler struct {
	logger  *zap.Logger
	cron    *cron.Cron
	baseCtx context.Context
	chain   cron.Chain
	jobs    []cron.Job
}

// NewScheduler constructs an empty scheduler bound to baseCtx; jobs stop
// when it is canceled.
func NewScheduler(logger *zap.Logger, baseCtx context.Context) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	cl := &cronLogger{sugar: logger.Sugar()}
	return &Scheduler{
		logger:  logger,
		cron:    cron.New(cron.WithLogger(cl)),
		baseCtx: baseCtx,
		chain:   cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	}
}

// Add registers a job to run every job.Interval.
func (s *Scheduler) Add(job Job) error {
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: non-positive interval %s", job.Name, job.Interval)
	}

	wrapped := s.chain.Then(cron.FuncJob(func() {
		s.runOnce(job)
	}))
	s.cron.Schedule(cron.Every(job.Interval), wrapped)
	s.jobs = append(s.jobs, wrapped)
	s.logger.Info("jobs.registered",
		zap.String("job", job.Name),
		zap.Duration("interval", job.Interval))
	return nil
}

// Start kicks every job once right away, then hands over to the cron
// schedule. The immediate run goes through the same chain, so an early tick
// cannot overlap it.
func (s *Scheduler) Start() {
	for _, job := range s.jobs {
		go job.Run()
	}
	s.cron.Start()
	s.logger.Info("jobs.started", zap.Int("jobs", len(s.jobs)))
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("jobs.stopped")
}

func (s *Scheduler) runOnce(job Job) {
	if err := s.baseCtx.Err(); err != nil {
		return
	}

	start := time.Now()
	if err := job.Run(s.baseCtx); err != nil {
		metrics.IncError("jobs", job.Name+"_failed")
		s.logger.Warn("jobs.run_failed",
			zap.String("job", job.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Debug("jobs.run_ok",
		zap.String("job", job.Name),
		zap.Duration("elapsed", time.Since(start)))
}

// cronLogger adapts zap to the cron logging interface.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (c *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.sugar.Debugw("jobs.cron: "+msg, keysAndValues...)
}

func (c *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.sugar.Errorw("jobs.cron: "+msg, append(keysAndValues, "error", err)...)
}
