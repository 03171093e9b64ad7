package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"khoaugment/internal/config"
)

const (
	jobExpireIntents = "expire_intents"
	jobPollPending   = "poll_pending_intents"

	jobTimeout = time.Minute
)

// Sweeper is the part of the orchestrator driven by the clock.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	PollPending(ctx context.Context, olderThan time.Duration) (int, error)
}

// JobRecorder counts job runs.
type JobRecorder interface {
	JobRun(job, outcome string)
}

// Scheduler manages the payment maintenance jobs.
type Scheduler struct {
	cron     *cron.Cron
	cfg      config.PaymentConfig
	sweeper  Sweeper
	recorder JobRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a new cron scheduler. recorder may be nil.
func New(cfg config.PaymentConfig, sweeper Sweeper, recorder JobRecorder, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		cfg:      cfg,
		sweeper:  sweeper,
		recorder: recorder,
		logger:   logger.Named("cron"),
		now:      time.Now,
	}
}

// Start registers and starts all cron jobs.
func (s *Scheduler) Start() error {
	s.logger.Info("Starting cron scheduler...",
		zap.String("sweep_spec", s.cfg.SweepSpec),
		zap.String("poll_spec", s.cfg.PollSpec),
	)

	// Expire intents whose payment window elapsed
	if _, err := s.cron.AddFunc(s.cfg.SweepSpec, s.expireIntents); err != nil {
		return fmt.Errorf("schedule %s: %w", jobExpireIntents, err)
	}

	// Ask providers about intents whose callback never came
	if _, err := s.cron.AddFunc(s.cfg.PollSpec, s.pollPendingIntents); err != nil {
		return fmt.Errorf("schedule %s: %w", jobPollPending, err)
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) expireIntents() {
	defer s.recoverFromPanic(jobExpireIntents)

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.sweeper.SweepExpired(ctx, s.now())
	s.finish(jobExpireIntents, n, err)
}

func (s *Scheduler) pollPendingIntents() {
	defer s.recoverFromPanic(jobPollPending)

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.sweeper.PollPending(ctx, s.cfg.PollAfter)
	s.finish(jobPollPending, n, err)
}

func (s *Scheduler) finish(job string, n int, err error) {
	if err != nil {
		s.logger.Warn("Cron job failed", zap.String("job", job), zap.Int("processed", n), zap.Error(err))
		s.count(job, "error")
		return
	}
	if n > 0 {
		s.logger.Info("Cron job done", zap.String("job", job), zap.Int("processed", n))
	} else {
		s.logger.Debug("Cron job done", zap.String("job", job))
	}
	s.count(job, "ok")
}

func (s *Scheduler) count(job, outcome string) {
	if s.recorder != nil {
		s.recorder.JobRun(job, outcome)
	}
}

func (s *Scheduler) recoverFromPanic(jobName string) {
	if r := recover(); r != nil {
		s.logger.Error("Cron job panicked", zap.String("job", jobName), zap.Any("error", r))
		s.count(jobName, "panic")
	}
}
