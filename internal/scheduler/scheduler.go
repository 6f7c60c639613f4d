// Package scheduler runs the batch sync and housekeeping jobs on cron specs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"example.com/wearablesync/internal/syncer"
)

// DefaultSpec runs the batch hourly.
const DefaultSpec = "@every 1h"

// ErrAlreadyRunning is returned by RunBatch while a batch is executing.
var ErrAlreadyRunning = errors.New("batch sync already running")

// BatchSyncer syncs every active connection.
type BatchSyncer interface {
	SyncAllActive(ctx context.Context) (syncer.BatchSummary, error)
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithBudget bounds a single batch run. Zero means no bound.
func WithBudget(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.budget = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Scheduler triggers BatchSyncer on a cron spec. A tick that fires while the previous
// batch is still running is skipped.
type Scheduler struct {
	batch   BatchSyncer
	spec    string
	budget  time.Duration
	logger  *zap.Logger
	cron    *cron.Cron
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a Scheduler. An empty spec falls back to DefaultSpec.
func New(batch BatchSyncer, spec string, opts ...Option) *Scheduler {
	if spec == "" {
		spec = DefaultSpec
	}
	s := &Scheduler{
		batch:  batch,
		spec:   spec,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(s.logger.Named("cron")))
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger)), cron.WithLogger(cronLogger))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// AddJob registers a housekeeping job. Jobs share the scheduler's lifetime context.
func (s *Scheduler) AddJob(name, spec string, job func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := job(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

// Start registers the batch job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return fmt.Errorf("schedule batch sync (%q): %w", s.spec, err)
	}
	s.logger.Info("scheduler starting", zap.String("spec", s.spec), zap.Duration("budget", s.budget))
	s.cron.Start()
	return nil
}

// Stop cancels in-flight jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tick() {
	if _, err := s.RunBatch(s.ctx); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			s.logger.Info("batch sync still running, skipping tick")
			return
		}
		s.logger.Error("scheduled batch sync failed", zap.Error(err))
	}
}

// RunBatch runs one batch now, bounded by the configured budget.
func (s *Scheduler) RunBatch(ctx context.Context) (syncer.BatchSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return syncer.BatchSummary{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	if s.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.budget)
		defer cancel()
	}
	return s.batch.SyncAllActive(ctx)
}
