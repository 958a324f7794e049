package dca

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/spendsave/pkg/logger"
)

// Scheduler runs ProcessAll on a cron schedule.
type Scheduler struct {
	processor *Processor
	spec      string
	log       *logger.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler for processor. spec accepts the standard
// five-field cron format and descriptors such as "@every 1h".
func NewScheduler(processor *Processor, spec string, log *logger.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if log == nil {
		log = logger.NewDefault("dca-scheduler")
	}
	return &Scheduler{processor: processor, spec: spec, log: log}, nil
}

// Name implements system.Service.
func (s *Scheduler) Name() string { return "dca-scheduler" }

// Start begins the schedule. Sweeps never overlap.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.spec, func() { s.sweep(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("register sweep: %w", err)
	}
	c.Start()
	s.cron, s.cancel = c, cancel
	s.log.WithField("schedule", s.spec).Info("conversion scheduler started")
	return nil
}

// Stop cancels an in-flight sweep and waits for it to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("conversion scheduler stopped")
	return nil
}

// RunNow performs one sweep synchronously.
func (s *Scheduler) RunNow(ctx context.Context) (Summary, error) {
	return s.processor.ProcessAll(ctx)
}

func (s *Scheduler) sweep(ctx context.Context) {
	sum, err := s.processor.ProcessAll(ctx)
	if err != nil {
		s.log.WithError(err).Warn("conversion sweep aborted")
		return
	}
	if sum.Err != nil {
		s.log.WithError(sum.Err).WithField("failed", sum.Failed).Debug("conversion sweep had failures")
	}
}
