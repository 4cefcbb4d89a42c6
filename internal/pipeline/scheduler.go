package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/brendte/news-router/pkg/errors"
)

type CycleRunner interface {
	RunCycle(ctx context.Context) (Report, error)
}

// Scheduler triggers a cycle every interval until its context ends.
type Scheduler struct {
	runner     CycleRunner
	interval   time.Duration
	runOnStart bool
	logger     *slog.Logger
}

func NewScheduler(runner CycleRunner, interval time.Duration, runOnStart bool) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		runner:     runner,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     slog.Default().With("component", "scheduler"),
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler starting", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStart {
		s.tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.runner.RunCycle(ctx)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrCycleInProgress):
		s.logger.Info("previous cycle still running, skipping tick")
	case ctx.Err() != nil:
	default:
		s.logger.Error("scheduled cycle failed", "error", err)
	}
}
