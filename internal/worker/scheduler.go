package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// RolloverSpec fires at local midnight.
	RolloverSpec = "0 0 * * *"
	PurgeSpec    = "@hourly"

	jobTimeout = 2 * time.Minute
)

// Roller is notified when the calendar day changes.
type Roller interface {
	Rollover(ctx context.Context) error
}

// Scheduler runs named jobs on cron specs in the user's time zone.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn under spec. Each run gets its own timeout and failures
// are logged, never retried.
func (s *Scheduler) Add(spec, name string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) run(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.logger.Error("job failed", slog.String("job", name), slog.String("error", err.Error()))
	}
}

// Register schedules the rollover for r and, if purge is non-nil, the cache purge.
func Register(s *Scheduler, r Roller, purge *PurgeJob) error {
	if err := s.Add(RolloverSpec, "rollover", r.Rollover); err != nil {
		return err
	}
	if purge != nil {
		if err := s.Add(PurgeSpec, "cache_purge", purge.Run); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs, cancels running ones and waits for them to return
// or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
