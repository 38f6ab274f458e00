package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per polling interval.
type TickFunc func(ctx context.Context) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
	RunOnStart   bool
}

// Scheduler drives the polling loop. One tick runs at a time; errors
// are logged and never stop the loop, and cancellation is observed
// only between ticks so in-flight work completes.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function every interval until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunOnStart {
		s.execute(ctx, tick)
	}

	for {
		if err := s.sleep(ctx, s.opts.Interval); err != nil {
			return err
		}
		s.execute(ctx, tick)
	}
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc) {
	started := time.Now()
	s.logger.Debug().Msg("executing poll cycle")
	if err := tick(ctx); err != nil {
		s.logger.Error().Err(err).Msg("poll cycle failed")
	}
	s.logger.Debug().Dur("elapsed", time.Since(started)).Msg("poll cycle finished")
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
