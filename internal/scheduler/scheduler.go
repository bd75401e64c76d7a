package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every polling interval.
type TickFunc func(ctx context.Context, now time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval       time.Duration
	StartupDelay   time.Duration
	RunImmediately bool
}

// Scheduler drives the periodic polling loop.
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

// Run blocks, invoking the tick function on each interval until ctx is
// cancelled. Tick failures are logged, never fatal: the next interval
// still fires.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunImmediately {
		s.execute(ctx, tick, time.Now())
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.execute(ctx, tick, now)
		}
	}
}

// RunDaily invokes job once per day at the given local hour.
func (s *Scheduler) RunDaily(ctx context.Context, hour int, job TickFunc) error {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}

		s.logger.Debug().Time("next_run", next).Msg("等待下一次日报")
		if err := sleep(ctx, time.Until(next)); err != nil {
			return err
		}
		s.execute(ctx, job, next)
	}
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc, now time.Time) {
	s.logger.Info().Time("at", now).Msg("执行定时任务")
	if err := tick(ctx, now); err != nil {
		s.logger.Error().Err(err).Msg("定时任务执行失败")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
