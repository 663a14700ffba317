package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs aggregation at 03:00 every Monday.
const DefaultSchedule = "0 3 * * 1"

// Scheduler runs AggregateAll on a cron schedule over a trailing window.
type Scheduler struct {
	agg      *Aggregator
	schedule cron.Schedule
	window   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewScheduler parses a standard five-field cron expression.
func NewScheduler(agg *Aggregator, spec string, window time.Duration, logger *slog.Logger) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse aggregation schedule %q: %w", spec, err)
	}
	return &Scheduler{agg: agg, schedule: sched, window: window, logger: logger, now: time.Now}, nil
}

// Next reports when the schedule fires after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks until ctx is cancelled, aggregating each time the schedule fires.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.schedule.Next(s.now())
		s.logger.Info("next aggregation scheduled", "at", next)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.RunOnce(ctx, next); err != nil {
			s.logger.Error("scheduled aggregation failed", "error", err)
		}
	}
}

// RunOnce aggregates the window ending at at, labelled with at's ISO week.
func (s *Scheduler) RunOnce(ctx context.Context, at time.Time) (int, error) {
	from := at.Add(-s.window)
	period := Period(at)
	written, err := s.agg.AggregateAll(ctx, period, from, at)
	s.logger.Info("aggregation run complete", "period", period, "written", written)
	return written, err
}
