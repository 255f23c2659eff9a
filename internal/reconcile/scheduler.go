package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metasync/internal/config"

	"github.com/rs/zerolog"
)

// Scheduler runs the reconciliation job once per day at a fixed local
// wall-clock time. Failures are logged and alerted, never fatal.
type Scheduler struct {
	job    *Job
	config config.ReconcileConfig
	now    func() time.Time
	logger zerolog.Logger
}

func NewScheduler(job *Job, cfg config.ReconcileConfig, logger *zerolog.Logger) *Scheduler {
	return &Scheduler{
		job:    job,
		config: cfg,
		now:    time.Now,
		logger: logger.With().Str("component", "reconcile_scheduler").Logger(),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Reconciliation scheduler is disabled")
		return
	}

	hour, minute, err := parseRunAt(s.config.RunAt)
	if err != nil {
		s.logger.Error().Err(err).Str("run_at", s.config.RunAt).Msg("Invalid run_at, scheduler not started")
		return
	}

	s.logger.Info().Str("run_at", s.config.RunAt).Msg("Reconciliation scheduler started")
	defer s.logger.Info().Msg("Reconciliation scheduler stopped")

	for {
		next := s.nextRun(hour, minute)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		result, err := s.job.Run(ctx)
		if errors.Is(err, ErrAlreadyRunning) {
			s.logger.Warn().Msg("Scheduled reconciliation skipped, a manual run is in flight")
			continue
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("Scheduled reconciliation failed")
			continue
		}
		s.logger.Info().
			Int("total", result.Total).
			Int("mismatches", result.Mismatches()).
			Int("fixed", result.Fixed).
			Dur("duration", result.Duration).
			Msg("Scheduled reconciliation completed")
	}
}

func (s *Scheduler) nextRun(hour, minute int) time.Time {
	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func parseRunAt(raw string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse run_at %q: %w", raw, err)
	}
	return t.Hour(), t.Minute(), nil
}
