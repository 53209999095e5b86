package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
)

// Schedule returns the next activation strictly after from.
type Schedule interface {
	Next(from time.Time) time.Time
}

// Scheduler starts a training run each time its schedule fires. A firing
// while a run is still in progress is skipped.
type Scheduler struct {
	svc      Service
	schedule Schedule
	cfg      Config
	logger   *slog.Logger
}

func NewScheduler(svc Service, schedule Schedule, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		svc:      svc,
		schedule: schedule,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	next := s.schedule.Next(time.Now())
	if next.IsZero() {
		s.logger.Warn("training schedule never fires")

		return nil
	}
	s.logger.Info("training scheduler started", slog.Time("next_run", next))

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("training scheduler stopped")

			return nil
		case now := <-timer.C:
			s.trigger(ctx)

			next = s.schedule.Next(now)
			if next.IsZero() {
				return nil
			}
			timer.Reset(time.Until(next))
			s.logger.Debug("next scheduled training run", slog.Time("next_run", next))
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	st, err := s.svc.Start(ctx, s.cfg)
	switch {
	case errors.Is(err, pkgerrors.ErrAlreadyRunning):
		s.logger.Info("skipping scheduled training run, previous run still in progress")
	case err != nil:
		s.logger.Error("failed to start scheduled training run", slog.Any("error", err))
	default:
		s.logger.Info("started scheduled training run", slog.Int("num_rounds", st.NumRounds))
	}
}
