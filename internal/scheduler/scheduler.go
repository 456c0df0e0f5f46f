// Package scheduler runs the auto-release sweep on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
	"github.com/rl1809/ticket-escrow/internal/core/service"
)

type Sweeper interface {
	ProcessAutoReleases(ctx context.Context) (service.SweepReport, error)
}

type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger
}

func New(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{sweeper: sweeper, interval: interval, logger: logger}
}

// Run sweeps once per interval until ctx is done. A pass still running when
// the next tick fires makes that tick a no-op.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("auto-release scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auto-release scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	report, err := s.sweeper.ProcessAutoReleases(ctx)
	switch {
	case errors.Is(err, domain.ErrSweepInProgress):
		s.logger.Debug("auto-release sweep skipped, previous pass still running")
	case err != nil:
		s.logger.Error("auto-release sweep failed", "error", err)
	case report.Released+report.Failed+report.Deferred > 0:
		s.logger.Info("auto-release sweep finished",
			"released", report.Released,
			"skipped", report.Skipped,
			"failed", report.Failed,
			"deferred", report.Deferred,
		)
	}
}
