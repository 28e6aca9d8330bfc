package invitation

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically expires lapsed invitations so they stop reserving
// seats.
type Sweeper struct {
	svc      Service
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper constructs a Sweeper. Non-positive intervals default to a minute.
func NewSweeper(svc Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{svc: svc, interval: interval, logger: logger.With("component", "invitation_sweeper")}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("invitation sweeper started", "interval", s.interval)
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("invitation sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.svc.ExpireStale(ctx); err != nil {
		s.logger.Error("invitation sweep failed", "error", err)
	}
}
