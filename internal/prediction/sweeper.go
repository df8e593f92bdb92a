package prediction

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically expires stale pending records until its context ends.
type Sweeper struct {
	service  ServiceAPI
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(service ServiceAPI, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{service: service, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Warn("expiry sweeper disabled: non-positive interval")
		return
	}

	s.logger.Info("expiry sweeper started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.service.ExpireStale(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("expiry sweep failed", "error", err)
		}
		return
	}
	s.logger.Debug("expiry sweep finished", "expired", n)
}
