package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"parking-gate-backend/config"
	"parking-gate-backend/internal/clock"
)

// Purger deletes closed sessions older than a cutoff.
type Purger interface {
	PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically removes closed sessions past the retention period. Open sessions are never touched.
type Service struct {
	purger   Purger
	clock    clock.Clock
	keep     time.Duration
	interval time.Duration
	log      *zap.Logger
}

func NewService(cfg config.RetentionConfig, purger Purger, clk clock.Clock, log *zap.Logger) *Service {
	return &Service{
		purger:   purger,
		clock:    clk,
		keep:     time.Duration(cfg.Days) * 24 * time.Hour,
		interval: cfg.SweepInterval,
		log:      log.With(zap.String("component", "retention")),
	}
}

// Run sweeps once at start, then every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.log.Info("starting retention sweeper",
		zap.Duration("keep", s.keep),
		zap.Duration("interval", s.interval))

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("retention sweeper shutting down")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// SweepOnce deletes closed sessions that left before now minus the retention period.
func (s *Service) SweepOnce(ctx context.Context) int64 {
	cutoff := s.clock.Now().Add(-s.keep)

	n, err := s.purger.PurgeClosedBefore(ctx, cutoff)
	if err != nil {
		s.log.Error("retention sweep failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0
	}
	if n > 0 {
		s.log.Info("purged closed sessions", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n
}
