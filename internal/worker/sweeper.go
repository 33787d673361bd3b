package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

// Finalizer repairs enrollments that stopped half way.
type Finalizer interface {
	FinalizePending(ctx context.Context, grace time.Duration) (int, error)
}

type Sweeper struct {
	finalizer Finalizer
	interval  time.Duration
	grace     time.Duration
	logger    logger.ZapLogger
}

func NewSweeper(finalizer Finalizer, interval, grace time.Duration, logger logger.ZapLogger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{finalizer: finalizer, interval: interval, grace: grace, logger: logger}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Starting pending QR sweeper", zap.Duration("interval", s.interval), zap.Duration("grace", s.grace))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping pending QR sweeper")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.finalizer.FinalizePending(ctx, s.grace)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Pending QR sweep failed", zap.Error(err))
		}
		return
	}
	if n > 0 {
		s.logger.Info("Repaired pending enrollments", zap.Int("count", n))
	}
}
