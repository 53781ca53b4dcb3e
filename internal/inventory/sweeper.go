package inventory

import (
	"context"
	"time"

	"purchase-service/internal/util"

	"go.uber.org/zap"
)

// Sweeper drives the expiry sweep on a fixed interval. It is started with
// the process and stops when its context is cancelled.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper for the engine
func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Run blocks until ctx is cancelled, sweeping expired reservations every
// interval. Sweep errors are logged and the loop continues.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Starting reservation sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reservation sweeper stopping")
			return
		case <-ticker.C:
			count, err := s.engine.SweepExpired(ctx)
			if err != nil {
				s.logger.Error("Reservation sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				s.logger.Info("Reservation sweep released holds", zap.Int("count", count))
			}
		}
	}
}
