package circulation

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper recomputes overdue loans on a fixed interval.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper returns a sweeper for engine. A nil logger uses slog.Default().
func NewSweeper(engine *Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{engine: engine, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
// Sweep errors are logged, not returned.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.engine.RecomputeOverdue(ctx, s.engine.Now()); err != nil && ctx.Err() == nil {
		s.logger.Warn("overdue sweep failed", "error", err)
	}
}
