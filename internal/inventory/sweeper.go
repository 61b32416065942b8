package inventory

import (
	"context"
	"log/slog"
	"time"

	"pos-backend/internal/metrics"
)

// Sweeper periodically returns expired reservations to available. A sweep
// is idempotent, so overlapping or repeated runs are harmless.
type Sweeper struct {
	ledger   *Ledger
	interval time.Duration
	log      *slog.Logger
}

func NewSweeper(l *Ledger, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{ledger: l, interval: interval, log: log}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("reservation sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) int {
	n, err := s.ledger.ReleaseExpired(ctx)
	if err != nil {
		s.log.Error("reservation sweep failed", "err", err)
		return 0
	}
	if n > 0 {
		metrics.ReservationsExpired.Add(float64(n))
		s.log.Info("expired reservations released", "units", n)
	}
	return n
}
