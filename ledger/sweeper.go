package ledger

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically runs the expiry sweep across all wallets, then any
// configured hooks (ad expiry and the like).
type Sweeper struct {
	ledger   *Ledger
	interval time.Duration
	logger   *slog.Logger
	hooks    []func(context.Context) error
}

// SweeperConfig customises the background sweep cadence.
type SweeperConfig struct {
	Ledger   *Ledger
	Interval time.Duration
	Logger   *slog.Logger
	Hooks    []func(context.Context) error
}

// NewSweeper constructs a sweeper; an unset interval defaults to hourly.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sweeper{ledger: cfg.Ledger, interval: cfg.Interval, logger: cfg.Logger, hooks: cfg.Hooks}
}

// Start blocks running sweeps until the context is cancelled. Callers run
// it in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil || s.ledger == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.ledger.SweepAll(ctx)
			if err != nil {
				s.logger.Error("expiry sweep run failed", "error", err)
				continue
			}
			if expired > 0 {
				s.logger.Info("expiry sweep completed", "tokens_expired", expired)
			}
			for _, hook := range s.hooks {
				if err := hook(ctx); err != nil {
					s.logger.Error("sweep hook failed", "error", err)
				}
			}
		}
	}
}
