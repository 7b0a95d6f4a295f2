package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes expired and long-revoked refresh tokens.
type Sweeper struct {
	log       *slog.Logger
	store     Store
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	onSwept   func(deleted int64)
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepObserver registers a callback invoked after every successful sweep.
func WithSweepObserver(fn func(deleted int64)) SweeperOption {
	return func(s *Sweeper) { s.onSwept = fn }
}

// WithSweepClock overrides the sweep clock.
func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper builds a sweeper from the session policy.
func NewSweeper(log *slog.Logger, store Store, cfg Config, opts ...SweeperOption) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	s := &Sweeper{
		log:       log,
		store:     store,
		interval:  cfg.SweepInterval,
		retention: cfg.RevokedRetention,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if s.interval <= 0 {
		s.interval = 24 * time.Hour
	}
	if s.retention <= 0 {
		s.retention = 30 * 24 * time.Hour
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
// A failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.ErrorContext(ctx, "session.sweep.fail", "err", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single cleanup pass and returns the number of deleted rows.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.store.CleanupExpired(ctx, s.now(), s.retention)
	if err != nil {
		return 0, err
	}

	s.log.InfoContext(ctx, "session.sweep.done",
		"deleted", n,
		"retention", s.retention.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if s.onSwept != nil {
		s.onSwept(n)
	}
	return n, nil
}
