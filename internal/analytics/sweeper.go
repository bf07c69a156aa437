package analytics

import (
	"context"
	"log/slog"
	"time"
)

// StaleDeleter removes sessions that never made progress.
type StaleDeleter interface {
	DeleteStaleSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically deletes sessions with a zero completion rate older
// than the retention period.
type Sweeper struct {
	repo      StaleDeleter
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// NewSweeper creates a sweeper.
func NewSweeper(repo StaleDeleter, interval, retention time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{repo: repo, interval: interval, retention: retention, logger: logger}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("stale session sweeper started", "interval", s.interval, "retention", s.retention)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("stale session sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep runs one cleanup pass and returns the number of deleted sessions.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	cutoff := time.Now().Add(-s.retention)
	deleted, err := s.repo.DeleteStaleSessions(ctx, cutoff)
	if err != nil {
		s.logger.Error("stale session sweep failed", "error", err)
		return 0
	}
	if deleted > 0 {
		s.logger.Info("stale session sweep completed", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted
}
