// Package analytics runs best-effort background bookkeeping for sessions.
// Nothing here is required for the correctness of a turn.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tutorhub/internal/shared"
)

// Recorder stores the derived analytics of one session.
type Recorder interface {
	RecordAnalytics(ctx context.Context, sessionID string, now time.Time) error
}

// Refresher recomputes session analytics off the request path. Requests go
// through a bounded queue; when it is full they are dropped.
type Refresher struct {
	rec    Recorder
	queue  chan string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]bool
	dropped int
}

// NewRefresher creates a refresher with room for queueSize pending sessions.
func NewRefresher(rec Recorder, queueSize int, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Refresher{
		rec:     rec,
		queue:   make(chan string, queueSize),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		pending: make(map[string]bool),
	}
}

// Enqueue schedules a refresh for sessionID. It never blocks. A session that
// is already queued is not queued twice.
func (r *Refresher) Enqueue(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending[sessionID] {
		return
	}
	select {
	case r.queue <- sessionID:
		r.pending[sessionID] = true
	default:
		r.dropped++
		r.logger.Warn("analytics queue full, dropping refresh", "session_id", sessionID, "dropped_total", r.dropped)
	}
}

// Dropped returns how many refreshes were discarded because the queue was full.
func (r *Refresher) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Run processes queued refreshes until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info("analytics refresher started", "queue_size", cap(r.queue))
	for {
		select {
		case id := <-r.queue:
			r.mu.Lock()
			delete(r.pending, id)
			r.mu.Unlock()

			if err := r.refreshWithRetry(ctx, id); err != nil {
				r.logger.Warn("analytics refresh failed", "session_id", id, "error", err)
			}
		case <-ctx.Done():
			r.logger.Info("analytics refresher shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// refreshWithRetry retries SQLITE_BUSY failures with exponential backoff.
func (r *Refresher) refreshWithRetry(ctx context.Context, sessionID string) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = r.rec.RecordAnalytics(ctx, sessionID, r.now())
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i)
		r.logger.Debug("analytics refresh hit a locked database, retrying",
			"session_id", sessionID, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("refresh analytics for %s after retries: %w", sessionID, err)
}
