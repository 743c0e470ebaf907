// Package reaper implements the Sweeper from spec.md §4.8: a ticker-driven
// background loop that reclaims sessions past their expires_at, and
// self-heals MetaStore/filesystem inconsistency (a dangling membership
// entry whose record is already gone) rather than treating it as fatal.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/p-arndt/texcompile/internal/clock"
	"github.com/p-arndt/texcompile/internal/session"
)

// Reaper periodically sweeps every registered session key and deletes
// the ones whose TTL has elapsed, adapted from the teacher's
// ticker-plus-reconcile-on-startup shape in internal/reaper/reaper.go,
// generalized from Docker-container reconciliation onto
// session.Manager/clock.Clock.
type Reaper struct {
	manager  *session.Manager
	clk      clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

func New(mgr *session.Manager, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		manager:  mgr,
		clk:      clk,
		interval: interval,
		logger:   logger,
	}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval)

	r.Sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: for every session key registered under this
// instance, load the record and delete it if expired. A key whose record
// is already gone (dangling set membership, e.g. from a crash between
// delete_session's two writes) is treated as already-expired and cleaned
// up rather than logged as an error — that's the self-healing spec.md
// §4.8 calls for.
func (r *Reaper) Sweep(ctx context.Context) {
	ids, err := r.manager.GetAllSessionIDs(ctx)
	if err != nil {
		r.logger.Error("reaper: list session ids", "error", err)
		return
	}

	now := r.clk.Now()
	reaped := 0
	for _, id := range ids {
		s, found, err := r.manager.LoadSession(ctx, id)
		if err != nil {
			r.logger.Error("reaper: load session", "session_key", id, "error", err)
			continue
		}
		if !found {
			// Dangling set member: the record is gone but the key survives in
			// the instance set. DeleteSession is idempotent, so this also
			// clears the stale set entry.
			if err := r.manager.DeleteSession(ctx, &session.Session{Record: session.Record{Key: id}}); err != nil &&
				!errors.Is(err, session.ErrNotFound) {
				r.logger.Error("reaper: clean dangling entry", "session_key", id, "error", err)
			}
			continue
		}
		if now < s.ExpiresAt {
			continue
		}
		if err := r.manager.DeleteSession(ctx, s); err != nil {
			r.logger.Error("reaper: delete expired session", "session_key", id, "error", err)
			continue
		}
		reaped++
	}

	if reaped > 0 {
		r.logger.Info("reaper: reaped sessions", "count", reaped)
	}
}
