// Package cleanup implements the two periodic sweeps §4.7 describes:
// idle session removal and idle workspace removal. Both are bounded
// single-flight (a sweep already in progress is never started twice) and
// run on their own ticker, grounded on protocol.SessionManager's
// cleanupLoop/Cleanup/Stop shape.
package cleanup

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mygudou/gitlab-copilot-sub001/internal/session"
)

// SessionResult is a single sweep's outcome, per §4.7.
type SessionResult struct {
	Expired    int
	Remaining  int
	DurationMs int64
}

// sweepTimeWarnThreshold and occupancyWarnFraction are the §4.7 warn
// thresholds: a sweep taking longer than 5s, or occupancy exceeding 80%
// of maxSessions, is logged at warn level without failing the sweep.
const (
	sweepTimeWarnThreshold = 5 * time.Second
	occupancyWarnFraction  = 0.8
)

// SessionCleaner periodically removes sessions idle past maxIdle.
type SessionCleaner struct {
	store    session.Store
	maxIdle  time.Duration
	interval time.Duration
	logger   *slog.Logger

	running  atomic.Bool
	stopCh   chan struct{}
	reporter SubsystemReporter
}

// NewSessionCleaner builds a cleaner. interval and maxIdle are both
// validated upstream at config load (§6: intervals must fit the timer
// bound, durations must be at least one minute).
func NewSessionCleaner(store session.Store, maxIdle, interval time.Duration, reporter SubsystemReporter, logger *slog.Logger) *SessionCleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionCleaner{
		store:    store,
		maxIdle:  maxIdle,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		reporter: reporter,
	}
}

// Sweep runs one pass immediately, refusing to overlap a pass already in
// flight (§4.7: "bounded single-flight"). Returns the zero SessionResult
// and no error when a sweep is already running. That value is the same
// as the result of a sweep that expired nothing, left nothing and took
// under a millisecond, so the two cases cannot be told apart from it.
func (c *SessionCleaner) Sweep(ctx context.Context) (SessionResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return SessionResult{}, nil
	}
	defer c.running.Store(false)

	start := time.Now()
	expired, remaining, err := c.store.CleanExpired(ctx, c.maxIdle)
	elapsed := time.Since(start)

	result := SessionResult{Expired: expired, Remaining: remaining, DurationMs: elapsed.Milliseconds()}

	if err != nil {
		c.logger.Error("session cleanup sweep failed", "error", err)
		c.report(err.Error(), result)
		return result, err
	}

	if elapsed > sweepTimeWarnThreshold {
		c.logger.Warn("session cleanup sweep exceeded time threshold", "duration", elapsed)
	}

	stats := c.store.Stats(ctx)
	if stats.MaxSessions > 0 && float64(stats.Total) > occupancyWarnFraction*float64(stats.MaxSessions) {
		c.logger.Warn("session store occupancy high", "total", stats.Total, "max", stats.MaxSessions)
	}

	c.logger.Info("session cleanup swept", "expired", expired, "remaining", remaining, "duration", elapsed)
	c.report("", result)
	return result, nil
}

func (c *SessionCleaner) report(lastError string, result SessionResult) {
	if c.reporter == nil {
		return
	}
	c.reporter.ReportSubsystem("session_cleanup", SubsystemStatus{
		LastRunAt: time.Now(),
		LastError: lastError,
		Detail:    result,
	})
}

// Run starts the periodic sweep loop; it blocks until Stop is called.
func (c *SessionCleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				c.logger.Error("session cleanup loop iteration failed", "error", err)
			}
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the Run loop. Safe to call once.
func (c *SessionCleaner) Stop() {
	close(c.stopCh)
}
