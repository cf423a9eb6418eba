package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/mygudou/gitlab-copilot-sub001/internal/workspacemeta"
)

// WorkspaceResult is one workspace sweep's outcome, per §4.7.
type WorkspaceResult struct {
	Removed    int
	Skipped    int
	Errors     int
	DurationMs int64
}

// WorkspaceCleaner periodically removes on-disk workspaces (and their
// metadata records) idle past maxIdle. Grounded on the same
// ticker-plus-single-flight shape as SessionCleaner; the workspace-
// specific twist is the metadata-then-mtime fallback §4.7 requires,
// since a directory can outlive its metadata record (a crash between
// directory creation and the metadata upsert) or vice versa.
type WorkspaceCleaner struct {
	workDir  string
	meta     workspacemeta.Store
	maxIdle  time.Duration
	interval time.Duration
	logger   *slog.Logger

	running  atomic.Bool
	stopCh   chan struct{}
	reporter SubsystemReporter
}

func NewWorkspaceCleaner(workDir string, meta workspacemeta.Store, maxIdle, interval time.Duration, reporter SubsystemReporter, logger *slog.Logger) *WorkspaceCleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceCleaner{
		workDir:  workDir,
		meta:     meta,
		maxIdle:  maxIdle,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		reporter: reporter,
	}
}

// Sweep runs one pass immediately, refusing to overlap a pass already in
// flight. A missing workDir is not an error (§4.7).
func (c *WorkspaceCleaner) Sweep(ctx context.Context) (WorkspaceResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return WorkspaceResult{}, nil
	}
	defer c.running.Store(false)

	start := time.Now()
	result := WorkspaceResult{}

	entries, err := os.ReadDir(c.workDir)
	if err != nil {
		if os.IsNotExist(err) {
			result.DurationMs = time.Since(start).Milliseconds()
			c.report("", result)
			return result, nil
		}
		result.DurationMs = time.Since(start).Milliseconds()
		c.logger.Error("workspace cleanup: listing workDir failed", "error", err)
		c.report(err.Error(), result)
		return result, err
	}

	now := time.Now()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		workspaceID := entry.Name()
		path := filepath.Join(c.workDir, workspaceID)

		lastUsed, ok := c.lastUsed(ctx, workspaceID, path)
		if !ok {
			result.Errors++
			continue
		}

		if now.Sub(lastUsed) <= c.maxIdle {
			result.Skipped++
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			c.logger.Error("workspace cleanup: removing directory failed", "workspace_id", workspaceID, "error", err)
			result.Errors++
			continue
		}
		if err := c.meta.Remove(ctx, workspaceID); err != nil {
			c.logger.Error("workspace cleanup: removing metadata failed", "workspace_id", workspaceID, "error", err)
			result.Errors++
			continue
		}
		result.Removed++
	}

	result.DurationMs = time.Since(start).Milliseconds()
	c.logger.Info("workspace cleanup swept", "removed", result.Removed, "skipped", result.Skipped, "errors", result.Errors, "duration", time.Since(start))
	c.report("", result)
	return result, nil
}

// lastUsed resolves a workspace directory's last-used time: its metadata
// record if one exists, otherwise the directory's own mtime.
func (c *WorkspaceCleaner) lastUsed(ctx context.Context, workspaceID, path string) (time.Time, bool) {
	rec, err := c.meta.Get(ctx, workspaceID)
	if err != nil {
		c.logger.Error("workspace cleanup: metadata lookup failed", "workspace_id", workspaceID, "error", err)
		return time.Time{}, false
	}
	if rec != nil {
		return rec.LastUsed, true
	}

	info, err := os.Stat(path)
	if err != nil {
		c.logger.Error("workspace cleanup: stat failed", "workspace_id", workspaceID, "error", err)
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func (c *WorkspaceCleaner) report(lastError string, result WorkspaceResult) {
	if c.reporter == nil {
		return
	}
	c.reporter.ReportSubsystem("workspace_cleanup", SubsystemStatus{
		LastRunAt: time.Now(),
		LastError: lastError,
		Detail:    result,
	})
}

// Run starts the periodic sweep loop; it blocks until Stop is called.
func (c *WorkspaceCleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				c.logger.Error("workspace cleanup loop iteration failed", "error", err)
			}
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the Run loop. Safe to call once.
func (c *WorkspaceCleaner) Stop() {
	close(c.stopCh)
}
