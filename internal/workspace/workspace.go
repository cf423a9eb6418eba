// Package workspace manages per-thread git working copies: cloning,
// refreshing, and reusing a working directory across events for the same
// (project, thread) pair, and committing/pushing AI-produced changes with
// rebase recovery on non-fast-forward pushes.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mygudou/gitlab-copilot-sub001/internal/keyedmutex"
	"github.com/mygudou/gitlab-copilot-sub001/internal/workspacemeta"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._/-]`)

// SanitizeWorkspaceID replaces any character outside [A-Za-z0-9._/-] with
// an underscore. Idempotent: sanitizing an already-sanitized id is a no-op.
func SanitizeWorkspaceID(id string) string {
	return unsafeChars.ReplaceAllString(id, "_")
}

// PrepareOptions describes the target working copy for one event.
type PrepareOptions struct {
	WorkspaceID    string // empty means "ephemeral, unpersisted"
	ProjectID      string
	ProjectName    string
	HTTPCloneURL   string
	AccessToken    string
	BaseBranch     string
	CheckoutBranch string
}

// Workspace is a prepared, ready-to-use git working copy.
type Workspace struct {
	ID             string
	Path           string
	BaseBranch     string
	CheckoutBranch string
}

// PushResult is commitAndPushChanges' / pushAfterConflictResolution's
// return shape.
type PushResult struct {
	Success   bool
	Rebased   bool
	Conflicts []string
	Error     string
}

// nonFastForwardMarkers are the case-insensitive substrings §4.3 specifies
// for recognizing a non-fast-forward push rejection from plain git CLI
// output. A structured (exit-code or porcelain) alternative is not
// available from stock git push output, so the substring family is kept
// verbatim per spec.md's own §9 resolution of this open question.
var nonFastForwardMarkers = []string{
	"non-fast-forward",
	"fetch first",
	"fetch the latest changes",
	"failed to push some refs",
	"tip of your current branch",
}

// Git is the subprocess runner the manager depends on; Runner in
// production, a recording fake in tests.
type Git interface {
	Run(ctx context.Context, dir string, args ...string) (stdout string, stderr string, err error)
}

// Manager produces and reuses workspaces, serializing all on-disk git
// operations for a given workspace id behind a per-id mutex — grounded on
// ghostpool.PoolManager's active-resource map, generalized from "checked
// out containers" to "locked working directories".
type Manager struct {
	workDir   string
	git       Git
	locks     *keyedmutex.Registry
	metaStore workspacemeta.Store
	logger    *slog.Logger
}

func NewManager(workDir string, git Git, metaStore workspacemeta.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		workDir:   workDir,
		git:       git,
		locks:     keyedmutex.NewRegistry(),
		metaStore: metaStore,
		logger:    logger.With("component", "workspace-manager"),
	}
}

// Lock acquires the per-workspace-id mutex for the whole
// prepare -> execute -> push phase of one event, per §5's serialization
// mandate. Callers must defer the returned unlock.
func (m *Manager) Lock(workspaceID string) (unlock func()) {
	key := workspaceID
	if key == "" {
		key = uuid.NewString()
	}
	return m.locks.Lock(key)
}

// Prepare implements the §4.3 preparation algorithm.
func (m *Manager) Prepare(ctx context.Context, opts PrepareOptions) (*Workspace, error) {
	workspaceID := opts.WorkspaceID
	persist := workspaceID != ""
	if workspaceID == "" {
		workspaceID = "new-" + uuid.NewString()
	}
	sanitized := SanitizeWorkspaceID(workspaceID)
	path := filepath.Join(m.workDir, sanitized)

	checkoutBranch := opts.CheckoutBranch
	if checkoutBranch == "" {
		checkoutBranch = opts.BaseBranch
	}

	authURL, err := authenticatedURL(opts.HTTPCloneURL, opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := m.clone(ctx, path, authURL, opts.BaseBranch, checkoutBranch); err != nil {
			return nil, err
		}
	} else {
		if err := m.refresh(ctx, path, opts.BaseBranch, checkoutBranch); err != nil {
			return nil, err
		}
	}

	if persist && m.metaStore != nil {
		now := time.Now().UTC()
		if err := m.metaStore.Upsert(ctx, &workspacemeta.Record{
			WorkspaceID:    sanitized,
			ProjectID:      opts.ProjectID,
			ProjectName:    opts.ProjectName,
			BaseBranch:     opts.BaseBranch,
			CheckoutBranch: checkoutBranch,
			Path:           path,
			LastUsed:       now,
		}); err != nil {
			m.logger.Warn("failed to persist workspace metadata", "workspace_id", sanitized, "error", err)
		}
	}

	return &Workspace{ID: sanitized, Path: path, BaseBranch: opts.BaseBranch, CheckoutBranch: checkoutBranch}, nil
}

func (m *Manager) clone(ctx context.Context, path, authURL, baseBranch, checkoutBranch string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("workspace: creating parent dir: %w", err)
	}

	_, stderr, err := m.git.Run(ctx, "", "clone", "--depth", "1", "--branch", baseBranch, authURL, path)
	if err != nil {
		// Branch missing on remote: clone default branch, then checkout baseBranch locally.
		if strings.Contains(strings.ToLower(stderr), "remote branch") || strings.Contains(strings.ToLower(stderr), "not found") {
			if _, stderr2, err2 := m.git.Run(ctx, "", "clone", "--depth", "1", authURL, path); err2 != nil {
				return fmt.Errorf("workspace: clone default branch failed: %s: %w", stderr2, err2)
			}
			if _, stderr2, err2 := m.git.Run(ctx, path, "checkout", "-b", baseBranch); err2 != nil {
				return fmt.Errorf("workspace: checkout base branch %s failed: %s: %w", baseBranch, stderr2, err2)
			}
		} else {
			return fmt.Errorf("workspace: clone failed: %s: %w", stderr, err)
		}
	}

	if err := m.configureIdentity(ctx, path); err != nil {
		return err
	}

	if checkoutBranch != baseBranch {
		if _, stderr, err := m.git.Run(ctx, path, "checkout", "-b", checkoutBranch); err != nil {
			return fmt.Errorf("workspace: creating checkout branch %s failed: %s: %w", checkoutBranch, stderr, err)
		}
	}
	return nil
}

func (m *Manager) refresh(ctx context.Context, path, baseBranch, checkoutBranch string) error {
	if _, stderr, err := m.git.Run(ctx, path, "fetch"); err != nil {
		return fmt.Errorf("workspace: fetch failed: %s: %w", stderr, err)
	}

	if checkoutBranch == baseBranch {
		return m.checkoutAndPull(ctx, path, baseBranch, "origin/"+baseBranch)
	}

	if err := m.checkoutAndPull(ctx, path, baseBranch, "origin/"+baseBranch); err != nil {
		return err
	}

	exists, err := m.branchExistsAtOrigin(ctx, path, checkoutBranch)
	if err != nil {
		return err
	}
	if exists {
		if err := m.checkoutAndPull(ctx, path, checkoutBranch, "origin/"+checkoutBranch); err != nil {
			return err
		}
	} else {
		if _, stderr, err := m.git.Run(ctx, path, "checkout", "-B", checkoutBranch, baseBranch); err != nil {
			return fmt.Errorf("workspace: creating %s from %s failed: %s: %w", checkoutBranch, baseBranch, stderr, err)
		}
	}
	return nil
}

func (m *Manager) checkoutAndPull(ctx context.Context, path, branch, remoteRef string) error {
	if _, _, err := m.git.Run(ctx, path, "checkout", branch); err != nil {
		if _, stderr, err2 := m.git.Run(ctx, path, "checkout", "-b", branch, remoteRef); err2 != nil {
			return fmt.Errorf("workspace: checking out %s failed: %s: %w", branch, stderr, err2)
		}
	}
	if _, stderr, err := m.git.Run(ctx, path, "pull"); err != nil {
		return fmt.Errorf("workspace: pull on %s failed: %s: %w", branch, stderr, err)
	}
	return nil
}

func (m *Manager) branchExistsAtOrigin(ctx context.Context, path, branch string) (bool, error) {
	stdout, _, err := m.git.Run(ctx, path, "ls-remote", "--heads", "origin", branch)
	if err != nil {
		return false, fmt.Errorf("workspace: checking remote branch %s: %w", branch, err)
	}
	return strings.TrimSpace(stdout) != "", nil
}

func (m *Manager) configureIdentity(ctx context.Context, path string) error {
	if _, stderr, err := m.git.Run(ctx, path, "config", "user.name", "gitlab-copilot"); err != nil {
		return fmt.Errorf("workspace: configuring user.name: %s: %w", stderr, err)
	}
	if _, stderr, err := m.git.Run(ctx, path, "config", "user.email", "gitlab-copilot@users.noreply"); err != nil {
		return fmt.Errorf("workspace: configuring user.email: %s: %w", stderr, err)
	}
	return nil
}

// authenticatedURL inserts oauth2:<token> into the HTTP clone URL's user
// info, per §4.3.
func authenticatedURL(httpURL, token string) (string, error) {
	if httpURL == "" {
		return "", fmt.Errorf("no HTTP clone URL present on event payload")
	}
	if !strings.HasPrefix(httpURL, "http://") && !strings.HasPrefix(httpURL, "https://") {
		return "", fmt.Errorf("clone URL %q is not an HTTP(S) URL", httpURL)
	}
	scheme := "https://"
	rest := strings.TrimPrefix(httpURL, "https://")
	if strings.HasPrefix(httpURL, "http://") {
		scheme = "http://"
		rest = strings.TrimPrefix(httpURL, "http://")
	}
	return scheme + "oauth2:" + token + "@" + rest, nil
}

// CommitAndPushChanges implements §4.3's push-with-rebase-recovery
// algorithm.
func (m *Manager) CommitAndPushChanges(ctx context.Context, ws *Workspace, message string) (PushResult, error) {
	if err := m.runAdd(ctx, ws.Path); err != nil {
		return PushResult{}, err
	}

	status, _, err := m.git.Run(ctx, ws.Path, "status", "--porcelain")
	if err != nil {
		return PushResult{}, fmt.Errorf("workspace: status check failed: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return PushResult{Success: true, Rebased: false}, nil
	}

	if _, stderr, err := m.git.Run(ctx, ws.Path, "commit", "-m", message); err != nil {
		return PushResult{}, fmt.Errorf("workspace: commit failed: %s: %w", stderr, err)
	}

	_, pushErr, err := m.git.Run(ctx, ws.Path, "push")
	if err == nil {
		return PushResult{Success: true, Rebased: false}, nil
	}

	if !isNonFastForward(pushErr) {
		return PushResult{Success: false, Rebased: false, Error: pushErr}, nil
	}

	if _, rebaseErr, err := m.git.Run(ctx, ws.Path, "pull", "--rebase", "origin", ws.CheckoutBranch); err != nil {
		conflicts, convErr := m.conflictedPaths(ctx, ws.Path)
		if convErr == nil && len(conflicts) > 0 {
			return PushResult{Success: false, Rebased: true, Conflicts: conflicts}, nil
		}
		return PushResult{Success: false, Rebased: true, Error: rebaseErr}, nil
	}

	if _, retryErr, err := m.git.Run(ctx, ws.Path, "push"); err != nil {
		return PushResult{Success: false, Rebased: true, Error: retryErr}, nil
	}
	return PushResult{Success: true, Rebased: true}, nil
}

func (m *Manager) runAdd(ctx context.Context, path string) error {
	if _, stderr, err := m.git.Run(ctx, path, "add", "."); err != nil {
		return fmt.Errorf("workspace: add failed: %s: %w", stderr, err)
	}
	return nil
}

func (m *Manager) conflictedPaths(ctx context.Context, path string) ([]string, error) {
	stdout, _, err := m.git.Run(ctx, path, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// PushAfterConflictResolution implements §4.3's post-resolution push
// entry point.
func (m *Manager) PushAfterConflictResolution(ctx context.Context, ws *Workspace) (PushResult, error) {
	conflicts, err := m.conflictedPaths(ctx, ws.Path)
	if err != nil {
		return PushResult{}, fmt.Errorf("workspace: checking conflicts: %w", err)
	}
	if len(conflicts) > 0 {
		return PushResult{Success: false, Rebased: true, Conflicts: conflicts}, nil
	}

	if m.rebaseInProgress(ws.Path) {
		if _, stderr, err := m.git.Run(ctx, ws.Path, "rebase", "--continue"); err != nil {
			return PushResult{}, fmt.Errorf("workspace: rebase --continue failed: %s: %w", stderr, err)
		}
	}

	status, _, err := m.git.Run(ctx, ws.Path, "status", "--porcelain")
	if err != nil {
		return PushResult{}, fmt.Errorf("workspace: status check failed: %w", err)
	}
	if strings.TrimSpace(status) != "" {
		return PushResult{}, fmt.Errorf("workspace: uncommitted changes remain after conflict resolution")
	}

	if _, pushErr, err := m.git.Run(ctx, ws.Path, "push"); err != nil {
		return PushResult{Success: false, Rebased: true, Error: pushErr}, nil
	}
	return PushResult{Success: true, Rebased: true}, nil
}

func (m *Manager) rebaseInProgress(path string) bool {
	_, err1 := os.Stat(filepath.Join(path, ".git", "rebase-merge"))
	_, err2 := os.Stat(filepath.Join(path, ".git", "rebase-apply"))
	return err1 == nil || err2 == nil
}

func isNonFastForward(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range nonFastForwardMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// FileChange describes one file touched in the working tree, from
// `git status --porcelain` interpretation.
type FileChange struct {
	Path   string
	Status string // "created" | "modified" | "deleted"
}

// DetectFileChanges reads `git status --porcelain` per §4.5's file-change
// detection rule: "??" -> created, "D" -> deleted, otherwise modified.
func (m *Manager) DetectFileChanges(ctx context.Context, path string) ([]FileChange, error) {
	stdout, _, err := m.git.Run(ctx, path, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("workspace: status --porcelain failed: %w", err)
	}

	var changes []FileChange
	for _, line := range strings.Split(stdout, "\n") {
		if len(line) < 3 {
			continue
		}
		code := line[:2]
		file := strings.TrimSpace(line[3:])
		status := "modified"
		switch {
		case code == "??":
			status = "created"
		case strings.Contains(code, "D"):
			status = "deleted"
		}
		changes = append(changes, FileChange{Path: file, Status: status})
	}
	return changes, nil
}
