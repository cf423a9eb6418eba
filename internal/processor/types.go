// Package processor ties the classifier, workspace manager, provider
// registry, streaming executor, and platform client together into the
// per-event decision table and prompt/comment lifecycle spec.md §4.6
// describes.
package processor

import (
	"context"

	"github.com/mygudou/gitlab-copilot-sub001/internal/event"
	"github.com/mygudou/gitlab-copilot-sub001/internal/executor"
	"github.com/mygudou/gitlab-copilot-sub001/internal/progressbus"
	"github.com/mygudou/gitlab-copilot-sub001/internal/session"
	"github.com/mygudou/gitlab-copilot-sub001/internal/tenantctx"
	"github.com/mygudou/gitlab-copilot-sub001/internal/workspace"
)

// WebhookEvent is the normalized shape a webhook receiver builds from the
// platform's raw JSON before handing it to the processor. One struct
// covers all three event kinds; fields outside a kind's relevance are
// left zero.
type WebhookEvent struct {
	RequestID      string
	ProjectID      int
	ProjectName    string
	HTTPCloneURL   string
	AccessToken    string
	DefaultBranch  string
	Kind           event.Kind
	Action         string // open | reopen | update | close | merge
	ThreadIID      int    // the issue iid, or the merge request iid
	Title          string
	Description    string
	NoteID         int    // the triggering note's own id, only set when Kind == KindNote
	NoteBody       string
	NoteTarget     string // "issue" | "merge_request", only set when Kind == KindNote
	DiscussionID   string
	AuthorUsername string
	SourceBranch   string // merge_request only
	TargetBranch   string // merge_request only
}

// WorkspaceManager is the narrow surface Processor needs from
// workspace.Manager.
type WorkspaceManager interface {
	Lock(workspaceID string) (unlock func())
	Prepare(ctx context.Context, opts workspace.PrepareOptions) (*workspace.Workspace, error)
	CommitAndPushChanges(ctx context.Context, ws *workspace.Workspace, message string) (workspace.PushResult, error)
	PushAfterConflictResolution(ctx context.Context, ws *workspace.Workspace) (workspace.PushResult, error)
}

// Executor is the narrow surface Processor needs from executor.Executor.
type Executor interface {
	Execute(ctx context.Context, p session.Provider, workdir, prompt string, onProgress executor.ProgressFunc, opts executor.Options) (*executor.Result, error)
}

// ProgressBus is one execution's ordered progress-comment channel,
// built fresh per execution by BusFactory so each comment id gets its
// own worker.
type ProgressBus interface {
	Publish(ctx context.Context, event progressbus.Event)
	Close() error
}

// BusFactory builds a ProgressBus bound to handler. Production wiring
// supplies either progressbus.NewMemoryBus or progressbus.NewPubSubBus;
// tests supply a recording fake.
type BusFactory func(handler progressbus.Handler) ProgressBus

// PlatformFactory builds a PlatformClient credentialed for one tenant.
// Every event is processed under its own resolved tenant (§4.1), so the
// platform client cannot be fixed at Processor construction time the way
// the other collaborators are; production wiring supplies
// platform.FromTenant wrapped to satisfy PlatformClient.
type PlatformFactory func(tenantctx.Tenant) PlatformClient
