package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mygudou/gitlab-copilot-sub001/internal/classifier"
	"github.com/mygudou/gitlab-copilot-sub001/internal/event"
	"github.com/mygudou/gitlab-copilot-sub001/internal/executor"
	"github.com/mygudou/gitlab-copilot-sub001/internal/keyedmutex"
	"github.com/mygudou/gitlab-copilot-sub001/internal/progressbus"
	"github.com/mygudou/gitlab-copilot-sub001/internal/session"
	"github.com/mygudou/gitlab-copilot-sub001/internal/tenantctx"
	"github.com/mygudou/gitlab-copilot-sub001/internal/workspace"
)

// Processor ties classification, workspace preparation, AI execution,
// and platform comment rendering into one event's end-to-end handling,
// per §4.6.
type Processor struct {
	classifier      *classifier.Classifier
	sessions        session.Store
	workspaces      WorkspaceManager
	exec            Executor
	platformFactory PlatformFactory
	events          event.Store
	busFactory      BusFactory
	sessionLocks    *keyedmutex.Registry
	logger          *slog.Logger
}

func New(
	classifier *classifier.Classifier,
	sessions session.Store,
	workspaces WorkspaceManager,
	exec Executor,
	platformFactory PlatformFactory,
	events event.Store,
	busFactory BusFactory,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		classifier:      classifier,
		sessions:        sessions,
		workspaces:      workspaces,
		exec:            exec,
		platformFactory: platformFactory,
		events:          events,
		busFactory:      busFactory,
		sessionLocks:    keyedmutex.NewRegistry(),
		logger:          logger.With("component", "processor"),
	}
}

// Process implements the §4.6 decision table end to end for one
// webhook event. It is meant to run on the background task a webhook
// receiver spawns after it has already acknowledged the request.
func (p *Processor) Process(ctx context.Context, we WebhookEvent) error {
	tenant := tenantctx.MustFromContext(ctx)
	platform := p.platformFactory(tenant)

	key := sessionKeyFor(we)
	text := contentSourceText(we)

	instr, err := p.classifier.Classify(ctx, classifier.ClassifyInput{
		EventKind:  string(we.Kind),
		NoteTarget: we.NoteTarget,
		Text:       text,
		SessionKey: key,
	})
	if err != nil {
		return fmt.Errorf("processor: classify: %w", err)
	}

	rec, err := p.events.FindByRequestID(ctx, we.RequestID)
	if err != nil {
		return fmt.Errorf("processor: look up event record: %w", err)
	}
	if rec == nil {
		// The receiver is expected to have already written this record
		// synchronously before dispatching; this is a fallback for callers
		// (tests, direct Process invocations) that skip that step.
		rec = NewReceivedRecord(we)
		if err := p.events.Insert(ctx, rec); err != nil {
			return fmt.Errorf("processor: insert event record: %w", err)
		}
	}

	if instr == nil {
		// Recorded, but there's nothing to execute.
		return p.events.MarkProcessed(ctx, rec.ID, event.StatusProcessed, "")
	}

	instrText := instr.Command
	instrProvider := event.Provider(instr.Provider)
	responseType := event.ResponseInstruction
	if err := p.events.UpdateDetails(ctx, rec.ID, event.DetailsPatch{
		ResponseType:    &responseType,
		InstructionText: &instrText,
		AIProvider:      &instrProvider,
	}); err != nil {
		p.logger.Warn("failed to record instruction details", "event_id", rec.ID, "error", err)
	}

	unlockSession := p.sessionLocks.Lock(key)
	defer unlockSession()

	existing, _ := p.sessions.Peek(ctx, key)
	plan := planExecution(we, instr.Provider, existing)

	unlockWorkspace := p.workspaces.Lock(plan.WorkspaceID)
	defer unlockWorkspace()

	ws, err := p.workspaces.Prepare(ctx, workspace.PrepareOptions{
		WorkspaceID:    plan.WorkspaceID,
		ProjectID:      strconv.Itoa(we.ProjectID),
		ProjectName:    we.ProjectName,
		HTTPCloneURL:   we.HTTPCloneURL,
		AccessToken:    we.AccessToken,
		BaseBranch:     plan.BaseBranch,
		CheckoutBranch: plan.CheckoutBranch,
	})
	if err != nil {
		p.failEvent(ctx, rec, fmt.Sprintf("workspace preparation failed: %v", err))
		return err
	}

	threadNotes := p.fetchThreadContext(ctx, platform, we)
	mr, diffs := p.fetchMRContext(ctx, platform, we)
	prompt := buildPrompt(instr, we, threadNotes, mr, diffs)

	resumeID := ""
	isNewSession := true
	if ps, ok := p.sessions.GetProviderSession(ctx, key, instr.Provider); ok {
		resumeID = ps.SessionID
		isNewSession = false
	}

	target, postErr := p.postInitialComment(ctx, platform, we, initialMessage(instr))
	var commentID string
	if postErr != nil {
		p.logger.Warn("failed to post initial progress comment", "error", postErr)
	} else {
		commentID = target.busKey()
		p.recordProgressComment(ctx, we)
	}

	bus := p.busFactory(func(ctx context.Context, ev progressbus.Event) error {
		return p.updateComment(ctx, platform, target, ev.Message)
	})
	defer bus.Close()

	onProgress := func(msg string, final bool) {
		if commentID == "" {
			return
		}
		bus.Publish(ctx, progressbus.Event{CommentID: commentID, DiscussionID: we.DiscussionID, Message: "⏳ " + msg})
	}

	scenario := string(instr.Scenario)
	execResult, execErr := p.exec.Execute(ctx, instr.Provider, ws.Path, prompt, onProgress, executor.Options{
		SessionID:    resumeID,
		IsNewSession: isNewSession,
		Scenario:     scenario,
	})
	if execErr != nil {
		p.finalizeFailure(ctx, rec, commentID, bus, instr.Command, "execution error", execErr.Error())
		return execErr
	}
	if !execResult.Success {
		p.finalizeFailure(ctx, rec, commentID, bus, instr.Command, "AI execution failed", execResult.Error)
		return nil
	}

	pushMsg := truncate(fmt.Sprintf("chore(ai): %s", flattenSummary(instr.Command)), 72)
	pushResult, pushErr := p.workspaces.CommitAndPushChanges(ctx, ws, pushMsg)
	if pushErr != nil {
		p.finalizeFailure(ctx, rec, commentID, bus, instr.Command, "push failed", pushErr.Error())
		return pushErr
	}

	if !pushResult.Success && len(pushResult.Conflicts) > 0 {
		conflictPrompt := fmt.Sprintf(
			"The previous push hit merge conflicts in: %s. Resolve them in the working tree, leaving no conflict markers, then stop.",
			strings.Join(pushResult.Conflicts, ", "),
		)
		retryResult, retryErr := p.exec.Execute(ctx, instr.Provider, ws.Path, conflictPrompt, onProgress, executor.Options{
			SessionID:    execResult.SessionID,
			IsNewSession: false,
			Scenario:     scenario,
		})
		if retryErr != nil || retryResult == nil || !retryResult.Success {
			reason := "merge conflicts could not be resolved"
			detail := strings.Join(pushResult.Conflicts, "\n")
			if retryErr != nil {
				detail = retryErr.Error()
			} else if retryResult != nil {
				detail = retryResult.Error
			}
			p.finalizeFailure(ctx, rec, commentID, bus, instr.Command, reason, detail)
			return nil
		}
		execResult = retryResult
		pushResult, pushErr = p.workspaces.PushAfterConflictResolution(ctx, ws)
		if pushErr != nil {
			p.finalizeFailure(ctx, rec, commentID, bus, instr.Command, "push failed after conflict resolution", pushErr.Error())
			return pushErr
		}
	}
	if !pushResult.Success {
		p.finalizeFailure(ctx, rec, commentID, bus, instr.Command, "push failed", pushResult.Error)
		return nil
	}

	if plan.OpenMergeRequest {
		title := strings.TrimSpace(we.Title)
		if title == "" {
			title = flattenSummary(instr.Command)
		}
		if _, err := platform.CreateMergeRequest(ctx, we.ProjectID, plan.CheckoutBranch, plan.BaseBranch, title, mrDescription(instr)); err != nil {
			p.logger.Warn("failed to open merge request", "project_id", we.ProjectID, "error", err)
		}
	}

	if plan.CodeReview {
		p.runCodeReview(ctx, platform, we, ws.Path, instr.Provider)
	}

	if err := p.sessions.Set(ctx, key, execResult.SessionID, session.IssueInfo{
		BaseBranch:   plan.BaseBranch,
		BranchName:   plan.CheckoutBranch,
		DiscussionID: we.DiscussionID,
	}, instr.Provider); err != nil {
		p.logger.Warn("failed to persist session", "session_key", key, "error", err)
	}

	if commentID != "" {
		bus.Publish(ctx, progressbus.Event{
			CommentID:    commentID,
			DiscussionID: we.DiscussionID,
			Message:      renderSuccess(execResult.Output, execResult.Changes, nil),
			Final:        true,
		})
	}

	sourceBranch, targetBranch := plan.CheckoutBranch, plan.BaseBranch
	aiProvider := event.Provider(instr.Provider)
	_ = p.events.UpdateDetails(ctx, rec.ID, event.DetailsPatch{
		SourceBranch: &sourceBranch,
		TargetBranch: &targetBranch,
		AIProvider:   &aiProvider,
	})
	return p.events.MarkProcessed(ctx, rec.ID, event.StatusProcessed, "")
}

// finalizeFailure renders the failure template into the progress
// comment (if one was posted) and marks the event record errored.
func (p *Processor) finalizeFailure(ctx context.Context, rec *event.Record, commentID string, bus ProgressBus, instruction, reason, rawError string) {
	if commentID != "" {
		bus.Publish(ctx, progressbus.Event{
			CommentID: commentID,
			Message:   renderFailure(instruction, reason, rawError),
			Final:     true,
		})
	}
	p.failEvent(ctx, rec, reason+": "+rawError)
}

func (p *Processor) failEvent(ctx context.Context, rec *event.Record, message string) {
	if err := p.events.MarkProcessed(ctx, rec.ID, event.StatusError, message); err != nil {
		p.logger.Warn("failed to mark event errored", "event_id", rec.ID, "error", err)
	}
}

// recordProgressComment inserts a lightweight event row for the
// progress comment itself, so it can be excluded from usage statistics
// per §4.6's persistence rule. Best-effort: a failure here never aborts
// the execution it's describing.
func (p *Processor) recordProgressComment(ctx context.Context, we WebhookEvent) {
	rec := &event.Record{
		ProjectID:          strconv.Itoa(we.ProjectID),
		ProjectName:        we.ProjectName,
		EventKind:          we.Kind,
		ContextID:          strconv.Itoa(we.ThreadIID),
		Status:             event.StatusProcessed,
		ResponseType:       event.ResponseProgress,
		IsProgressResponse: true,
	}
	if err := p.events.Insert(ctx, rec); err != nil {
		p.logger.Warn("failed to record progress comment event", "error", err)
	}
}

// NewReceivedRecord builds the `received`-status record for we, with no
// instruction fields set yet. The webhook receiver calls this synchronously,
// before the background task runs, so the request id has a durable trace
// even if the process crashes before classification completes (§4.1's
// completion protocol).
func NewReceivedRecord(we WebhookEvent) *event.Record {
	rec := &event.Record{
		RequestID:      we.RequestID,
		ProjectID:      strconv.Itoa(we.ProjectID),
		ProjectName:    we.ProjectName,
		EventKind:      we.Kind,
		ContextID:      strconv.Itoa(we.ThreadIID),
		ContextTitle:   we.Title,
		Status:         event.StatusReceived,
		WebhookAction:  we.Action,
		AuthorUsername: we.AuthorUsername,
		SourceBranch:   we.SourceBranch,
		TargetBranch:   we.TargetBranch,
	}
	switch we.Kind {
	case event.KindIssue:
		rec.EventContext = event.ContextIssue
	case event.KindMergeRequest:
		rec.EventContext = event.ContextMergeRequest
	case event.KindNote:
		if we.NoteTarget == "merge_request" {
			rec.EventContext = event.ContextMergeRequestComment
		} else {
			rec.EventContext = event.ContextIssueComment
		}
	}
	return rec
}

func initialMessage(instr *classifier.Instruction) string {
	return fmt.Sprintf("🚀 Working on it with %s…", instr.Provider)
}

func mrDescription(instr *classifier.Instruction) string {
	return fmt.Sprintf("Automated change requested via %s:\n\n%s", instr.Provider, instr.Command)
}

// commentTarget identifies exactly which platform comment subsequent
// progress ticks must rewrite.
type commentTarget struct {
	isMergeRequest bool
	projectID      int
	threadIID      int
	discussionID   string
	noteID         int
}

func (t commentTarget) busKey() string {
	return fmt.Sprintf("%d:%t:%d:%s:%d", t.projectID, t.isMergeRequest, t.threadIID, t.discussionID, t.noteID)
}

func (p *Processor) postInitialComment(ctx context.Context, platform PlatformClient, we WebhookEvent, body string) (commentTarget, error) {
	isMR := we.Kind == event.KindMergeRequest || (we.Kind == event.KindNote && we.NoteTarget == "merge_request")

	if we.Kind == event.KindNote && we.DiscussionID != "" {
		threadKind := "issue"
		if isMR {
			threadKind = "merge_request"
		}
		note, err := platform.ReplyToDiscussion(ctx, we.ProjectID, threadKind, we.ThreadIID, we.DiscussionID, body)
		if err != nil {
			return commentTarget{}, err
		}
		return commentTarget{isMergeRequest: isMR, projectID: we.ProjectID, threadIID: we.ThreadIID, discussionID: we.DiscussionID, noteID: note.ID}, nil
	}

	if isMR {
		note, err := platform.CreateMergeRequestComment(ctx, we.ProjectID, we.ThreadIID, body)
		if err != nil {
			return commentTarget{}, err
		}
		return commentTarget{isMergeRequest: true, projectID: we.ProjectID, threadIID: we.ThreadIID, noteID: note.ID}, nil
	}

	note, err := platform.CreateIssueComment(ctx, we.ProjectID, we.ThreadIID, body)
	if err != nil {
		return commentTarget{}, err
	}
	return commentTarget{projectID: we.ProjectID, threadIID: we.ThreadIID, noteID: note.ID}, nil
}

func (p *Processor) updateComment(ctx context.Context, platform PlatformClient, target commentTarget, body string) error {
	if target.discussionID != "" {
		threadKind := "issue"
		if target.isMergeRequest {
			threadKind = "merge_request"
		}
		return platform.EditDiscussionNote(ctx, target.projectID, threadKind, target.threadIID, target.discussionID, target.noteID, body)
	}
	if target.isMergeRequest {
		return platform.UpdateMergeRequestComment(ctx, target.projectID, target.threadIID, target.noteID, body)
	}
	return platform.UpdateIssueComment(ctx, target.projectID, target.threadIID, target.noteID, body)
}

// runCodeReview runs a secondary, read-only AI pass over the MR's diff
// and posts its output as a plain top-level comment. Best-effort: a
// review failure never fails the triggering event (§4.6: code review is
// an additional action, not the primary outcome).
func (p *Processor) runCodeReview(ctx context.Context, platform PlatformClient, we WebhookEvent, workdir string, provider session.Provider) {
	diffs, err := platform.GetMergeRequestDiffs(ctx, we.ProjectID, we.ThreadIID)
	if err != nil {
		p.logger.Warn("code review: failed to fetch diffs", "error", err)
		return
	}
	if len(diffs) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("Review the following merge request diff for bugs, security issues, and style problems. Be concise.\n\n")
	for _, d := range diffs {
		fmt.Fprintf(&b, "## %s\n```diff\n%s\n```\n", diffLabel(d), truncate(d.Diff, 4000))
	}

	result, err := p.exec.Execute(ctx, provider, workdir, b.String(), nil, executor.Options{
		Scenario:     "code-review",
		IsNewSession: true,
	})
	if err != nil {
		p.logger.Warn("code review execution failed", "error", err)
		return
	}
	if !result.Success {
		p.logger.Warn("code review reported failure", "error", result.Error)
		return
	}

	body := fmt.Sprintf("### 🔍 Code Review\n\n%s", result.Output)
	if _, err := platform.CreateMergeRequestComment(ctx, we.ProjectID, we.ThreadIID, body); err != nil {
		p.logger.Warn("failed to post code review comment", "error", err)
	}
}
