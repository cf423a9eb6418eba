package processor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mygudou/gitlab-copilot-sub001/internal/classifier"
	"github.com/mygudou/gitlab-copilot-sub001/internal/event"
	"github.com/mygudou/gitlab-copilot-sub001/internal/session"
)

// executionPlan is the decision table's output for one classified event:
// which branches to work on, and which side effects follow a successful
// push.
type executionPlan struct {
	SessionKey       string
	WorkspaceID      string
	BaseBranch       string
	CheckoutBranch   string
	NewBranch        bool
	OpenMergeRequest bool
	CodeReview       bool
}

// sessionKeyFor builds the "<projectId>:<threadIid>[:<discussionId>]"
// key spec.md §4.2 names.
func sessionKeyFor(we WebhookEvent) string {
	return classifier.SessionKey(strconv.Itoa(we.ProjectID), strconv.Itoa(we.ThreadIID), we.DiscussionID)
}

// contentSourceText picks the text the classifier scans, per §4.2's
// content-source table. A merge_request event only offers its
// description for classification when the action is open or reopen;
// update events are recorded but must never reach the executor (S5).
func contentSourceText(we WebhookEvent) string {
	switch we.Kind {
	case event.KindIssue:
		return we.Description
	case event.KindMergeRequest:
		if we.Action != "open" && we.Action != "reopen" {
			return ""
		}
		return we.Description
	case event.KindNote:
		return we.NoteBody
	default:
		return ""
	}
}

// planExecution implements §4.6's decision table for events that
// produced a usable instruction.
func planExecution(we WebhookEvent, provider session.Provider, existing *session.Session) executionPlan {
	key := sessionKeyFor(we)

	switch we.Kind {
	case event.KindIssue:
		branch := newBranchName(provider)
		return executionPlan{
			SessionKey:       key,
			WorkspaceID:      workspaceIDFor(we.ProjectID, branch),
			BaseBranch:       we.DefaultBranch,
			CheckoutBranch:   branch,
			NewBranch:        true,
			OpenMergeRequest: true,
		}

	case event.KindMergeRequest:
		review := we.Action == "open" || we.Action == "reopen"
		return executionPlan{
			SessionKey:     key,
			WorkspaceID:    workspaceIDFor(we.ProjectID, we.SourceBranch),
			BaseBranch:     we.TargetBranch,
			CheckoutBranch: we.SourceBranch,
			CodeReview:     review,
		}

	case event.KindNote:
		if we.NoteTarget == "merge_request" {
			return executionPlan{
				SessionKey:     key,
				WorkspaceID:    workspaceIDFor(we.ProjectID, we.SourceBranch),
				BaseBranch:     we.TargetBranch,
				CheckoutBranch: we.SourceBranch,
			}
		}
		// note on issue: continue the session's branch when one exists,
		// otherwise this is the thread's first trigger and behaves like
		// issue/open.
		if existing != nil && existing.IssueInfo.BranchName != "" {
			return executionPlan{
				SessionKey:     key,
				WorkspaceID:    workspaceIDFor(we.ProjectID, existing.IssueInfo.BranchName),
				BaseBranch:     existing.IssueInfo.BaseBranch,
				CheckoutBranch: existing.IssueInfo.BranchName,
			}
		}
		branch := newBranchName(provider)
		return executionPlan{
			SessionKey:       key,
			WorkspaceID:      workspaceIDFor(we.ProjectID, branch),
			BaseBranch:       we.DefaultBranch,
			CheckoutBranch:   branch,
			NewBranch:        true,
			OpenMergeRequest: true,
		}
	}

	return executionPlan{SessionKey: key}
}

// newBranchName builds the "<provider>-<timestamp>-<rand>" branch name
// spec.md §4.6 names for a freshly created session.
func newBranchName(provider session.Provider) string {
	return fmt.Sprintf("%s-%d-%s", provider, nowUnix(), shortRand())
}

func shortRand() string {
	id := uuid.NewString()
	return strings.ReplaceAll(id[:8], "-", "")
}

func workspaceIDFor(projectID int, branch string) string {
	return fmt.Sprintf("%d-%s", projectID, branch)
}
