package processor

import (
	"context"

	"github.com/mygudou/gitlab-copilot-sub001/internal/platform"
)

// PlatformClient is the narrow subset of platform.Client the processor
// calls, so tests substitute a fake instead of an httptest.Server.
type PlatformClient interface {
	CreateIssueComment(ctx context.Context, projectID, issueIID int, body string) (*platform.Note, error)
	UpdateIssueComment(ctx context.Context, projectID, issueIID, noteID int, body string) error
	CreateMergeRequestComment(ctx context.Context, projectID, mrIID int, body string) (*platform.Note, error)
	UpdateMergeRequestComment(ctx context.Context, projectID, mrIID, noteID int, body string) error
	ReplyToDiscussion(ctx context.Context, projectID int, threadKind string, threadIID int, discussionID, body string) (*platform.Note, error)
	EditDiscussionNote(ctx context.Context, projectID int, threadKind string, threadIID int, discussionID string, noteID int, body string) error
	ListDiscussions(ctx context.Context, projectID int, threadKind string, threadIID int) ([]platform.Discussion, error)
	GetMergeRequest(ctx context.Context, projectID, mrIID int) (*platform.MergeRequest, error)
	CreateMergeRequest(ctx context.Context, projectID int, sourceBranch, targetBranch, title, description string) (*platform.MergeRequest, error)
	GetMergeRequestDiffs(ctx context.Context, projectID, mrIID int) ([]platform.Diff, error)
}
