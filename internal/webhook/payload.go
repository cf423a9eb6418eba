package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/mygudou/gitlab-copilot-sub001/internal/event"
	"github.com/mygudou/gitlab-copilot-sub001/internal/processor"
)

// rawPayload is the GitLab-shaped webhook body (System Hooks / Project
// Hooks), trimmed to the fields the processor's decision table reads
// (§4.6, §6). GitLab sends one of three object_kind values this receiver
// understands: "issue", "merge_request", "note".
type rawPayload struct {
	ObjectKind string `json:"object_kind"`
	Project    struct {
		ID            int    `json:"id"`
		Name          string `json:"path_with_namespace"`
		GitHTTPURL    string `json:"git_http_url"`
		DefaultBranch string `json:"default_branch"`
	} `json:"project"`
	User struct {
		Username string `json:"username"`
	} `json:"user"`
	ObjectAttributes struct {
		ID           int    `json:"id"`
		IID          int    `json:"iid"`
		Title        string `json:"title"`
		Description  string `json:"description"`
		Note         string `json:"note"`
		Action       string `json:"action"`
		SourceBranch string `json:"source_branch"`
		TargetBranch string `json:"target_branch"`
		NoteableType string `json:"noteable_type"`
		DiscussionID string `json:"discussion_id"`
	} `json:"object_attributes"`
	MergeRequest *struct {
		IID          int    `json:"iid"`
		SourceBranch string `json:"source_branch"`
		TargetBranch string `json:"target_branch"`
	} `json:"merge_request"`
	Issue *struct {
		IID int `json:"iid"`
	} `json:"issue"`
}

// ErrUnsupportedEvent is returned for a well-formed payload whose
// object_kind the receiver has no handling for (e.g. "push", "pipeline").
var ErrUnsupportedEvent = fmt.Errorf("webhook: unsupported object_kind")

// parseEvent decodes body into a processor.WebhookEvent, picking the
// right noteable (issue vs merge request) for note events per §4.2's
// content-source table.
func parseEvent(requestID string, body []byte, accessToken string) (processor.WebhookEvent, error) {
	var raw rawPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return processor.WebhookEvent{}, fmt.Errorf("webhook: decode payload: %w", err)
	}

	we := processor.WebhookEvent{
		RequestID:      requestID,
		ProjectID:      raw.Project.ID,
		ProjectName:    raw.Project.Name,
		HTTPCloneURL:   raw.Project.GitHTTPURL,
		AccessToken:    accessToken,
		DefaultBranch:  raw.Project.DefaultBranch,
		AuthorUsername: raw.User.Username,
		Action:         raw.ObjectAttributes.Action,
	}

	switch raw.ObjectKind {
	case "issue":
		we.Kind = event.KindIssue
		we.ThreadIID = raw.ObjectAttributes.IID
		we.Title = raw.ObjectAttributes.Title
		we.Description = raw.ObjectAttributes.Description

	case "merge_request":
		we.Kind = event.KindMergeRequest
		we.ThreadIID = raw.ObjectAttributes.IID
		we.Title = raw.ObjectAttributes.Title
		we.Description = raw.ObjectAttributes.Description
		we.SourceBranch = raw.ObjectAttributes.SourceBranch
		we.TargetBranch = raw.ObjectAttributes.TargetBranch

	case "note":
		we.Kind = event.KindNote
		we.NoteID = raw.ObjectAttributes.ID
		we.NoteBody = raw.ObjectAttributes.Note
		we.DiscussionID = raw.ObjectAttributes.DiscussionID
		switch raw.ObjectAttributes.NoteableType {
		case "MergeRequest":
			we.NoteTarget = "merge_request"
			if raw.MergeRequest != nil {
				we.ThreadIID = raw.MergeRequest.IID
				we.SourceBranch = raw.MergeRequest.SourceBranch
				we.TargetBranch = raw.MergeRequest.TargetBranch
			}
		case "Issue":
			we.NoteTarget = "issue"
			if raw.Issue != nil {
				we.ThreadIID = raw.Issue.IID
			}
		default:
			return processor.WebhookEvent{}, fmt.Errorf("%w: note on %q", ErrUnsupportedEvent, raw.ObjectAttributes.NoteableType)
		}

	default:
		return processor.WebhookEvent{}, fmt.Errorf("%w: %q", ErrUnsupportedEvent, raw.ObjectKind)
	}

	return we, nil
}
