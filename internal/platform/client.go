// Package platform is a thin REST client over the source-control
// platform's API: comments, discussions, merge requests, branches, and
// diffs (§6's platform API client contract list).
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mygudou/gitlab-copilot-sub001/internal/tenantctx"
)

// Note is one comment/discussion-note, GitLab-shaped.
type Note struct {
	ID         int       `json:"id"`
	Body       string    `json:"body"`
	AuthorName string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	System     bool      `json:"system"`
	Resolvable bool      `json:"resolvable"`
	Resolved   bool      `json:"resolved"`
}

type noteAuthor struct {
	Username string `json:"username"`
}

type noteWire struct {
	Note
	Author noteAuthor `json:"author"`
}

// Discussion is a thread of notes, the first of which is the
// discussion-opening note.
type Discussion struct {
	ID    string `json:"id"`
	Notes []Note `json:"notes"`
}

// MergeRequest is the subset of GitLab's MR resource the processor needs.
type MergeRequest struct {
	IID          int    `json:"iid"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	State        string `json:"state"`
	WebURL       string `json:"web_url"`
}

// Branch is a repository branch.
type Branch struct {
	Name      string `json:"name"`
	Protected bool   `json:"protected"`
}

// Diff is one file's change in a merge request.
type Diff struct {
	OldPath     string `json:"old_path"`
	NewPath     string `json:"new_path"`
	Diff        string `json:"diff"`
	NewFile     bool   `json:"new_file"`
	RenamedFile bool   `json:"renamed_file"`
	DeletedFile bool   `json:"deleted_file"`
}

// Position locates an inline comment within a merge request's diff.
type Position struct {
	BaseSHA      string `json:"base_sha"`
	HeadSHA      string `json:"head_sha"`
	StartSHA     string `json:"start_sha"`
	OldPath      string `json:"old_path"`
	NewPath      string `json:"new_path"`
	PositionType string `json:"position_type"`
	OldLine      *int   `json:"old_line,omitempty"`
	NewLine      *int   `json:"new_line,omitempty"`
}

// Client is a credentialed handle to one tenant's platform API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
}

func NewClient(baseURL, accessToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
	}
}

// FromTenant builds a Client bound to the tenant context's resolved
// credentials, the same way git operations bind the authenticated clone
// URL from tenantctx.Tenant.
func FromTenant(t tenantctx.Tenant, httpClient *http.Client) *Client {
	return NewClient(t.PlatformBaseURL, t.PlatformAccessToken, httpClient)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("platform: marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("platform: create request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("platform: %s %s returned HTTP %d: %s", method, path, resp.StatusCode, string(payload))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("platform: decode response for %s %s: %w", method, path, err)
	}
	return nil
}

func issuesBase(projectID int) string {
	return fmt.Sprintf("/api/v4/projects/%d/issues", projectID)
}

func mergeRequestsBase(projectID int) string {
	return fmt.Sprintf("/api/v4/projects/%d/merge_requests", projectID)
}

func decodeNote(w noteWire) Note {
	n := w.Note
	n.AuthorName = w.Author.Username
	return n
}

// CreateIssueComment posts a new top-level note on an issue.
func (c *Client) CreateIssueComment(ctx context.Context, projectID, issueIID int, body string) (*Note, error) {
	var wire noteWire
	path := fmt.Sprintf("%s/%d/notes", issuesBase(projectID), issueIID)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, &wire); err != nil {
		return nil, err
	}
	n := decodeNote(wire)
	return &n, nil
}

// UpdateIssueComment rewrites an existing issue note's body.
func (c *Client) UpdateIssueComment(ctx context.Context, projectID, issueIID, noteID int, body string) error {
	path := fmt.Sprintf("%s/%d/notes/%d", issuesBase(projectID), issueIID, noteID)
	return c.do(ctx, http.MethodPut, path, map[string]string{"body": body}, nil)
}

// CreateMergeRequestComment posts a new top-level note on a merge request.
func (c *Client) CreateMergeRequestComment(ctx context.Context, projectID, mrIID int, body string) (*Note, error) {
	var wire noteWire
	path := fmt.Sprintf("%s/%d/notes", mergeRequestsBase(projectID), mrIID)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, &wire); err != nil {
		return nil, err
	}
	n := decodeNote(wire)
	return &n, nil
}

// UpdateMergeRequestComment rewrites an existing MR note's body.
func (c *Client) UpdateMergeRequestComment(ctx context.Context, projectID, mrIID, noteID int, body string) error {
	path := fmt.Sprintf("%s/%d/notes/%d", mergeRequestsBase(projectID), mrIID, noteID)
	return c.do(ctx, http.MethodPut, path, map[string]string{"body": body}, nil)
}

// threadBase resolves the issues-vs-merge_requests path segment.
func threadBase(projectID int, threadKind string, threadIID int) string {
	base := issuesBase(projectID)
	if threadKind == "merge_request" {
		base = mergeRequestsBase(projectID)
	}
	return fmt.Sprintf("%s/%d", base, threadIID)
}

// ReplyToDiscussion posts a new note into an existing discussion thread.
func (c *Client) ReplyToDiscussion(ctx context.Context, projectID int, threadKind string, threadIID int, discussionID, body string) (*Note, error) {
	var wire noteWire
	path := fmt.Sprintf("%s/discussions/%s/notes", threadBase(projectID, threadKind, threadIID), discussionID)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, &wire); err != nil {
		return nil, err
	}
	n := decodeNote(wire)
	return &n, nil
}

// EditDiscussionNote rewrites one note within a discussion thread.
func (c *Client) EditDiscussionNote(ctx context.Context, projectID int, threadKind string, threadIID int, discussionID string, noteID int, body string) error {
	path := fmt.Sprintf("%s/discussions/%s/notes/%d", threadBase(projectID, threadKind, threadIID), discussionID, noteID)
	return c.do(ctx, http.MethodPut, path, map[string]string{"body": body}, nil)
}

// ResolveDiscussion marks a merge-request discussion thread resolved.
func (c *Client) ResolveDiscussion(ctx context.Context, projectID, mrIID int, discussionID string) error {
	path := fmt.Sprintf("%s/%d/discussions/%s", mergeRequestsBase(projectID), mrIID, discussionID)
	return c.do(ctx, http.MethodPut, path, map[string]bool{"resolved": true}, nil)
}

// EditIssue updates an issue's title and/or description. Nil fields are
// left unchanged.
func (c *Client) EditIssue(ctx context.Context, projectID, issueIID int, title, description *string) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("%s/%d", issuesBase(projectID), issueIID), editFields(title, description), nil)
}

// EditMergeRequest updates an MR's title and/or description.
func (c *Client) EditMergeRequest(ctx context.Context, projectID, mrIID int, title, description *string) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("%s/%d", mergeRequestsBase(projectID), mrIID), editFields(title, description), nil)
}

func editFields(title, description *string) map[string]string {
	fields := map[string]string{}
	if title != nil {
		fields["title"] = *title
	}
	if description != nil {
		fields["description"] = *description
	}
	return fields
}

// ListBranches returns every branch in the repository.
func (c *Client) ListBranches(ctx context.Context, projectID int) ([]Branch, error) {
	var branches []Branch
	path := fmt.Sprintf("/api/v4/projects/%d/repository/branches", projectID)
	if err := c.do(ctx, http.MethodGet, path, nil, &branches); err != nil {
		return nil, err
	}
	return branches, nil
}

// CreateBranch creates a new branch from ref.
func (c *Client) CreateBranch(ctx context.Context, projectID int, branch, ref string) (*Branch, error) {
	path := fmt.Sprintf("/api/v4/projects/%d/repository/branches?branch=%s&ref=%s",
		projectID, url.QueryEscape(branch), url.QueryEscape(ref))
	var b Branch
	if err := c.do(ctx, http.MethodPost, path, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListDiscussions fetches a thread's full discussion list, used to build
// "thread context" (§4.6: prior notes older than the triggering one,
// newest-first, author + timestamp + body).
func (c *Client) ListDiscussions(ctx context.Context, projectID int, threadKind string, threadIID int) ([]Discussion, error) {
	var wire []struct {
		ID    string     `json:"id"`
		Notes []noteWire `json:"notes"`
	}
	path := fmt.Sprintf("%s/discussions", threadBase(projectID, threadKind, threadIID))
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	discussions := make([]Discussion, len(wire))
	for i, d := range wire {
		discussions[i].ID = d.ID
		for _, n := range d.Notes {
			discussions[i].Notes = append(discussions[i].Notes, decodeNote(n))
		}
	}
	return discussions, nil
}

// GetMergeRequest fetches one merge request by iid.
func (c *Client) GetMergeRequest(ctx context.Context, projectID, mrIID int) (*MergeRequest, error) {
	var mr MergeRequest
	path := fmt.Sprintf("%s/%d", mergeRequestsBase(projectID), mrIID)
	if err := c.do(ctx, http.MethodGet, path, nil, &mr); err != nil {
		return nil, err
	}
	return &mr, nil
}

// CreateMergeRequest opens a new MR from sourceBranch to targetBranch.
// Not in §6's literal contract list but required to implement §4.6's
// "open a new MR" action, so it lives alongside the rest of the client
// rather than as a one-off helper elsewhere.
func (c *Client) CreateMergeRequest(ctx context.Context, projectID int, sourceBranch, targetBranch, title, description string) (*MergeRequest, error) {
	body := map[string]string{
		"source_branch": sourceBranch,
		"target_branch": targetBranch,
		"title":         title,
		"description":   description,
	}
	var mr MergeRequest
	if err := c.do(ctx, http.MethodPost, mergeRequestsBase(projectID), body, &mr); err != nil {
		return nil, err
	}
	return &mr, nil
}

// GetMergeRequestDiffs returns the MR's current file diffs.
func (c *Client) GetMergeRequestDiffs(ctx context.Context, projectID, mrIID int) ([]Diff, error) {
	var diffs []Diff
	path := fmt.Sprintf("%s/%d/diffs", mergeRequestsBase(projectID), mrIID)
	if err := c.do(ctx, http.MethodGet, path, nil, &diffs); err != nil {
		return nil, err
	}
	return diffs, nil
}

// CreateInlineComment posts a positioned comment on a merge-request diff.
func (c *Client) CreateInlineComment(ctx context.Context, projectID, mrIID int, body string, pos Position) (*Note, error) {
	payload := map[string]any{
		"body":     body,
		"position": pos,
	}
	var wire noteWire
	path := fmt.Sprintf("%s/%d/discussions", mergeRequestsBase(projectID), mrIID)
	if err := c.do(ctx, http.MethodPost, path, payload, &wire); err != nil {
		return nil, err
	}
	n := decodeNote(wire)
	return &n, nil
}

