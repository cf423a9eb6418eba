package platform

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, method, path string, status int, respBody any) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, method, r.Method)
		assert.Equal(t, path, r.URL.Path)
		assert.Equal(t, "tok-123", r.Header.Get("PRIVATE-TOKEN"))
		w.WriteHeader(status)
		if respBody != nil {
			require.NoError(t, json.NewEncoder(w).Encode(respBody))
		}
	}))
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "tok-123", nil)
	return srv, client
}

func TestCreateIssueComment(t *testing.T) {
	_, client := newTestServer(t, http.MethodPost, "/api/v4/projects/7/issues/3/notes", http.StatusCreated,
		map[string]any{"id": 55, "body": "hi", "author": map[string]string{"username": "bot"}})

	note, err := client.CreateIssueComment(t.Context(), 7, 3, "hi")

	require.NoError(t, err)
	assert.Equal(t, 55, note.ID)
	assert.Equal(t, "hi", note.Body)
	assert.Equal(t, "bot", note.AuthorName)
}

func TestUpdateMergeRequestComment(t *testing.T) {
	_, client := newTestServer(t, http.MethodPut, "/api/v4/projects/7/merge_requests/3/notes/99", http.StatusOK, nil)

	err := client.UpdateMergeRequestComment(t.Context(), 7, 3, 99, "edited")

	require.NoError(t, err)
}

func TestReplyToDiscussion_Issue(t *testing.T) {
	_, client := newTestServer(t, http.MethodPost, "/api/v4/projects/7/issues/3/discussions/abc/notes", http.StatusCreated,
		map[string]any{"id": 1, "body": "reply"})

	note, err := client.ReplyToDiscussion(t.Context(), 7, "issue", 3, "abc", "reply")

	require.NoError(t, err)
	assert.Equal(t, "reply", note.Body)
}

func TestReplyToDiscussion_MergeRequest(t *testing.T) {
	_, client := newTestServer(t, http.MethodPost, "/api/v4/projects/7/merge_requests/3/discussions/abc/notes", http.StatusCreated,
		map[string]any{"id": 1, "body": "reply"})

	_, err := client.ReplyToDiscussion(t.Context(), 7, "merge_request", 3, "abc", "reply")

	require.NoError(t, err)
}

func TestResolveDiscussion(t *testing.T) {
	_, client := newTestServer(t, http.MethodPut, "/api/v4/projects/7/merge_requests/3/discussions/abc", http.StatusOK, nil)

	err := client.ResolveDiscussion(t.Context(), 7, 3, "abc")

	require.NoError(t, err)
}

func TestEditIssue_OnlyTitleSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"title": "new title"}, body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	client := NewClient(srv.URL, "tok-123", nil)

	title := "new title"
	err := client.EditIssue(t.Context(), 7, 3, &title, nil)

	require.NoError(t, err)
}

func TestListBranches(t *testing.T) {
	_, client := newTestServer(t, http.MethodGet, "/api/v4/projects/7/repository/branches", http.StatusOK,
		[]Branch{{Name: "main", Protected: true}, {Name: "feature/x"}})

	branches, err := client.ListBranches(t.Context(), 7)

	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, "main", branches[0].Name)
	assert.True(t, branches[0].Protected)
}

func TestCreateBranch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v4/projects/7/repository/branches", r.URL.Path)
		assert.Equal(t, "feature/y", r.URL.Query().Get("branch"))
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		require.NoError(t, json.NewEncoder(w).Encode(Branch{Name: "feature/y"}))
	}))
	defer srv.Close()
	client := NewClient(srv.URL, "tok-123", nil)

	branch, err := client.CreateBranch(t.Context(), 7, "feature/y", "main")

	require.NoError(t, err)
	assert.Equal(t, "feature/y", branch.Name)
}

func TestGetMergeRequest(t *testing.T) {
	_, client := newTestServer(t, http.MethodGet, "/api/v4/projects/7/merge_requests/3", http.StatusOK,
		MergeRequest{IID: 3, Title: "fix stuff", State: "opened"})

	mr, err := client.GetMergeRequest(t.Context(), 7, 3)

	require.NoError(t, err)
	assert.Equal(t, "fix stuff", mr.Title)
	assert.Equal(t, "opened", mr.State)
}

func TestCreateMergeRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v4/projects/7/merge_requests", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ai/fix-3", body["source_branch"])
		assert.Equal(t, "main", body["target_branch"])
		require.NoError(t, json.NewEncoder(w).Encode(MergeRequest{IID: 9, SourceBranch: "ai/fix-3", TargetBranch: "main"}))
	}))
	defer srv.Close()
	client := NewClient(srv.URL, "tok-123", nil)

	mr, err := client.CreateMergeRequest(t.Context(), 7, "ai/fix-3", "main", "Fix issue 3", "automated fix")

	require.NoError(t, err)
	assert.Equal(t, 9, mr.IID)
}

func TestGetMergeRequestDiffs(t *testing.T) {
	_, client := newTestServer(t, http.MethodGet, "/api/v4/projects/7/merge_requests/3/diffs", http.StatusOK,
		[]Diff{{OldPath: "a.go", NewPath: "a.go", Diff: "@@ -1 +1 @@"}})

	diffs, err := client.GetMergeRequestDiffs(t.Context(), 7, 3)

	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "a.go", diffs[0].NewPath)
}

func TestCreateInlineComment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/7/merge_requests/3/discussions", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "line comment", body["body"])
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"id": 5, "body": "line comment"}))
	}))
	defer srv.Close()
	client := NewClient(srv.URL, "tok-123", nil)

	newLine := 42
	note, err := client.CreateInlineComment(t.Context(), 7, 3, "line comment", Position{
		BaseSHA: "b", HeadSHA: "h", StartSHA: "s", OldPath: "a.go", NewPath: "a.go", PositionType: "text", NewLine: &newLine,
	})

	require.NoError(t, err)
	assert.Equal(t, "line comment", note.Body)
}

func TestListDiscussions(t *testing.T) {
	_, client := newTestServer(t, http.MethodGet, "/api/v4/projects/7/issues/3/discussions", http.StatusOK,
		[]Discussion{{ID: "d1", Notes: []Note{{ID: 1, Body: "first"}}}})

	discussions, err := client.ListDiscussions(t.Context(), 7, "issue", 3)

	require.NoError(t, err)
	require.Len(t, discussions, 1)
	assert.Equal(t, "first", discussions[0].Notes[0].Body)
}

func TestDo_NonSuccessStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid token"}`))
	}))
	defer srv.Close()
	client := NewClient(srv.URL, "bad-token", nil)

	_, err := client.GetMergeRequest(t.Context(), 7, 3)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "invalid token")
}
