package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mygudou/gitlab-copilot-sub001/internal/event"
	"github.com/mygudou/gitlab-copilot-sub001/internal/processor"
	"github.com/mygudou/gitlab-copilot-sub001/internal/tenant"
)

const testSecret = "s3cr3t"

// fakeStore is a hand-rolled tenant.Store.
type fakeStore struct {
	configsByToken map[string]*tenant.Config
	usersByToken   map[string]*tenant.User
	defaultConfigs map[string]*tenant.Config
	ioErr          error
}

func (s *fakeStore) FindConfigByToken(ctx context.Context, token string) (*tenant.Config, error) {
	if s.ioErr != nil {
		return nil, s.ioErr
	}
	return s.configsByToken[token], nil
}

func (s *fakeStore) FindUserByToken(ctx context.Context, token string) (*tenant.User, error) {
	if s.ioErr != nil {
		return nil, s.ioErr
	}
	return s.usersByToken[token], nil
}

func (s *fakeStore) FindDefaultConfig(ctx context.Context, userID string) (*tenant.Config, error) {
	if s.ioErr != nil {
		return nil, s.ioErr
	}
	return s.defaultConfigs[userID], nil
}

func (s *fakeStore) FindConfigsForUser(ctx context.Context, userID string) ([]tenant.Config, error) {
	return nil, nil
}

// plaintextSecrets is a Secrets implementation that does not transform
// values, so test fixtures can set webhook secrets directly.
type plaintextSecrets struct{}

func (plaintextSecrets) Decrypt(stored string) (string, error) { return stored, nil }

// recordingDispatcher is a hand-rolled Dispatcher recording every enqueued
// event instead of running a worker pool.
type recordingDispatcher struct {
	events []processor.WebhookEvent
	accept bool
}

func (d *recordingDispatcher) Enqueue(ctx context.Context, we processor.WebhookEvent) bool {
	d.events = append(d.events, we)
	return d.accept
}

func newTestServer(store *fakeStore, dispatcher *recordingDispatcher) *Server {
	resolver := tenant.NewResolver(store, plaintextSecrets{}, tenant.LegacyCredentials{})
	return NewServer(resolver, dispatcher, event.NewMemoryStore(), nil, nil)
}

const issuePayload = `{
  "object_kind": "issue",
  "project": {"id": 7, "path_with_namespace": "acme/widgets", "git_http_url": "https://gitlab.example.com/acme/widgets.git", "default_branch": "main"},
  "user": {"username": "alice"},
  "object_attributes": {"iid": 42, "title": "Fix it", "description": "@claude please fix", "action": "open"}
}`

func TestHandleWebhook_ValidSignatureDispatchesAndAcks(t *testing.T) {
	store := &fakeStore{
		configsByToken: map[string]*tenant.Config{
			"glconfig_abc": {ID: "cfg-1", UserID: "user-1", PlatformBaseURL: "https://gitlab.example.com", PlatformAccessToken: "tok", WebhookSecret: testSecret},
		},
	}
	dispatcher := &recordingDispatcher{accept: true}
	srv := newTestServer(store, dispatcher)

	body := []byte(issuePayload)
	sig := signPayload(body, testSecret)

	req := httptest.NewRequest(http.MethodPost, "/webhook/glconfig_abc", strings.NewReader(string(body)))
	req.Header.Set(hmacHeader, "sha256="+hexString(sig))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, dispatcher.events, 1)
	assert.Equal(t, 7, dispatcher.events[0].ProjectID)
	assert.Contains(t, dispatcher.events[0].Description, "@claude")
}

func TestHandleWebhook_MutatedSignatureRejected(t *testing.T) {
	store := &fakeStore{
		configsByToken: map[string]*tenant.Config{
			"glconfig_abc": {ID: "cfg-1", UserID: "user-1", WebhookSecret: testSecret},
		},
	}
	dispatcher := &recordingDispatcher{accept: true}
	srv := newTestServer(store, dispatcher)

	body := []byte(issuePayload)
	sig := signPayload(body, testSecret)
	sig[0] ^= 0xFF // mutate a single byte

	req := httptest.NewRequest(http.MethodPost, "/webhook/glconfig_abc", strings.NewReader(string(body)))
	req.Header.Set(hmacHeader, "sha256="+hexString(sig))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, dispatcher.events)
}

func TestHandleWebhook_MutatedBodyRejected(t *testing.T) {
	store := &fakeStore{
		configsByToken: map[string]*tenant.Config{
			"glconfig_abc": {ID: "cfg-1", UserID: "user-1", WebhookSecret: testSecret},
		},
	}
	dispatcher := &recordingDispatcher{accept: true}
	srv := newTestServer(store, dispatcher)

	body := []byte(issuePayload)
	sig := signPayload(body, testSecret)
	mutated := append([]byte(nil), body...)
	mutated[0] = '!'

	req := httptest.NewRequest(http.MethodPost, "/webhook/glconfig_abc", strings.NewReader(string(mutated)))
	req.Header.Set(hmacHeader, "sha256="+hexString(sig))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWebhook_MissingTokenNoLegacyFallbackIs400(t *testing.T) {
	store := &fakeStore{}
	dispatcher := &recordingDispatcher{accept: true}
	srv := newTestServer(store, dispatcher)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(issuePayload))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhook_UnresolvableTokenIs404(t *testing.T) {
	store := &fakeStore{}
	dispatcher := &recordingDispatcher{accept: true}
	srv := newTestServer(store, dispatcher)

	req := httptest.NewRequest(http.MethodPost, "/webhook/glconfig_missing", strings.NewReader(issuePayload))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleWebhook_StoreIOErrorIs503(t *testing.T) {
	store := &fakeStore{ioErr: errors.New("connection refused")}
	dispatcher := &recordingDispatcher{accept: true}
	srv := newTestServer(store, dispatcher)

	req := httptest.NewRequest(http.MethodPost, "/webhook/glconfig_abc", strings.NewReader(issuePayload))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleWebhook_UnsupportedEventKindStillAcks(t *testing.T) {
	store := &fakeStore{
		configsByToken: map[string]*tenant.Config{
			"glconfig_abc": {ID: "cfg-1", UserID: "user-1", WebhookSecret: testSecret},
		},
	}
	dispatcher := &recordingDispatcher{accept: true}
	srv := newTestServer(store, dispatcher)

	body := []byte(`{"object_kind": "push"}`)
	sig := signPayload(body, testSecret)

	req := httptest.NewRequest(http.MethodPost, "/webhook/glconfig_abc", strings.NewReader(string(body)))
	req.Header.Set(hmacHeader, "sha256="+hexString(sig))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, dispatcher.events)
}

func TestHandleHealth_ReportsSubsystems(t *testing.T) {
	health := NewHealthReporter()
	health.SetSessionsEnabled(true)
	health.ReportSubsystem("session_cleanup", SubsystemStatus{})

	srv := NewServer(tenant.NewResolver(&fakeStore{}, plaintextSecrets{}, tenant.LegacyCredentials{}), &recordingDispatcher{}, event.NewMemoryStore(), health, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "session_cleanup")
	assert.Contains(t, rec.Body.String(), "sessions_enabled")
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}
