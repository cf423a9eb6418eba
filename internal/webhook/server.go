// Package webhook implements the inbound HTTP surface §4.1 and §6
// describe: a gorilla/mux receiver that verifies a webhook's signature,
// resolves its tenant, parses the platform JSON body, and hands the
// result to a background dispatcher before acking with 200.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mygudou/gitlab-copilot-sub001/internal/event"
	"github.com/mygudou/gitlab-copilot-sub001/internal/processor"
	"github.com/mygudou/gitlab-copilot-sub001/internal/tenant"
	"github.com/mygudou/gitlab-copilot-sub001/internal/tenantctx"
)

const (
	tokenHeader  = "X-Webhook-Token"
	secretHeader = "X-Webhook-Secret"
	hmacHeader   = "X-Webhook-Signature"
	requestIDHdr = "X-Request-ID"

	maxBodyBytes = 5 << 20 // 5MiB; GitLab payloads are small JSON documents
)

// Dispatcher is the narrow surface Server needs to hand off a parsed
// event for background processing.
type Dispatcher interface {
	Enqueue(ctx context.Context, we processor.WebhookEvent) bool
}

// Server is the webhook receiver's HTTP surface.
type Server struct {
	resolver   *tenant.Resolver
	dispatcher Dispatcher
	events     event.Store
	health     *HealthReporter
	logger     *slog.Logger
	startedAt  time.Time
}

// NewServer wires a resolver, dispatcher and event store into a
// router-ready Server. events is used to write the synchronous `received`
// record §4.1's completion protocol requires, before the background task
// ever runs.
func NewServer(resolver *tenant.Resolver, dispatcher Dispatcher, events event.Store, health *HealthReporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if health == nil {
		health = NewHealthReporter()
	}
	return &Server{
		resolver:   resolver,
		dispatcher: dispatcher,
		events:     events,
		health:     health,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Router builds the mux.Router exposing /webhook/{token}? and /health.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	})

	r.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhook/{token}", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	return r
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(requestIDHdr)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unable to read request body")
		return
	}
	if len(body) > maxBodyBytes {
		s.writeError(w, http.StatusBadRequest, "request body too large")
		return
	}

	token := tokenCandidate(r)

	resolved, err := s.resolver.Resolve(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrNotFound):
			if token == "" {
				s.writeError(w, http.StatusBadRequest, "missing tenant token")
			} else {
				s.writeError(w, http.StatusNotFound, "unknown tenant token")
			}
		default:
			s.logger.Error("tenant lookup failed", "request_id", requestID, "error", err)
			s.writeError(w, http.StatusServiceUnavailable, "tenant lookup unavailable")
		}
		return
	}

	if !verifySignature(body, resolved.WebhookSecret, r.Header.Get(secretHeader), r.Header.Get(hmacHeader)) {
		s.writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	we, err := parseEvent(requestID, body, resolved.PlatformAccessToken)
	if err != nil {
		if errors.Is(err, ErrUnsupportedEvent) {
			// Unsupported but well-formed payloads ack 200 with no work
			// queued, the same way GitLab's other event kinds (push,
			// pipeline, …) are simply never subscribed to.
			s.logger.Debug("ignoring unsupported webhook event", "request_id", requestID, "error", err)
			s.writeAck(w)
			return
		}
		s.writeError(w, http.StatusBadRequest, "malformed webhook payload")
		return
	}

	rec := processor.NewReceivedRecord(we)
	if err := s.events.Insert(r.Context(), rec); err != nil {
		// The record is best-effort at this point: an insert failure here
		// must never hold back the 200 ack (§4.1's backpressure model), but
		// it does mean the background task will fall back to inserting its
		// own record instead of finding this one.
		s.logger.Warn("failed to record received event", "request_id", requestID, "error", err)
	}

	bgCtx := tenantctx.WithTenant(context.Background(), tenantctx.Tenant{
		TenantID:            resolved.TenantID,
		OpaqueToken:         resolved.OpaqueToken,
		ConfigID:            resolved.ConfigID,
		DisplayName:         resolved.DisplayName,
		PlatformBaseURL:     resolved.PlatformBaseURL,
		PlatformAccessToken: resolved.PlatformAccessToken,
		WebhookSecret:       resolved.WebhookSecret,
		AIExecutor:          resolved.AIExecutor,
	})

	if !s.dispatcher.Enqueue(bgCtx, we) {
		s.logger.Warn("dispatch queue rejected event", "request_id", requestID)
	}

	s.writeAck(w)
}

// tokenCandidate picks the first non-empty of: path segment, dedicated
// header, query string, per §4.1 step 1.
func tokenCandidate(r *http.Request) string {
	if t := mux.Vars(r)["token"]; t != "" {
		return t
	}
	if t := r.Header.Get(tokenHeader); t != "" {
		return t
	}
	return r.URL.Query().Get("token")
}

func (s *Server) writeAck(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Webhook received"})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ListenAndServe starts the HTTP server on addr, blocking until it exits.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("webhook receiver listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}
