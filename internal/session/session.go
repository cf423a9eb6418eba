// Package session implements thread session continuity across AI
// providers: keyed by "projectId:threadIid[:discussionId]", tracking which
// provider session ids are attached to a thread so follow-up events resume
// the right conversation.
package session

import (
	"context"
	"sync"
	"time"
)

// Provider identifies which AI CLI a ProviderSession belongs to.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCodex  Provider = "codex"
)

// ProviderSession is one provider's slot in a thread session.
type ProviderSession struct {
	SessionID string
	LastUsed  time.Time
}

// IssueInfo carries the git/platform state a session remembers across
// follow-up events on the same thread.
type IssueInfo struct {
	BaseBranch      string
	BranchName      string
	MergeRequestURL string
	MergeRequestIID string
	DiscussionID    string
}

// Session is a thread's accumulated AI state. Invariants (spec.md §3):
// at least one ProviderSessions entry exists; LastProvider equals the
// provider whose entry has the most recent LastUsed; a session is expired
// when now - LastUsed > maxIdleTime.
type Session struct {
	Key              string
	CreatedAt        time.Time
	LastUsed         time.Time
	LastProvider     Provider
	ProviderSessions map[Provider]ProviderSession
	IssueInfo        IssueInfo
}

// Expired reports whether the session has been idle longer than maxIdle.
func (s Session) Expired(maxIdle time.Duration, now time.Time) bool {
	return now.Sub(s.LastUsed) > maxIdle
}

// Stats summarizes store occupancy for /health and for cleanup logging.
type Stats struct {
	Total       int
	MaxSessions int
}

// Store is the persistence contract spec.md §6 names for the session
// store: get, peek, set, getProviderSession, remove, cleanExpired, stats,
// clearAll.
type Store interface {
	// Get returns the session for key, touching LastUsed on the way out
	// (an access counts as usage). Returns (nil, false) if absent. Expiry is
	// not checked here: an idle session is returned until CleanExpired
	// removes it.
	Get(ctx context.Context, key string) (*Session, bool)
	// Peek is like Get but does not update LastUsed — used for read-only
	// inspection (e.g. deciding whether a note-without-trigger should
	// implicitly continue a session).
	Peek(ctx context.Context, key string) (*Session, bool)
	// Set records a session id for key under provider, creating the
	// session if absent, and updates LastProvider/LastUsed.
	Set(ctx context.Context, key string, sessionID string, info IssueInfo, provider Provider) error
	GetProviderSession(ctx context.Context, key string, provider Provider) (*ProviderSession, bool)
	// Remove deletes the whole session, or just one provider's slot when
	// provider is non-empty.
	Remove(ctx context.Context, key string, provider Provider) error
	CleanExpired(ctx context.Context, maxIdle time.Duration) (expired int, remaining int, err error)
	Stats(ctx context.Context) Stats
	ClearAll(ctx context.Context) error
}

// MemoryStore is the default in-process Store: a concurrent map plus a
// single lock, matching protocol.SessionManager's active-session map
// guarded by sync.RWMutex.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
}

func NewMemoryStore(maxSessions int) *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	sess.LastUsed = time.Now()
	cp := *sess
	cp.ProviderSessions = cloneProviderSessions(sess.ProviderSessions)
	return &cp, true
}

func (s *MemoryStore) Peek(ctx context.Context, key string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	cp := *sess
	cp.ProviderSessions = cloneProviderSessions(sess.ProviderSessions)
	return &cp, true
}

func (s *MemoryStore) Set(ctx context.Context, key string, sessionID string, info IssueInfo, provider Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	sess, ok := s.sessions[key]
	if !ok {
		sess = &Session{
			Key:              key,
			CreatedAt:        now,
			ProviderSessions: make(map[Provider]ProviderSession),
		}
		s.sessions[key] = sess
	}
	sess.ProviderSessions[provider] = ProviderSession{SessionID: sessionID, LastUsed: now}
	sess.LastProvider = provider
	sess.LastUsed = now
	sess.IssueInfo = info
	return nil
}

func (s *MemoryStore) GetProviderSession(ctx context.Context, key string, provider Provider) (*ProviderSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	ps, ok := sess.ProviderSessions[provider]
	if !ok {
		return nil, false
	}
	return &ps, true
}

func (s *MemoryStore) Remove(ctx context.Context, key string, provider Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if provider == "" {
		delete(s.sessions, key)
		return nil
	}
	sess, ok := s.sessions[key]
	if !ok {
		return nil
	}
	delete(sess.ProviderSessions, provider)
	if len(sess.ProviderSessions) == 0 {
		delete(s.sessions, key)
		return nil
	}
	sess.LastProvider = mostRecentProvider(sess.ProviderSessions)
	return nil
}

func (s *MemoryStore) CleanExpired(ctx context.Context, maxIdle time.Duration) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	expired := 0
	for key, sess := range s.sessions {
		if sess.Expired(maxIdle, now) {
			delete(s.sessions, key)
			expired++
		}
	}
	return expired, len(s.sessions), nil
}

func (s *MemoryStore) Stats(ctx context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Total: len(s.sessions), MaxSessions: s.maxSessions}
}

func (s *MemoryStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*Session)
	return nil
}

func cloneProviderSessions(in map[Provider]ProviderSession) map[Provider]ProviderSession {
	out := make(map[Provider]ProviderSession, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func mostRecentProvider(sessions map[Provider]ProviderSession) Provider {
	var best Provider
	var bestTime time.Time
	for p, ps := range sessions {
		if ps.LastUsed.After(bestTime) {
			bestTime = ps.LastUsed
			best = p
		}
	}
	return best
}
