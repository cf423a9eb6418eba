package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_CreatesSessionWithOneProviderEntry(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "42:7", "s1", IssueInfo{BranchName: "claude-1"}, ProviderClaude))

	sess, ok := s.Peek(ctx, "42:7")
	require.True(t, ok)
	assert.Len(t, sess.ProviderSessions, 1)
	assert.Equal(t, ProviderClaude, sess.LastProvider)
	assert.Equal(t, "s1", sess.ProviderSessions[ProviderClaude].SessionID)
}

func TestSet_SwitchingProviderUpdatesLastProvider(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "42:7", "s1", IssueInfo{}, ProviderClaude))
	time.Sleep(time.Millisecond)
	require.NoError(t, s.Set(ctx, "42:7", "c1", IssueInfo{}, ProviderCodex))

	sess, ok := s.Peek(ctx, "42:7")
	require.True(t, ok)
	assert.Equal(t, ProviderCodex, sess.LastProvider)
	assert.Len(t, sess.ProviderSessions, 2, "both provider entries are retained")
}

func TestGet_TouchesLastUsed(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "42:7", "s1", IssueInfo{}, ProviderClaude))

	sess, _ := s.Peek(ctx, "42:7")
	before := sess.LastUsed

	time.Sleep(2 * time.Millisecond)
	_, ok := s.Get(ctx, "42:7")
	require.True(t, ok)

	after, _ := s.Peek(ctx, "42:7")
	assert.True(t, after.LastUsed.After(before))
}

func TestCleanExpired_RemovesOnlyIdleSessions(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "stale", "s1", IssueInfo{}, ProviderClaude))
	require.NoError(t, s.Set(ctx, "fresh", "s2", IssueInfo{}, ProviderClaude))

	// Force the "stale" session's LastUsed far enough in the past.
	s.mu.Lock()
	s.sessions["stale"].LastUsed = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	expired, remaining, err := s.CleanExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, 1, remaining)

	_, ok := s.Peek(ctx, "stale")
	assert.False(t, ok)
	_, ok = s.Peek(ctx, "fresh")
	assert.True(t, ok)
}

func TestCleanExpired_Idempotent(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "stale", "s1", IssueInfo{}, ProviderClaude))
	s.mu.Lock()
	s.sessions["stale"].LastUsed = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	expired1, _, _ := s.CleanExpired(ctx, time.Hour)
	expired2, _, _ := s.CleanExpired(ctx, time.Hour)

	assert.Equal(t, 1, expired1)
	assert.Equal(t, 0, expired2)
}

func TestRemove_SingleProviderKeepsSessionIfOthersRemain(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "42:7", "s1", IssueInfo{}, ProviderClaude))
	require.NoError(t, s.Set(ctx, "42:7", "c1", IssueInfo{}, ProviderCodex))

	require.NoError(t, s.Remove(ctx, "42:7", ProviderCodex))

	sess, ok := s.Peek(ctx, "42:7")
	require.True(t, ok)
	assert.Len(t, sess.ProviderSessions, 1)
	assert.Equal(t, ProviderClaude, sess.LastProvider)
}

func TestRemove_LastProviderRemovesWholeSession(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "42:7", "s1", IssueInfo{}, ProviderClaude))

	require.NoError(t, s.Remove(ctx, "42:7", ProviderClaude))

	_, ok := s.Peek(ctx, "42:7")
	assert.False(t, ok)
}
