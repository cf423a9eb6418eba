package workspacemeta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsert_PreservesCreatedAt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := &Record{WorkspaceID: "ws-1", Path: "/tmp/ws-1"}
	require.NoError(t, s.Upsert(ctx, first))
	createdAt := first.CreatedAt

	time.Sleep(time.Millisecond)
	second := &Record{WorkspaceID: "ws-1", Path: "/tmp/ws-1", LastUsed: time.Now()}
	require.NoError(t, s.Upsert(ctx, second))

	got, err := s.Get(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, createdAt, got.CreatedAt)
}

func TestFindUnusedSince(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.Upsert(ctx, &Record{WorkspaceID: "old", LastUsed: now.Add(-2 * time.Hour)}))
	require.NoError(t, s.Upsert(ctx, &Record{WorkspaceID: "fresh", LastUsed: now.Add(-5 * time.Minute)}))

	unused, err := s.FindUnusedSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, unused, 1)
	assert.Equal(t, "old", unused[0].WorkspaceID)
}

func TestRemove(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, &Record{WorkspaceID: "ws-2"}))
	require.NoError(t, s.Remove(ctx, "ws-2"))

	got, err := s.Get(ctx, "ws-2")
	require.NoError(t, err)
	assert.Nil(t, got)
}
