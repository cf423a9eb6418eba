// Package workspacemeta persists the last-used timestamp and identity of
// every on-disk workspace directory, the "workspaces" collection spec.md §6
// names.
package workspacemeta

import (
	"context"
	"time"
)

// Record mirrors spec.md §3's Workspace record: path exists on disk while
// the record exists; workspaceId matches [A-Za-z0-9._/-]+ after
// sanitization.
type Record struct {
	WorkspaceID   string
	ProjectID     string
	ProjectName   string
	BaseBranch    string
	CheckoutBranch string
	Path          string
	CreatedAt     time.Time
	LastUsed      time.Time
	UpdatedAt     time.Time
}

// Store is the persistence contract spec.md §6 names for the workspace
// metadata store.
type Store interface {
	Upsert(ctx context.Context, rec *Record) error
	Get(ctx context.Context, workspaceID string) (*Record, error)
	Remove(ctx context.Context, workspaceID string) error
	FindUnusedSince(ctx context.Context, cutoff time.Time) ([]Record, error)
}
