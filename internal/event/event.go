// Package event implements the append-only record of inbound webhook events
// and their terminal status, the "events" collection spec.md §6 names.
package event

import (
	"context"
	"time"
)

type Kind string

const (
	KindIssue         Kind = "issue"
	KindMergeRequest  Kind = "merge_request"
	KindNote          Kind = "note"
)

type Context string

const (
	ContextIssue               Context = "issue"
	ContextIssueComment        Context = "issue_comment"
	ContextMergeRequest        Context = "merge_request"
	ContextMergeRequestComment Context = "merge_request_comment"
)

type Status string

const (
	StatusReceived  Status = "received"
	StatusProcessed Status = "processed"
	StatusError     Status = "error"
)

type ResponseType string

const (
	ResponseInstruction ResponseType = "instruction"
	ResponseProgress    ResponseType = "progress"
	ResponseFinal       ResponseType = "final"
	ResponseError       ResponseType = "error"
)

// Provider identifies which AI CLI handled (or will handle) the event.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCodex  Provider = "codex"
)

// Record is one row of the event store: receivedAt is always set;
// processedAt is set iff Status != StatusReceived; ExecutionTimeMs =
// ProcessedAt - ReceivedAt when both are present. Progress-response rows
// (IsProgressResponse) are excluded from usage statistics by default.
type Record struct {
	ID                string
	RequestID         string
	TenantID          string
	ConfigID          string
	ProjectID         string
	ProjectName       string
	EventKind         Kind
	EventContext      Context
	ContextID         string
	ContextTitle      string
	InstructionText   string
	AIProvider        Provider
	Status            Status
	Payload           map[string]any
	ReceivedAt        time.Time
	ProcessedAt       *time.Time
	ExecutionTimeMs   *int64
	ResponseType      ResponseType
	IsProgressResponse bool
	SourceBranch      string
	TargetBranch      string
	WebhookAction     string
	AuthorUsername    string
	ErrorMessage      string
}

// DetailsPatch carries the subset of fields updateDetails may change after
// the initial insert — everything discovered during or after execution.
type DetailsPatch struct {
	SourceBranch    *string
	TargetBranch    *string
	ResponseType    *ResponseType
	InstructionText *string
	AIProvider      *Provider
}

// Store is the persistence contract spec.md §6 names for the event store.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	MarkProcessed(ctx context.Context, id string, status Status, errorMessage string) error
	UpdateDetails(ctx context.Context, id string, patch DetailsPatch) error
	// FindByRequestID looks up the `received` record the webhook handler
	// wrote synchronously, so the background task can rewrite its status
	// instead of inserting a second row for the same request. Returns
	// (nil, nil) when no such record exists.
	FindByRequestID(ctx context.Context, requestID string) (*Record, error)
}
