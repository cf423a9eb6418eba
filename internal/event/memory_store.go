package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store, used by tests and by components that
// do not require durability across restarts.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Insert(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusReceived
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) MarkProcessed(ctx context.Context, id string, status Status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("event: record %s not found", id)
	}
	now := time.Now().UTC()
	elapsed := now.Sub(rec.ReceivedAt).Milliseconds()
	rec.Status = status
	rec.ProcessedAt = &now
	rec.ExecutionTimeMs = &elapsed
	rec.ErrorMessage = errorMessage
	return nil
}

func (s *MemoryStore) UpdateDetails(ctx context.Context, id string, patch DetailsPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("event: record %s not found", id)
	}
	if patch.SourceBranch != nil {
		rec.SourceBranch = *patch.SourceBranch
	}
	if patch.TargetBranch != nil {
		rec.TargetBranch = *patch.TargetBranch
	}
	if patch.ResponseType != nil {
		rec.ResponseType = *patch.ResponseType
	}
	if patch.InstructionText != nil {
		rec.InstructionText = *patch.InstructionText
	}
	if patch.AIProvider != nil {
		rec.AIProvider = *patch.AIProvider
	}
	return nil
}

// Get returns a copy of the record, for test assertions.
func (s *MemoryStore) Get(id string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// FindByRequestID returns the record matching requestID, or (nil, nil) if
// none was inserted yet.
func (s *MemoryStore) FindByRequestID(ctx context.Context, requestID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requestID == "" {
		return nil, nil
	}
	for _, rec := range s.records {
		if rec.RequestID == requestID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

// All returns a copy of every stored record, for test assertions.
func (s *MemoryStore) All() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}
