package settlement

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.Mutex
	batches map[string]Batch
}

// NewMemoryStore constructs an in-memory batch store for tests.
func NewMemoryStore() Store {
	return &memoryStore{batches: make(map[string]Batch)}
}

func (s *memoryStore) Get(_ context.Context, settlementID string) (Batch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[settlementID]
	return b, ok, nil
}

func (s *memoryStore) Insert(_ context.Context, b Batch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[b.SettlementID]; exists {
		return false, nil
	}
	s.batches[b.SettlementID] = b
	return true, nil
}

func (s *memoryStore) Complete(_ context.Context, settlementID string, refs []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[settlementID]
	b.Status = StatusCompleted
	b.ClearedRefs = refs
	b.CompletedAt = &at
	s.batches[settlementID] = b
	return nil
}
