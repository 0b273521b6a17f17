package webhook

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryDeliveryStore is an in-memory delivery store for tests.
type MemoryDeliveryStore struct {
	mu         sync.Mutex
	deliveries map[string]Delivery
}

// NewMemoryDeliveryStore constructs an empty in-memory delivery store.
func NewMemoryDeliveryStore() *MemoryDeliveryStore {
	return &MemoryDeliveryStore{deliveries: make(map[string]Delivery)}
}

// Insert implements DeliveryStore.
func (s *MemoryDeliveryStore) Insert(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = d
	return nil
}

// Get implements DeliveryStore.
func (s *MemoryDeliveryStore) Get(_ context.Context, id string) (Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return Delivery{}, ErrDeliveryNotFound
	}
	return d, nil
}

// Update implements DeliveryStore.
func (s *MemoryDeliveryStore) Update(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; !ok {
		return ErrDeliveryNotFound
	}
	s.deliveries[d.ID] = d
	return nil
}

// ListByStatus implements DeliveryStore.
func (s *MemoryDeliveryStore) ListByStatus(_ context.Context, status string, limit int) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Delivery
	for _, d := range s.deliveries {
		if d.DispatchStatus == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stale implements DeliveryStore.
func (s *MemoryDeliveryStore) Stale(_ context.Context, maxAttempts int, updatedBefore time.Time) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Delivery
	for _, d := range s.deliveries {
		if d.DispatchStatus == DispatchSuccess {
			continue
		}
		if d.Attempts >= maxAttempts || d.UpdatedAt.After(updatedBefore) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// MemoryEventStore is an in-memory inbound event store for tests.
type MemoryEventStore struct {
	mu     sync.Mutex
	events map[string]InboundEvent
}

// NewMemoryEventStore constructs an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string]InboundEvent)}
}

// Record implements EventStore.
func (s *MemoryEventStore) Record(_ context.Context, e InboundEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := e.Provider + ":" + e.ProviderEventID
	if _, exists := s.events[key]; exists {
		return false, nil
	}
	s.events[key] = e
	return true, nil
}

// MarkProcessed implements EventStore.
func (s *MemoryEventStore) MarkProcessed(_ context.Context, provider, providerEventID, processingError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := provider + ":" + providerEventID
	e, ok := s.events[key]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	e.ProcessedAt = &now
	e.ProcessingError = processingError
	s.events[key] = e
	return nil
}

// Event returns the stored record for assertions in tests.
func (s *MemoryEventStore) Event(provider, providerEventID string) (InboundEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[provider+":"+providerEventID]
	return e, ok
}
