package webhook

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDeliveryNotFound indicates no delivery record matches the id.
	ErrDeliveryNotFound = errors.New("delivery not found")
)

const (
	// DispatchPending marks a delivery waiting for its first attempt.
	DispatchPending = "pending"
	// DispatchSuccess marks a delivery acknowledged with a 2xx.
	DispatchSuccess = "success"
	// DispatchFailed marks a delivery whose last attempt failed. Failed
	// deliveries stay retryable; records are never deleted.
	DispatchFailed = "failed"
)

// Delivery is the audit record for one outbound tenant notification. The
// dispatcher is its only writer.
type Delivery struct {
	ID               string
	TenantID         string
	EventType        string
	OwnerID          string
	Payload          string
	Signature        string
	DispatchStatus   string
	Attempts         int
	LastResponseCode int
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DeliveryStore persists outbound delivery records.
type DeliveryStore interface {
	Insert(ctx context.Context, d Delivery) error
	Get(ctx context.Context, id string) (Delivery, error)
	Update(ctx context.Context, d Delivery) error
	// ListByStatus returns deliveries in a dispatch status, oldest first.
	ListByStatus(ctx context.Context, status string, limit int) ([]Delivery, error)
	// Stale returns retryable deliveries (pending or failed, under the
	// attempt cap) not updated since the cutoff. Used by the redelivery sweep.
	Stale(ctx context.Context, maxAttempts int, updatedBefore time.Time) ([]Delivery, error)
}

// InboundEvent is the audit record for one received provider webhook. Every
// delivery is recorded, including ones the system ignores or rejects, with
// the signature verdict preserved.
type InboundEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         string
	SignatureValid  bool
	ProcessedAt     *time.Time
	ProcessingError string
	CreatedAt       time.Time
}

// EventStore persists inbound webhook events keyed by (provider, event id).
type EventStore interface {
	// Record inserts the event, reporting false when the same provider event
	// was already recorded.
	Record(ctx context.Context, e InboundEvent) (bool, error)
	// MarkProcessed stamps the processing outcome; empty processingError
	// means success.
	MarkProcessed(ctx context.Context, provider, providerEventID, processingError string) error
}
