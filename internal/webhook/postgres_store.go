package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDeliveryStore persists delivery records in PostgreSQL.
type PostgresDeliveryStore struct {
	db *pgxpool.Pool
}

// NewPostgresDeliveryStore builds a delivery store backed by PostgreSQL.
func NewPostgresDeliveryStore(db *pgxpool.Pool) *PostgresDeliveryStore {
	return &PostgresDeliveryStore{db: db}
}

// Insert writes a new delivery record.
func (s *PostgresDeliveryStore) Insert(ctx context.Context, d Delivery) error {
	_, err := s.db.Exec(ctx, `INSERT INTO webhook_deliveries
        (id, tenant_id, event_type, owner_id, payload, signature, dispatch_status, attempts, last_response_code, last_error, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.TenantID, d.EventType, d.OwnerID, d.Payload, d.Signature, d.DispatchStatus,
		d.Attempts, d.LastResponseCode, d.LastError, d.CreatedAt.UTC(), d.UpdatedAt.UTC())
	return err
}

const selectDelivery = `SELECT id, tenant_id, event_type, owner_id, payload, signature, dispatch_status, attempts, last_response_code, last_error, created_at, updated_at
    FROM webhook_deliveries`

// Get loads one delivery record.
func (s *PostgresDeliveryStore) Get(ctx context.Context, id string) (Delivery, error) {
	d, err := scanDelivery(s.db.QueryRow(ctx, selectDelivery+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, ErrDeliveryNotFound
		}
		return Delivery{}, err
	}
	return d, nil
}

// Update persists the outcome of a delivery attempt.
func (s *PostgresDeliveryStore) Update(ctx context.Context, d Delivery) error {
	_, err := s.db.Exec(ctx, `UPDATE webhook_deliveries
        SET dispatch_status = $1, attempts = $2, last_response_code = $3, last_error = $4, updated_at = $5
        WHERE id = $6`,
		d.DispatchStatus, d.Attempts, d.LastResponseCode, d.LastError, d.UpdatedAt.UTC(), d.ID)
	return err
}

// ListByStatus returns deliveries in a dispatch status, oldest first.
func (s *PostgresDeliveryStore) ListByStatus(ctx context.Context, status string, limit int) ([]Delivery, error) {
	rows, err := s.db.Query(ctx, selectDelivery+` WHERE dispatch_status = $1 ORDER BY created_at LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

// Stale returns retryable deliveries not updated since the cutoff.
func (s *PostgresDeliveryStore) Stale(ctx context.Context, maxAttempts int, updatedBefore time.Time) ([]Delivery, error) {
	rows, err := s.db.Query(ctx, selectDelivery+` WHERE dispatch_status IN ($1, $2) AND attempts < $3 AND updated_at <= $4 ORDER BY updated_at`,
		DispatchPending, DispatchFailed, maxAttempts, updatedBefore.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

func collectDeliveries(rows pgx.Rows) ([]Delivery, error) {
	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type deliveryScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row deliveryScanner) (Delivery, error) {
	var d Delivery
	var createdAt, updatedAt time.Time
	err := row.Scan(&d.ID, &d.TenantID, &d.EventType, &d.OwnerID, &d.Payload, &d.Signature,
		&d.DispatchStatus, &d.Attempts, &d.LastResponseCode, &d.LastError, &createdAt, &updatedAt)
	if err != nil {
		return Delivery{}, err
	}
	d.CreatedAt = createdAt.UTC()
	d.UpdatedAt = updatedAt.UTC()
	return d, nil
}

// PostgresEventStore persists inbound webhook events in PostgreSQL.
type PostgresEventStore struct {
	db *pgxpool.Pool
}

// NewPostgresEventStore builds an inbound event store backed by PostgreSQL.
func NewPostgresEventStore(db *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// Record inserts the event; the (provider, provider_event_id) unique index
// makes replays report false instead of duplicating the audit row.
func (s *PostgresEventStore) Record(ctx context.Context, e InboundEvent) (bool, error) {
	tag, err := s.db.Exec(ctx, `INSERT INTO webhook_events
        (provider, provider_event_id, event_type, payload, signature_valid, processed_at, processing_error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		e.Provider, e.ProviderEventID, e.EventType, e.Payload, e.SignatureValid, e.ProcessedAt, e.ProcessingError, e.CreatedAt.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkProcessed stamps the processing outcome on the event record.
func (s *PostgresEventStore) MarkProcessed(ctx context.Context, provider, providerEventID, processingError string) error {
	_, err := s.db.Exec(ctx, `UPDATE webhook_events SET processed_at = $1, processing_error = $2
        WHERE provider = $3 AND provider_event_id = $4`,
		time.Now().UTC(), processingError, provider, providerEventID)
	return err
}
