package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists settlement batches in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a batch store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get loads a batch by settlement id.
func (s *PostgresStore) Get(ctx context.Context, settlementID string) (Batch, bool, error) {
	var b Batch
	var completedAt *time.Time
	var createdAt time.Time
	err := s.db.QueryRow(ctx, `SELECT settlement_id, source_box, amount, status, cleared_refs, created_at, completed_at
        FROM settlement_batches WHERE settlement_id = $1`, settlementID).
		Scan(&b.SettlementID, &b.SourceBox, &b.Amount, &b.Status, &b.ClearedRefs, &createdAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, false, nil
		}
		return Batch{}, false, err
	}
	b.CreatedAt = createdAt.UTC()
	b.CompletedAt = completedAt
	return b, true, nil
}

// Insert writes a new batch. ON CONFLICT DO NOTHING closes the window where
// two deliveries of the same settlement race: exactly one insert wins.
func (s *PostgresStore) Insert(ctx context.Context, b Batch) (bool, error) {
	refs := b.ClearedRefs
	if refs == nil {
		refs = []string{}
	}
	tag, err := s.db.Exec(ctx, `INSERT INTO settlement_batches (settlement_id, source_box, amount, status, cleared_refs, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (settlement_id) DO NOTHING`,
		b.SettlementID, b.SourceBox, b.Amount, b.Status, refs, b.CreatedAt.UTC(), b.CompletedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Complete marks a clearing batch completed with the refs it promoted.
func (s *PostgresStore) Complete(ctx context.Context, settlementID string, refs []string, at time.Time) error {
	if refs == nil {
		refs = []string{}
	}
	_, err := s.db.Exec(ctx, `UPDATE settlement_batches SET status = $1, cleared_refs = $2, completed_at = $3
        WHERE settlement_id = $4`, StatusCompleted, refs, at.UTC(), settlementID)
	return err
}
