package tenant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository reads tenant settings from PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get fetches tenant settings by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Tenant, error) {
	var t Tenant
	var createdAt time.Time
	err := r.db.QueryRow(ctx, `SELECT id, name, callback_url, webhook_secret, ops_key_hash, active, created_at
        FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.CallbackURL, &t.WebhookSecret, &t.OpsKeyHash, &t.Active, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	t.CreatedAt = createdAt.UTC()
	return t, nil
}

type memoryRepository struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

// NewMemoryRepository constructs an in-memory repository for tests, seeded
// with the provided tenants.
func NewMemoryRepository(tenants ...Tenant) Repository {
	m := &memoryRepository{tenants: make(map[string]Tenant)}
	for _, t := range tenants {
		m.tenants[t.ID] = t
	}
	return m
}

func (r *memoryRepository) Get(_ context.Context, id string) (Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}
