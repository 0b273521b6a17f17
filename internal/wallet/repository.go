package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no wallet exists for the requested key.
var ErrNotFound = errors.New("wallet not found")

// Repository resolves wallet records. It is strictly read-only: wallet rows
// are created and mutated exclusively by the ledger store.
type Repository interface {
	Get(ctx context.Context, id string) (Wallet, error)
	GetByOwner(ctx context.Context, ownerID string) (Wallet, error)
	GetByVirtualAccount(ctx context.Context, account string) (Wallet, error)
}

// PostgresRepository reads wallets from PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectWallet = `SELECT id, owner_id, tenant_id, virtual_account, currency, balance, cleared_balance, locked_balance, status, created_at FROM wallets`

// Get fetches a wallet by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	return scanWallet(r.db.QueryRow(ctx, selectWallet+` WHERE id = $1`, walletID))
}

// GetByOwner fetches the wallet belonging to an account holder.
func (r *PostgresRepository) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	return scanWallet(r.db.QueryRow(ctx, selectWallet+` WHERE owner_id = $1`, owner))
}

// GetByVirtualAccount resolves a wallet from the provider virtual account
// number carried on inbound deposit webhooks.
func (r *PostgresRepository) GetByVirtualAccount(ctx context.Context, account string) (Wallet, error) {
	return scanWallet(r.db.QueryRow(ctx, selectWallet+` WHERE virtual_account = $1`, account))
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	var id, owner uuid.UUID
	var createdAt time.Time
	if err := row.Scan(&id, &owner, &w.TenantID, &w.VirtualAccount, &w.Currency, &w.Balance, &w.ClearedBalance, &w.LockedBalance, &w.Status, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	w.ID = id.String()
	w.OwnerID = owner.String()
	w.CreatedAt = createdAt.UTC()
	return w, nil
}
