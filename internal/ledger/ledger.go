package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/sable-pay/sable_pay/internal/wallet"
)

var (
	// ErrWalletNotFound occurs when no wallet exists for the owner.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInsufficientFunds occurs when the available balance (cleared minus
	// locked) cannot cover a requested debit or lock.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidUnlock occurs when an unlock exceeds the locked balance.
	ErrInvalidUnlock = errors.New("unlock exceeds locked balance")

	// ErrWalletRetired occurs when a posting targets a retired wallet.
	// Retired wallets keep their history and still release locked funds.
	ErrWalletRetired = errors.New("wallet is retired")

	// ErrDuplicateTransaction indicates the provided external reference was
	// already recorded. The original entry is returned alongside, so callers
	// treat this as an idempotent no-op rather than a failure.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrEntryNotFound occurs when no ledger entry matches the reference.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrStatusConflict occurs when a pending entry is pushed toward a
	// terminal state that conflicts with the one it already reached.
	ErrStatusConflict = errors.New("conflicting status transition")
)

const (
	// TypeCredit marks an entry that increases the wallet balance.
	TypeCredit = "credit"
	// TypeDebit marks an entry that decreases the wallet balance.
	TypeDebit = "debit"

	// StatusPending marks an entry awaiting an external outcome.
	StatusPending = "pending"
	// StatusSuccess marks a committed entry. Amount and balance snapshots are
	// immutable from this point; only the cleared flag may still transition.
	StatusSuccess = "success"
	// StatusFailed marks an entry whose external operation failed.
	StatusFailed = "failed"

	// CategoryDeposit identifies provider deposits into a virtual account.
	CategoryDeposit = "deposit"
	// CategoryTransfer identifies wallet-to-wallet movements.
	CategoryTransfer = "transfer"
	// CategoryPayout identifies outbound bank transfers.
	CategoryPayout = "payout"
	// CategorySettlement identifies settlement-cycle adjustments.
	CategorySettlement = "settlement"
)

// Entry is the immutable audit record written for every balance mutation.
type Entry struct {
	ID            string
	WalletID      string
	OwnerID       string
	Type          string
	Category      string
	Amount        int64
	Fee           int64
	BalanceBefore int64
	BalanceAfter  int64
	Reference     string
	ExternalRef   string
	Status        string
	IsCleared     bool
	ClearedAt     *time.Time
	SourceBox     string
	Narration     string
	Metadata      map[string]string
	CreatedAt     time.Time
}

// CreateWalletInput captures data required to provision a wallet.
type CreateWalletInput struct {
	OwnerID        string
	TenantID       string
	VirtualAccount string
	Currency       string
}

// CreditInput captures a credit posting request.
type CreditInput struct {
	OwnerID     string
	Amount      int64
	Fee         int64
	Category    string
	Narration   string
	ExternalRef string
	SourceBox   string
	IsCleared   bool
	Metadata    map[string]string
}

// DebitInput captures a debit posting request. The wallet is charged
// Amount + Fee against its available balance.
type DebitInput struct {
	OwnerID     string
	Amount      int64
	Fee         int64
	Category    string
	Narration   string
	ExternalRef string
	Metadata    map[string]string
}

// PendingInput reserves a ledger reference before an external call is made.
// No balances are touched until the entry is resolved via UpdateStatus.
type PendingInput struct {
	OwnerID     string
	Type        string
	Amount      int64
	Fee         int64
	Category    string
	Narration   string
	ExternalRef string
	Metadata    map[string]string
}

// BalanceView is the read model returned to callers of Balance.
type BalanceView struct {
	OwnerID        string `json:"owner_id"`
	Currency       string `json:"currency"`
	Balance        int64  `json:"balance"`
	ClearedBalance int64  `json:"cleared_balance"`
	LockedBalance  int64  `json:"locked_balance"`
	Available      int64  `json:"available_balance"`
	Pending        int64  `json:"pending_balance"`
}

// ClearedDeposit reports one deposit entry promoted by a settlement run.
type ClearedDeposit struct {
	Reference string
	OwnerID   string
	Amount    int64
}

// Ledger is the only component permitted to mutate wallet balances. Every
// mutation is atomic with its audit entry; concurrent postings against one
// wallet serialize at the storage layer.
type Ledger interface {
	// CreateWallet provisions the single wallet for an account holder.
	CreateWallet(ctx context.Context, input CreateWalletInput) (wallet.Wallet, error)

	// RetireWallet closes the owner's wallet to new postings. History and
	// balance reads survive; UnlockFunds still works so in-flight payouts
	// can release their reservations.
	RetireWallet(ctx context.Context, ownerID string) error

	// Credit posts funds into the owner's wallet. A repeated ExternalRef
	// returns the stored entry with ErrDuplicateTransaction.
	Credit(ctx context.Context, input CreditInput) (Entry, error)

	// Debit charges Amount + Fee against the available balance.
	Debit(ctx context.Context, input DebitInput) (Entry, error)

	// LockFunds reserves part of the cleared balance against an in-flight
	// withdrawal. Locks are reservations, not movements: no entry is written.
	LockFunds(ctx context.Context, ownerID string, amount int64) error

	// UnlockFunds releases a previous reservation.
	UnlockFunds(ctx context.Context, ownerID string, amount int64) error

	// CreatePending writes a pending entry without touching balances.
	CreatePending(ctx context.Context, input PendingInput) (Entry, error)

	// UpdateStatus transitions a pending entry to success or failed. Updating
	// an entry already in the target state is a no-op, tolerating duplicate
	// provider callbacks.
	UpdateStatus(ctx context.Context, reference, status string, metadata map[string]string) (Entry, error)

	// Balance returns the balance read model for the owner.
	Balance(ctx context.Context, ownerID string) (BalanceView, error)

	// ClearDeposits promotes all uncleared successful deposit entries (scoped
	// to sourceBox when non-empty) and bumps each owner's cleared balance, all
	// inside one transaction. Invoked only by the settlement clearer.
	ClearDeposits(ctx context.Context, sourceBox string, now time.Time) ([]ClearedDeposit, error)

	// FindByReference loads one entry by its system reference.
	FindByReference(ctx context.Context, reference string) (Entry, error)

	// EntriesByOwner lists an owner's entries, newest first. An owner without
	// a wallet yields ErrWalletNotFound, not an empty list.
	EntriesByOwner(ctx context.Context, ownerID string, limit int) ([]Entry, error)

	// PendingEntries lists pending entries of a category created before the
	// cutoff. Used by the reconciliation sweep.
	PendingEntries(ctx context.Context, category string, olderThan time.Time) ([]Entry, error)
}
