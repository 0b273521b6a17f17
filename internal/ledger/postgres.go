package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sable-pay/sable_pay/internal/wallet"
)

// PostgresLedger persists wallets and ledger entries in PostgreSQL. The wallet
// row is the unit of mutual exclusion: every posting locks it with
// SELECT ... FOR UPDATE so concurrent postings against one wallet serialize.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

type walletRow struct {
	id             uuid.UUID
	ownerID        uuid.UUID
	currency       string
	balance        int64
	clearedBalance int64
	lockedBalance  int64
	status         string
}

// CreateWallet provisions the single wallet for an account holder.
func (l *PostgresLedger) CreateWallet(ctx context.Context, input CreateWalletInput) (wallet.Wallet, error) {
	owner, err := uuid.Parse(input.OwnerID)
	if err != nil {
		return wallet.Wallet{}, fmt.Errorf("parse owner id: %w", err)
	}
	currency := input.Currency
	if currency == "" {
		currency = "NGN"
	}

	w := wallet.Wallet{
		ID:             uuid.NewString(),
		OwnerID:        input.OwnerID,
		TenantID:       input.TenantID,
		VirtualAccount: input.VirtualAccount,
		Currency:       currency,
		Status:         wallet.StatusActive,
		CreatedAt:      time.Now().UTC(),
	}
	_, err = l.db.Exec(ctx, `INSERT INTO wallets (id, owner_id, tenant_id, virtual_account, currency, balance, cleared_balance, locked_balance, status, created_at)
        VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $6, $7)
        ON CONFLICT (owner_id) DO NOTHING`,
		uuid.MustParse(w.ID), owner, w.TenantID, w.VirtualAccount, w.Currency, w.Status, w.CreatedAt)
	if err != nil {
		return wallet.Wallet{}, err
	}
	return w, nil
}

// RetireWallet closes the owner's wallet to new postings.
func (l *PostgresLedger) RetireWallet(ctx context.Context, ownerID string) error {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return ErrWalletNotFound
	}
	tag, err := l.db.Exec(ctx, `UPDATE wallets SET status = $1 WHERE owner_id = $2`, wallet.StatusRetired, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Credit posts funds into the owner's wallet atomically with its audit entry.
func (l *PostgresLedger) Credit(ctx context.Context, input CreditInput) (Entry, error) {
	if input.Amount < 0 || input.Fee < 0 {
		return Entry{}, fmt.Errorf("amount and fee must be non-negative")
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if entry, found, err := findByExternalRef(ctx, tx, input.ExternalRef); err != nil {
		return Entry{}, err
	} else if found {
		return entry, ErrDuplicateTransaction
	}

	w, err := lockWallet(ctx, tx, input.OwnerID)
	if err != nil {
		return Entry{}, err
	}
	if w.status == wallet.StatusRetired {
		return Entry{}, ErrWalletRetired
	}

	before := w.balance
	after := before + input.Amount
	cleared := w.clearedBalance
	if input.IsCleared {
		cleared += input.Amount
	}

	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = $1, cleared_balance = $2 WHERE id = $3`, after, cleared, w.id); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		ID:            uuid.NewString(),
		WalletID:      w.id.String(),
		OwnerID:       input.OwnerID,
		Type:          TypeCredit,
		Category:      input.Category,
		Amount:        input.Amount,
		Fee:           input.Fee,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     uuid.NewString(),
		ExternalRef:   input.ExternalRef,
		Status:        StatusSuccess,
		IsCleared:     input.IsCleared,
		SourceBox:     input.SourceBox,
		Narration:     input.Narration,
		Metadata:      input.Metadata,
		CreatedAt:     time.Now().UTC(),
	}
	if input.IsCleared {
		now := entry.CreatedAt
		entry.ClearedAt = &now
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		if isExternalRefConflict(err) {
			return l.replayExternalRef(ctx, tx, input.ExternalRef)
		}
		return Entry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Debit charges Amount + Fee against the available balance.
func (l *PostgresLedger) Debit(ctx context.Context, input DebitInput) (Entry, error) {
	if input.Amount < 0 || input.Fee < 0 {
		return Entry{}, fmt.Errorf("amount and fee must be non-negative")
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if entry, found, err := findByExternalRef(ctx, tx, input.ExternalRef); err != nil {
		return Entry{}, err
	} else if found {
		return entry, ErrDuplicateTransaction
	}

	w, err := lockWallet(ctx, tx, input.OwnerID)
	if err != nil {
		return Entry{}, err
	}
	if w.status == wallet.StatusRetired {
		return Entry{}, ErrWalletRetired
	}

	total := input.Amount + input.Fee
	if w.clearedBalance-w.lockedBalance < total {
		return Entry{}, ErrInsufficientFunds
	}

	before := w.balance
	after := before - total

	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = $1, cleared_balance = $2 WHERE id = $3`,
		after, w.clearedBalance-total, w.id); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		ID:            uuid.NewString(),
		WalletID:      w.id.String(),
		OwnerID:       input.OwnerID,
		Type:          TypeDebit,
		Category:      input.Category,
		Amount:        input.Amount,
		Fee:           input.Fee,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     uuid.NewString(),
		ExternalRef:   input.ExternalRef,
		Status:        StatusSuccess,
		Narration:     input.Narration,
		Metadata:      input.Metadata,
		CreatedAt:     time.Now().UTC(),
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		if isExternalRefConflict(err) {
			return l.replayExternalRef(ctx, tx, input.ExternalRef)
		}
		return Entry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// LockFunds reserves part of the cleared balance against an in-flight withdrawal.
func (l *PostgresLedger) LockFunds(ctx context.Context, ownerID string, amount int64) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	w, err := lockWallet(ctx, tx, ownerID)
	if err != nil {
		return err
	}
	if w.status == wallet.StatusRetired {
		return ErrWalletRetired
	}
	if w.clearedBalance-w.lockedBalance < amount {
		return ErrInsufficientFunds
	}
	if _, err := tx.Exec(ctx, `UPDATE wallets SET locked_balance = $1 WHERE id = $2`, w.lockedBalance+amount, w.id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UnlockFunds releases a previous reservation.
func (l *PostgresLedger) UnlockFunds(ctx context.Context, ownerID string, amount int64) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	w, err := lockWallet(ctx, tx, ownerID)
	if err != nil {
		return err
	}
	if w.lockedBalance < amount {
		return ErrInvalidUnlock
	}
	if _, err := tx.Exec(ctx, `UPDATE wallets SET locked_balance = $1 WHERE id = $2`, w.lockedBalance-amount, w.id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreatePending writes a pending entry without touching balances.
func (l *PostgresLedger) CreatePending(ctx context.Context, input PendingInput) (Entry, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if entry, found, err := findByExternalRef(ctx, tx, input.ExternalRef); err != nil {
		return Entry{}, err
	} else if found {
		return entry, ErrDuplicateTransaction
	}

	w, err := lockWallet(ctx, tx, input.OwnerID)
	if err != nil {
		return Entry{}, err
	}
	if w.status == wallet.StatusRetired {
		return Entry{}, ErrWalletRetired
	}

	entry := Entry{
		ID:          uuid.NewString(),
		WalletID:    w.id.String(),
		OwnerID:     input.OwnerID,
		Type:        input.Type,
		Category:    input.Category,
		Amount:      input.Amount,
		Fee:         input.Fee,
		Reference:   uuid.NewString(),
		ExternalRef: input.ExternalRef,
		Status:      StatusPending,
		Narration:   input.Narration,
		Metadata:    input.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		if isExternalRefConflict(err) {
			return l.replayExternalRef(ctx, tx, input.ExternalRef)
		}
		return Entry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// UpdateStatus transitions a pending entry to success or failed. Repeating a
// transition the entry already made is a no-op so duplicate provider callbacks
// are tolerated.
func (l *PostgresLedger) UpdateStatus(ctx context.Context, reference, status string, metadata map[string]string) (Entry, error) {
	if status != StatusSuccess && status != StatusFailed {
		return Entry{}, ErrStatusConflict
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	entry, err := scanEntry(tx.QueryRow(ctx, selectEntry+` WHERE reference = $1 FOR UPDATE`, reference))
	if err != nil {
		return Entry{}, err
	}
	if entry.Status == status {
		return entry, tx.Commit(ctx)
	}
	if entry.Status != StatusPending {
		return entry, ErrStatusConflict
	}

	for k, v := range metadata {
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]string)
		}
		entry.Metadata[k] = v
	}
	meta, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return Entry{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE ledger_entries SET status = $1, metadata = $2 WHERE reference = $3`, status, meta, reference); err != nil {
		return Entry{}, err
	}
	entry.Status = status
	if err := tx.Commit(ctx); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Balance returns the balance read model for the owner.
func (l *PostgresLedger) Balance(ctx context.Context, ownerID string) (BalanceView, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return BalanceView{}, ErrWalletNotFound
	}
	var view BalanceView
	err = l.db.QueryRow(ctx, `SELECT currency, balance, cleared_balance, locked_balance FROM wallets WHERE owner_id = $1`, owner).
		Scan(&view.Currency, &view.Balance, &view.ClearedBalance, &view.LockedBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BalanceView{}, ErrWalletNotFound
		}
		return BalanceView{}, err
	}
	view.OwnerID = ownerID
	view.Available = view.ClearedBalance - view.LockedBalance
	view.Pending = view.Balance - view.ClearedBalance
	return view, nil
}

// ClearDeposits promotes uncleared successful deposits inside one transaction
// so a crash mid-batch leaves either everything or nothing cleared.
func (l *PostgresLedger) ClearDeposits(ctx context.Context, sourceBox string, now time.Time) ([]ClearedDeposit, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	query := `SELECT reference, owner_id, amount FROM ledger_entries
        WHERE type = $1 AND category = $2 AND status = $3 AND is_cleared = FALSE`
	args := []any{TypeCredit, CategoryDeposit, StatusSuccess}
	if sourceBox != "" {
		query += ` AND source_box = $4`
		args = append(args, sourceBox)
	}
	query += ` ORDER BY created_at FOR UPDATE`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var cleared []ClearedDeposit
	for rows.Next() {
		var d ClearedDeposit
		var ref, owner uuid.UUID
		if err := rows.Scan(&ref, &owner, &d.Amount); err != nil {
			rows.Close()
			return nil, err
		}
		d.Reference = ref.String()
		d.OwnerID = owner.String()
		cleared = append(cleared, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, d := range cleared {
		if _, err := tx.Exec(ctx, `UPDATE ledger_entries SET is_cleared = TRUE, cleared_at = $1 WHERE reference = $2`,
			now.UTC(), uuid.MustParse(d.Reference)); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `UPDATE wallets SET cleared_balance = cleared_balance + $1 WHERE owner_id = $2`,
			d.Amount, uuid.MustParse(d.OwnerID)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return cleared, nil
}

// FindByReference loads one entry by its system reference.
func (l *PostgresLedger) FindByReference(ctx context.Context, reference string) (Entry, error) {
	return scanEntry(l.db.QueryRow(ctx, selectEntry+` WHERE reference = $1`, reference))
}

// EntriesByOwner lists an owner's entries, newest first.
func (l *PostgresLedger) EntriesByOwner(ctx context.Context, ownerID string, limit int) ([]Entry, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return nil, ErrWalletNotFound
	}
	if limit <= 0 {
		limit = 100
	}

	var walletID uuid.UUID
	if err := l.db.QueryRow(ctx, `SELECT id FROM wallets WHERE owner_id = $1`, owner).Scan(&walletID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}

	rows, err := l.db.Query(ctx, selectEntry+` WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// PendingEntries lists pending entries of a category created before the cutoff.
func (l *PostgresLedger) PendingEntries(ctx context.Context, category string, olderThan time.Time) ([]Entry, error) {
	rows, err := l.db.Query(ctx, selectEntry+` WHERE status = $1 AND category = $2 AND created_at <= $3 ORDER BY created_at`,
		StatusPending, category, olderThan.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func lockWallet(ctx context.Context, tx pgx.Tx, ownerID string) (walletRow, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return walletRow{}, ErrWalletNotFound
	}
	var w walletRow
	err = tx.QueryRow(ctx, `SELECT id, owner_id, currency, balance, cleared_balance, locked_balance, status
        FROM wallets WHERE owner_id = $1 FOR UPDATE`, owner).
		Scan(&w.id, &w.ownerID, &w.currency, &w.balance, &w.clearedBalance, &w.lockedBalance, &w.status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return walletRow{}, ErrWalletNotFound
		}
		return walletRow{}, err
	}
	return w, nil
}

const selectEntry = `SELECT id, wallet_id, owner_id, type, category, amount, fee, balance_before, balance_after,
    reference, external_ref, status, is_cleared, cleared_at, source_box, narration, metadata, created_at
    FROM ledger_entries`

func findByExternalRef(ctx context.Context, tx pgx.Tx, externalRef string) (Entry, bool, error) {
	if externalRef == "" {
		return Entry{}, false, nil
	}
	entry, err := scanEntry(tx.QueryRow(ctx, selectEntry+` WHERE external_ref = $1`, externalRef))
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return entry, true, nil
}

// isExternalRefConflict reports whether err is a unique violation on the
// external_ref index. Two concurrent postings with the same external reference
// both pass the dedupe read; the loser surfaces here.
func isExternalRefConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "external_ref")
}

// replayExternalRef abandons the losing transaction and returns the entry the
// concurrent winner committed. The unique violation is only raised once the
// winner's transaction commits, so the read always finds the row.
func (l *PostgresLedger) replayExternalRef(ctx context.Context, tx pgx.Tx, externalRef string) (Entry, error) {
	_ = tx.Rollback(ctx)
	entry, err := scanEntry(l.db.QueryRow(ctx, selectEntry+` WHERE external_ref = $1`, externalRef))
	if err != nil {
		return Entry{}, err
	}
	return entry, ErrDuplicateTransaction
}

func insertEntry(ctx context.Context, tx pgx.Tx, entry Entry) error {
	meta, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO ledger_entries
        (id, wallet_id, owner_id, type, category, amount, fee, balance_before, balance_after,
         reference, external_ref, status, is_cleared, cleared_at, source_box, narration, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13, $14, $15, $16, $17, $18)`,
		uuid.MustParse(entry.ID), uuid.MustParse(entry.WalletID), uuid.MustParse(entry.OwnerID),
		entry.Type, entry.Category, entry.Amount, entry.Fee, entry.BalanceBefore, entry.BalanceAfter,
		uuid.MustParse(entry.Reference), entry.ExternalRef, entry.Status, entry.IsCleared, entry.ClearedAt,
		entry.SourceBox, entry.Narration, meta, entry.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row pgx.Row) (Entry, error) {
	entry, err := scanEntryRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	return entry, nil
}

func scanEntryRow(row rowScanner) (Entry, error) {
	var entry Entry
	var id, walletID, owner, ref uuid.UUID
	var externalRef, meta *string
	var clearedAt *time.Time
	var createdAt time.Time
	err := row.Scan(&id, &walletID, &owner, &entry.Type, &entry.Category, &entry.Amount, &entry.Fee,
		&entry.BalanceBefore, &entry.BalanceAfter, &ref, &externalRef, &entry.Status, &entry.IsCleared,
		&clearedAt, &entry.SourceBox, &entry.Narration, &meta, &createdAt)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id.String()
	entry.WalletID = walletID.String()
	entry.OwnerID = owner.String()
	entry.Reference = ref.String()
	if externalRef != nil {
		entry.ExternalRef = *externalRef
	}
	entry.ClearedAt = clearedAt
	entry.CreatedAt = createdAt.UTC()
	if meta != nil && *meta != "" {
		if err := json.Unmarshal([]byte(*meta), &entry.Metadata); err != nil {
			return Entry{}, fmt.Errorf("decode entry metadata: %w", err)
		}
	}
	return entry, nil
}

func marshalMetadata(m map[string]string) (*string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
