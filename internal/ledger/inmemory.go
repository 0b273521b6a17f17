package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sable-pay/sable_pay/internal/wallet"
)

// InMemory is a concurrency-safe in-memory ledger useful for unit tests. It
// also implements wallet.Repository so a single instance backs both wallet
// resolution and balance mutation, mirroring how the Postgres schema shares
// one wallets table.
type InMemory struct {
	mu       sync.RWMutex
	wallets  map[string]wallet.Wallet // keyed by owner id
	entries  map[string]*Entry        // keyed by reference
	byExtRef map[string]string        // external ref -> reference
	order    []string                 // references in commit order
}

// NewInMemory creates an empty in-memory ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		wallets:  make(map[string]wallet.Wallet),
		entries:  make(map[string]*Entry),
		byExtRef: make(map[string]string),
	}
}

// CreateWallet provisions a wallet for the owner.
func (l *InMemory) CreateWallet(_ context.Context, input CreateWalletInput) (wallet.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, exists := l.wallets[input.OwnerID]; exists {
		return w, nil
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
	l.wallets[input.OwnerID] = w
	return w, nil
}

// RetireWallet closes the owner's wallet to new postings.
func (l *InMemory) RetireWallet(_ context.Context, ownerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[ownerID]
	if !ok {
		return ErrWalletNotFound
	}
	w.Status = wallet.StatusRetired
	l.wallets[ownerID] = w
	return nil
}

// Credit posts funds into the owner's wallet.
func (l *InMemory) Credit(_ context.Context, input CreditInput) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if input.ExternalRef != "" {
		if ref, exists := l.byExtRef[input.ExternalRef]; exists {
			return *l.entries[ref], ErrDuplicateTransaction
		}
	}

	w, ok := l.wallets[input.OwnerID]
	if !ok {
		return Entry{}, ErrWalletNotFound
	}
	if w.Status == wallet.StatusRetired {
		return Entry{}, ErrWalletRetired
	}

	before := w.Balance
	w.Balance += input.Amount
	if input.IsCleared {
		w.ClearedBalance += input.Amount
	}
	l.wallets[input.OwnerID] = w

	entry := &Entry{
		ID:            uuid.NewString(),
		WalletID:      w.ID,
		OwnerID:       w.OwnerID,
		Type:          TypeCredit,
		Category:      input.Category,
		Amount:        input.Amount,
		Fee:           input.Fee,
		BalanceBefore: before,
		BalanceAfter:  w.Balance,
		Reference:     uuid.NewString(),
		ExternalRef:   input.ExternalRef,
		Status:        StatusSuccess,
		IsCleared:     input.IsCleared,
		SourceBox:     input.SourceBox,
		Narration:     input.Narration,
		Metadata:      copyMetadata(input.Metadata),
		CreatedAt:     time.Now().UTC(),
	}
	if input.IsCleared {
		now := entry.CreatedAt
		entry.ClearedAt = &now
	}
	l.record(entry)
	return *entry, nil
}

// Debit charges Amount + Fee against the available balance.
func (l *InMemory) Debit(_ context.Context, input DebitInput) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if input.ExternalRef != "" {
		if ref, exists := l.byExtRef[input.ExternalRef]; exists {
			return *l.entries[ref], ErrDuplicateTransaction
		}
	}

	w, ok := l.wallets[input.OwnerID]
	if !ok {
		return Entry{}, ErrWalletNotFound
	}
	if w.Status == wallet.StatusRetired {
		return Entry{}, ErrWalletRetired
	}

	total := input.Amount + input.Fee
	if w.Available() < total {
		return Entry{}, ErrInsufficientFunds
	}

	before := w.Balance
	w.Balance -= total
	w.ClearedBalance -= total
	l.wallets[input.OwnerID] = w

	entry := &Entry{
		ID:            uuid.NewString(),
		WalletID:      w.ID,
		OwnerID:       w.OwnerID,
		Type:          TypeDebit,
		Category:      input.Category,
		Amount:        input.Amount,
		Fee:           input.Fee,
		BalanceBefore: before,
		BalanceAfter:  w.Balance,
		Reference:     uuid.NewString(),
		ExternalRef:   input.ExternalRef,
		Status:        StatusSuccess,
		Narration:     input.Narration,
		Metadata:      copyMetadata(input.Metadata),
		CreatedAt:     time.Now().UTC(),
	}
	l.record(entry)
	return *entry, nil
}

// LockFunds reserves part of the cleared balance.
func (l *InMemory) LockFunds(_ context.Context, ownerID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[ownerID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Status == wallet.StatusRetired {
		return ErrWalletRetired
	}
	if w.Available() < amount {
		return ErrInsufficientFunds
	}
	w.LockedBalance += amount
	l.wallets[ownerID] = w
	return nil
}

// UnlockFunds releases a previous reservation.
func (l *InMemory) UnlockFunds(_ context.Context, ownerID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[ownerID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.LockedBalance < amount {
		return ErrInvalidUnlock
	}
	w.LockedBalance -= amount
	l.wallets[ownerID] = w
	return nil
}

// CreatePending writes a pending entry without touching balances.
func (l *InMemory) CreatePending(_ context.Context, input PendingInput) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if input.ExternalRef != "" {
		if ref, exists := l.byExtRef[input.ExternalRef]; exists {
			return *l.entries[ref], ErrDuplicateTransaction
		}
	}

	w, ok := l.wallets[input.OwnerID]
	if !ok {
		return Entry{}, ErrWalletNotFound
	}
	if w.Status == wallet.StatusRetired {
		return Entry{}, ErrWalletRetired
	}

	entry := &Entry{
		ID:          uuid.NewString(),
		WalletID:    w.ID,
		OwnerID:     w.OwnerID,
		Type:        input.Type,
		Category:    input.Category,
		Amount:      input.Amount,
		Fee:         input.Fee,
		Reference:   uuid.NewString(),
		ExternalRef: input.ExternalRef,
		Status:      StatusPending,
		Narration:   input.Narration,
		Metadata:    copyMetadata(input.Metadata),
		CreatedAt:   time.Now().UTC(),
	}
	l.record(entry)
	return *entry, nil
}

// UpdateStatus transitions a pending entry to a terminal state.
func (l *InMemory) UpdateStatus(_ context.Context, reference, status string, metadata map[string]string) (Entry, error) {
	if status != StatusSuccess && status != StatusFailed {
		return Entry{}, ErrStatusConflict
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[reference]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	if entry.Status == status {
		return *entry, nil
	}
	if entry.Status != StatusPending {
		return *entry, ErrStatusConflict
	}

	entry.Status = status
	for k, v := range metadata {
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]string)
		}
		entry.Metadata[k] = v
	}
	return *entry, nil
}

// Balance returns the balance read model for the owner.
func (l *InMemory) Balance(_ context.Context, ownerID string) (BalanceView, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	w, ok := l.wallets[ownerID]
	if !ok {
		return BalanceView{}, ErrWalletNotFound
	}
	return BalanceView{
		OwnerID:        w.OwnerID,
		Currency:       w.Currency,
		Balance:        w.Balance,
		ClearedBalance: w.ClearedBalance,
		LockedBalance:  w.LockedBalance,
		Available:      w.Available(),
		Pending:        w.Pending(),
	}, nil
}

// ClearDeposits promotes uncleared successful deposits and bumps owner
// cleared balances in one critical section (all or nothing).
func (l *InMemory) ClearDeposits(_ context.Context, sourceBox string, now time.Time) ([]ClearedDeposit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cleared []ClearedDeposit
	for _, ref := range l.order {
		entry := l.entries[ref]
		if entry.Type != TypeCredit || entry.Category != CategoryDeposit {
			continue
		}
		if entry.Status != StatusSuccess || entry.IsCleared {
			continue
		}
		if sourceBox != "" && entry.SourceBox != sourceBox {
			continue
		}

		w, ok := l.wallets[entry.OwnerID]
		if !ok {
			continue
		}
		entry.IsCleared = true
		ts := now
		entry.ClearedAt = &ts
		w.ClearedBalance += entry.Amount
		l.wallets[entry.OwnerID] = w

		cleared = append(cleared, ClearedDeposit{Reference: entry.Reference, OwnerID: entry.OwnerID, Amount: entry.Amount})
	}
	return cleared, nil
}

// FindByReference loads one entry by its system reference.
func (l *InMemory) FindByReference(_ context.Context, reference string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[reference]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return *entry, nil
}

// EntriesByOwner lists an owner's entries, newest first.
func (l *InMemory) EntriesByOwner(_ context.Context, ownerID string, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.wallets[ownerID]; !ok {
		return nil, ErrWalletNotFound
	}
	var out []Entry
	for i := len(l.order) - 1; i >= 0; i-- {
		entry := l.entries[l.order[i]]
		if entry.OwnerID != ownerID {
			continue
		}
		out = append(out, *entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PendingEntries lists pending entries of a category created before the cutoff.
func (l *InMemory) PendingEntries(_ context.Context, category string, olderThan time.Time) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, ref := range l.order {
		entry := l.entries[ref]
		if entry.Status != StatusPending || entry.Category != category {
			continue
		}
		if entry.CreatedAt.After(olderThan) {
			continue
		}
		out = append(out, *entry)
	}
	return out, nil
}

// Get implements wallet.Repository.
func (l *InMemory) Get(_ context.Context, id string) (wallet.Wallet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, w := range l.wallets {
		if w.ID == id {
			return w, nil
		}
	}
	return wallet.Wallet{}, wallet.ErrNotFound
}

// GetByOwner implements wallet.Repository.
func (l *InMemory) GetByOwner(_ context.Context, ownerID string) (wallet.Wallet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.wallets[ownerID]
	if !ok {
		return wallet.Wallet{}, wallet.ErrNotFound
	}
	return w, nil
}

// GetByVirtualAccount implements wallet.Repository.
func (l *InMemory) GetByVirtualAccount(_ context.Context, account string) (wallet.Wallet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, w := range l.wallets {
		if w.VirtualAccount == account {
			return w, nil
		}
	}
	return wallet.Wallet{}, wallet.ErrNotFound
}

func (l *InMemory) record(entry *Entry) {
	l.entries[entry.Reference] = entry
	l.order = append(l.order, entry.Reference)
	if entry.ExternalRef != "" {
		l.byExtRef[entry.ExternalRef] = entry.Reference
	}
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
