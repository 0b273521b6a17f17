package ledger

import "time"

// SeedWallet is a test helper that overwrites balance columns for an owner's
// wallet when using the in-memory ledger.
func SeedWallet(l Ledger, ownerID string, balance, cleared, locked int64) {
	if mem, ok := l.(*InMemory); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		w, exists := mem.wallets[ownerID]
		if !exists {
			return
		}
		w.Balance = balance
		w.ClearedBalance = cleared
		w.LockedBalance = locked
		mem.wallets[ownerID] = w
	}
}

// AgeEntry is a test helper that backdates an entry's creation time when
// using the in-memory ledger.
func AgeEntry(l Ledger, reference string, createdAt time.Time) {
	if mem, ok := l.(*InMemory); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if entry, exists := mem.entries[reference]; exists {
			entry.CreatedAt = createdAt
		}
	}
}
