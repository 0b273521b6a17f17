package wallet

import "time"

const (
	// StatusActive marks a wallet open for ledger postings.
	StatusActive = "active"
	// StatusRetired marks a wallet soft-retired with its owner. Retired
	// wallets keep their history but accept no further postings.
	StatusRetired = "retired"
)

// Wallet is the durable balance state for one account holder. All monetary
// fields are integer minor units (kobo). Balances are mutated exclusively by
// the ledger store; this package only creates wallets and resolves lookups.
type Wallet struct {
	ID             string
	OwnerID        string
	TenantID       string
	VirtualAccount string
	Currency       string
	Balance        int64
	ClearedBalance int64
	LockedBalance  int64
	Status         string
	CreatedAt      time.Time
}

// Available reports the spendable portion of the cleared balance.
func (w Wallet) Available() int64 {
	return w.ClearedBalance - w.LockedBalance
}

// Pending reports funds received but not yet settled. Derived, never stored.
func (w Wallet) Pending() int64 {
	return w.Balance - w.ClearedBalance
}
