package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestWallet(t *testing.T, l Ledger, ownerID string) {
	t.Helper()
	if _, err := l.CreateWallet(context.Background(), CreateWalletInput{
		OwnerID:        ownerID,
		TenantID:       "tenant-1",
		VirtualAccount: "va-" + ownerID,
		Currency:       "NGN",
	}); err != nil {
		t.Fatalf("create wallet %s: %v", ownerID, err)
	}
}

func TestInMemory_DepositThenSettlementClears(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newTestWallet(t, l, "owner-a")

	entry, err := l.Credit(ctx, CreditInput{
		OwnerID:     "owner-a",
		Amount:      10_000,
		Category:    CategoryDeposit,
		ExternalRef: "prov-dep-1",
		SourceBox:   "box-7",
	})
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if entry.IsCleared {
		t.Fatal("deposit should start uncleared")
	}

	view, err := l.Balance(ctx, "owner-a")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if view.Balance != 10_000 || view.ClearedBalance != 0 {
		t.Fatalf("expected balance 10000/cleared 0, got %d/%d", view.Balance, view.ClearedBalance)
	}
	if view.Pending != 10_000 || view.Available != 0 {
		t.Fatalf("expected pending 10000/available 0, got %d/%d", view.Pending, view.Available)
	}

	cleared, err := l.ClearDeposits(ctx, "box-7", time.Now().UTC())
	if err != nil {
		t.Fatalf("clear deposits: %v", err)
	}
	if len(cleared) != 1 || cleared[0].Reference != entry.Reference || cleared[0].Amount != 10_000 {
		t.Fatalf("unexpected cleared set: %+v", cleared)
	}

	view, _ = l.Balance(ctx, "owner-a")
	if view.Available != 10_000 || view.Pending != 0 {
		t.Fatalf("expected available 10000/pending 0 after clearing, got %d/%d", view.Available, view.Pending)
	}

	stored, err := l.FindByReference(ctx, entry.Reference)
	if err != nil {
		t.Fatalf("find by reference: %v", err)
	}
	if !stored.IsCleared || stored.ClearedAt == nil {
		t.Fatal("entry should carry the clearing stamp")
	}
}

func TestInMemory_ClearDepositsScopedToSourceBox(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newTestWallet(t, l, "owner-a")

	l.Credit(ctx, CreditInput{OwnerID: "owner-a", Amount: 100, Category: CategoryDeposit, ExternalRef: "d1", SourceBox: "box-1"})
	l.Credit(ctx, CreditInput{OwnerID: "owner-a", Amount: 200, Category: CategoryDeposit, ExternalRef: "d2", SourceBox: "box-2"})

	cleared, err := l.ClearDeposits(ctx, "box-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("clear deposits: %v", err)
	}
	if len(cleared) != 1 || cleared[0].Amount != 100 {
		t.Fatalf("expected only the box-1 deposit, got %+v", cleared)
	}

	view, _ := l.Balance(ctx, "owner-a")
	if view.ClearedBalance != 100 {
		t.Fatalf("expected cleared 100, got %d", view.ClearedBalance)
	}

	// a second run over the same box finds nothing new
	cleared, _ = l.ClearDeposits(ctx, "box-1", time.Now().UTC())
	if len(cleared) != 0 {
		t.Fatalf("re-run should clear nothing, got %+v", cleared)
	}
}

func TestInMemory_DuplicateExternalRefReturnsStoredEntry(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newTestWallet(t, l, "owner-a")

	first, err := l.Credit(ctx, CreditInput{OwnerID: "owner-a", Amount: 500, Category: CategoryDeposit, ExternalRef: "dup"})
	if err != nil {
		t.Fatalf("initial credit failed: %v", err)
	}

	second, err := l.Credit(ctx, CreditInput{OwnerID: "owner-a", Amount: 500, Category: CategoryDeposit, ExternalRef: "dup"})
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if second.Reference != first.Reference {
		t.Fatalf("duplicate should return the stored entry, got %s vs %s", second.Reference, first.Reference)
	}

	view, _ := l.Balance(ctx, "owner-a")
	if view.Balance != 500 {
		t.Fatalf("duplicate must not double-post, balance=%d", view.Balance)
	}
}

func TestInMemory_DebitRespectsLockedFunds(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newTestWallet(t, l, "owner-a")
	SeedWallet(l, "owner-a", 10_000, 10_000, 0)

	if err := l.LockFunds(ctx, "owner-a", 6_000); err != nil {
		t.Fatalf("lock funds: %v", err)
	}

	if _, err := l.Debit(ctx, DebitInput{OwnerID: "owner-a", Amount: 5_000, Category: CategoryPayout, ExternalRef: "w1"}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("debit beyond available should fail, got %v", err)
	}

	entry, err := l.Debit(ctx, DebitInput{OwnerID: "owner-a", Amount: 3_000, Fee: 100, Category: CategoryPayout, ExternalRef: "w2"})
	if err != nil {
		t.Fatalf("debit within available failed: %v", err)
	}
	if entry.BalanceAfter != 6_900 {
		t.Fatalf("expected balance after 6900, got %d", entry.BalanceAfter)
	}

	view, _ := l.Balance(ctx, "owner-a")
	if view.LockedBalance != 6_000 || view.Available != 900 {
		t.Fatalf("expected locked 6000/available 900, got %d/%d", view.LockedBalance, view.Available)
	}
}

func TestInMemory_UnlockBoundedByLocked(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newTestWallet(t, l, "owner-a")
	SeedWallet(l, "owner-a", 5_000, 5_000, 0)

	if err := l.LockFunds(ctx, "owner-a", 2_000); err != nil {
		t.Fatalf("lock funds: %v", err)
	}
	if err := l.UnlockFunds(ctx, "owner-a", 3_000); !errors.Is(err, ErrInvalidUnlock) {
		t.Fatalf("expected invalid unlock, got %v", err)
	}
	if err := l.UnlockFunds(ctx, "owner-a", 2_000); err != nil {
		t.Fatalf("full unlock failed: %v", err)
	}

	view, _ := l.Balance(ctx, "owner-a")
	if view.LockedBalance != 0 || view.Available != 5_000 {
		t.Fatalf("expected locked 0/available 5000, got %d/%d", view.LockedBalance, view.Available)
	}
}

func TestInMemory_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newTestWallet(t, l, "owner-a")
	SeedWallet(l, "owner-a", 1_000, 1_000, 0)

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := fmt.Sprintf("payout-%d", i)
			_, err := l.Debit(ctx, DebitInput{OwnerID: "owner-a", Amount: 700, Category: CategoryPayout, ExternalRef: ref})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("debit %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("exactly one debit should win, got %d", successes)
	}
	view, _ := l.Balance(ctx, "owner-a")
	if view.Balance != 300 {
		t.Fatalf("expected balance 300, got %d", view.Balance)
	}
}

func TestInMemory_PendingLifecycle(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newTestWallet(t, l, "owner-a")
	SeedWallet(l, "owner-a", 2_000, 2_000, 0)

	entry, err := l.CreatePending(ctx, PendingInput{
		OwnerID:     "owner-a",
		Type:        TypeDebit,
		Amount:      1_000,
		Category:    CategoryPayout,
		ExternalRef: "payout-ext-1",
	})
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}

	view, _ := l.Balance(ctx, "owner-a")
	if view.Balance != 2_000 {
		t.Fatalf("pending entry must not move balances, got %d", view.Balance)
	}

	updated, err := l.UpdateStatus(ctx, entry.Reference, StatusSuccess, map[string]string{"provider_ref": "pr-1"})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != StatusSuccess || updated.Metadata["provider_ref"] != "pr-1" {
		t.Fatalf("unexpected updated entry: %+v", updated)
	}

	// repeating the same terminal state is a no-op
	if _, err := l.UpdateStatus(ctx, entry.Reference, StatusSuccess, nil); err != nil {
		t.Fatalf("idempotent status repeat should succeed: %v", err)
	}
	// a conflicting terminal state is refused
	if _, err := l.UpdateStatus(ctx, entry.Reference, StatusFailed, nil); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected status conflict, got %v", err)
	}
	if _, err := l.UpdateStatus(ctx, "missing-ref", StatusSuccess, nil); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected entry not found, got %v", err)
	}
}

func TestInMemory_PendingEntriesCutoff(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newTestWallet(t, l, "owner-a")

	old, _ := l.CreatePending(ctx, PendingInput{OwnerID: "owner-a", Type: TypeDebit, Amount: 100, Category: CategoryPayout, ExternalRef: "p1"})
	l.CreatePending(ctx, PendingInput{OwnerID: "owner-a", Type: TypeDebit, Amount: 200, Category: CategoryPayout, ExternalRef: "p2"})

	// age the first entry past the cutoff
	AgeEntry(l, old.Reference, time.Now().UTC().Add(-time.Hour))

	entries, err := l.PendingEntries(ctx, CategoryPayout, time.Now().UTC().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("pending entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Reference != old.Reference {
		t.Fatalf("expected only the aged entry, got %+v", entries)
	}
}

func TestInMemory_BalanceMatchesEntryHistory(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newTestWallet(t, l, "owner-a")

	l.Credit(ctx, CreditInput{OwnerID: "owner-a", Amount: 10_000, Category: CategoryDeposit, ExternalRef: "c1", IsCleared: true})
	l.Credit(ctx, CreditInput{OwnerID: "owner-a", Amount: 4_000, Category: CategoryDeposit, ExternalRef: "c2", IsCleared: true})
	l.Debit(ctx, DebitInput{OwnerID: "owner-a", Amount: 2_500, Fee: 50, Category: CategoryPayout, ExternalRef: "d1"})

	entries, err := l.EntriesByOwner(ctx, "owner-a", 0)
	if err != nil {
		t.Fatalf("entries by owner: %v", err)
	}

	var derived int64
	for _, e := range entries {
		if e.Status != StatusSuccess {
			continue
		}
		switch e.Type {
		case TypeCredit:
			derived += e.Amount
		case TypeDebit:
			derived -= e.Amount + e.Fee
		}
	}

	view, _ := l.Balance(ctx, "owner-a")
	if view.Balance != derived {
		t.Fatalf("balance %d diverges from entry history %d", view.Balance, derived)
	}
	if view.Balance != 11_450 {
		t.Fatalf("expected balance 11450, got %d", view.Balance)
	}
}

func TestInMemory_EntriesByOwner(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newTestWallet(t, l, "owner-a")
	newTestWallet(t, l, "owner-b")

	l.Credit(ctx, CreditInput{OwnerID: "owner-a", Amount: 100, Category: CategoryDeposit, ExternalRef: "a1"})
	l.Credit(ctx, CreditInput{OwnerID: "owner-b", Amount: 200, Category: CategoryDeposit, ExternalRef: "b1"})
	last, _ := l.Credit(ctx, CreditInput{OwnerID: "owner-a", Amount: 300, Category: CategoryDeposit, ExternalRef: "a2"})

	entries, err := l.EntriesByOwner(ctx, "owner-a", 10)
	if err != nil {
		t.Fatalf("entries by owner: %v", err)
	}
	if len(entries) != 2 || entries[0].Reference != last.Reference {
		t.Fatalf("expected owner-a entries newest first, got %+v", entries)
	}

	limited, _ := l.EntriesByOwner(ctx, "owner-a", 1)
	if len(limited) != 1 {
		t.Fatalf("limit not applied: %d", len(limited))
	}

	if _, err := l.EntriesByOwner(ctx, "nobody", 10); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}
}

func TestInMemory_WalletLookups(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newTestWallet(t, l, "owner-a")

	w, err := l.GetByVirtualAccount(ctx, "va-owner-a")
	if err != nil {
		t.Fatalf("get by virtual account: %v", err)
	}
	if w.OwnerID != "owner-a" || w.TenantID != "tenant-1" {
		t.Fatalf("unexpected wallet: %+v", w)
	}

	if _, err := l.GetByVirtualAccount(ctx, "va-nobody"); err == nil {
		t.Fatal("unknown virtual account should not resolve")
	}
	if _, err := l.Balance(ctx, "nobody"); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}
}

func TestInMemory_RetiredWalletRejectsPostings(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	newTestWallet(t, l, "owner-a")
	SeedWallet(l, "owner-a", 10_000, 10_000, 2_000)

	if err := l.RetireWallet(ctx, "owner-a"); err != nil {
		t.Fatalf("retire wallet: %v", err)
	}
	if err := l.RetireWallet(ctx, "nobody"); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}

	if _, err := l.Credit(ctx, CreditInput{OwnerID: "owner-a", Amount: 1_000, Category: CategoryDeposit, ExternalRef: "dep-ret-1"}); !errors.Is(err, ErrWalletRetired) {
		t.Fatalf("credit on retired wallet: %v", err)
	}
	if _, err := l.Debit(ctx, DebitInput{OwnerID: "owner-a", Amount: 1_000, Category: CategoryPayout, ExternalRef: "pay-ret-1"}); !errors.Is(err, ErrWalletRetired) {
		t.Fatalf("debit on retired wallet: %v", err)
	}
	if err := l.LockFunds(ctx, "owner-a", 1_000); !errors.Is(err, ErrWalletRetired) {
		t.Fatalf("lock on retired wallet: %v", err)
	}
	if _, err := l.CreatePending(ctx, PendingInput{OwnerID: "owner-a", Type: TypeDebit, Amount: 1_000, Category: CategoryPayout, ExternalRef: "pend-ret-1"}); !errors.Is(err, ErrWalletRetired) {
		t.Fatalf("pending on retired wallet: %v", err)
	}

	// reservations from in-flight payouts still release
	if err := l.UnlockFunds(ctx, "owner-a", 2_000); err != nil {
		t.Fatalf("unlock on retired wallet: %v", err)
	}

	view, err := l.Balance(ctx, "owner-a")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if view.Balance != 10_000 || view.LockedBalance != 0 {
		t.Fatalf("unexpected balances after retirement: %+v", view)
	}
}
