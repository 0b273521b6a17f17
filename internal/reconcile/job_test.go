package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sable-pay/sable_pay/internal/ledger"
	"github.com/sable-pay/sable_pay/internal/logging"
	"github.com/sable-pay/sable_pay/internal/tenant"
	"github.com/sable-pay/sable_pay/internal/webhook"
)

type jobFixture struct {
	job        *Job
	ledger     *ledger.InMemory
	deliveries *webhook.MemoryDeliveryStore
	cache      *redis.Client
}

func newJobFixture(t *testing.T, provider Provider) *jobFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	mem := ledger.NewInMemory()
	if _, err := mem.CreateWallet(context.Background(), ledger.CreateWalletInput{
		OwnerID:        "owner-a",
		TenantID:       "tenant-1",
		VirtualAccount: "va-owner-a",
	}); err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	deliveries := webhook.NewMemoryDeliveryStore()
	tenants := tenant.NewMemoryRepository(tenant.Tenant{
		ID:            "tenant-1",
		CallbackURL:   "http://callback.invalid",
		WebhookSecret: "tenant-secret",
		Active:        true,
	})
	dispatcher := webhook.NewDispatcher(deliveries, tenants, webhook.NewMemoryBus(), 0, logging.Discard())

	job := NewJob(cache, mem, mem, provider, dispatcher, time.Minute, 30*time.Minute, logging.Discard())
	return &jobFixture{job: job, ledger: mem, deliveries: deliveries, cache: cache}
}

func seedStalePayout(t *testing.T, mem *ledger.InMemory, externalRef string) ledger.Entry {
	t.Helper()
	entry, err := mem.CreatePending(context.Background(), ledger.PendingInput{
		OwnerID:     "owner-a",
		Type:        ledger.TypeDebit,
		Amount:      2_000,
		Category:    ledger.CategoryPayout,
		ExternalRef: externalRef,
	})
	if err != nil {
		t.Fatalf("seed pending payout: %v", err)
	}
	ledger.AgeEntry(mem, entry.Reference, time.Now().UTC().Add(-time.Hour))
	return entry
}

func TestJob_ConfirmedPayoutRepairedAndNotified(t *testing.T) {
	f := newJobFixture(t, StaticProvider{Verdict: VerdictConfirmed})
	ctx := context.Background()

	entry := seedStalePayout(t, f.ledger, "p1")

	report, err := f.job.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Examined != 1 || report.Confirmed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	updated, _ := f.ledger.FindByReference(ctx, entry.Reference)
	if updated.Status != ledger.StatusSuccess || updated.Metadata["reconciled"] != "true" {
		t.Fatalf("entry not repaired: %+v", updated)
	}

	pending, _ := f.deliveries.ListByStatus(ctx, webhook.DispatchPending, 10)
	if len(pending) != 1 || pending[0].EventType != "payout.success" {
		t.Fatalf("expected a reconciliation notification, got %+v", pending)
	}
}

func TestJob_FailedAndUnknownVerdicts(t *testing.T) {
	f := newJobFixture(t, StaticProvider{Verdict: VerdictFailed})
	ctx := context.Background()

	entry := seedStalePayout(t, f.ledger, "p1")

	report, err := f.job.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	updated, _ := f.ledger.FindByReference(ctx, entry.Reference)
	if updated.Status != ledger.StatusFailed {
		t.Fatalf("entry should be failed: %+v", updated)
	}

	// unknown verdicts leave the entry pending for the next sweep
	f2 := newJobFixture(t, StaticProvider{})
	still := seedStalePayout(t, f2.ledger, "p2")
	report, err = f2.job.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Unresolved != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	pending, _ := f2.ledger.FindByReference(ctx, still.Reference)
	if pending.Status != ledger.StatusPending {
		t.Fatalf("unknown verdict must not touch the entry: %+v", pending)
	}
}

func TestJob_FreshPayoutsAreLeftAlone(t *testing.T) {
	f := newJobFixture(t, StaticProvider{Verdict: VerdictConfirmed})

	// created now, inside the cutoff window
	if _, err := f.ledger.CreatePending(context.Background(), ledger.PendingInput{
		OwnerID:     "owner-a",
		Type:        ledger.TypeDebit,
		Amount:      500,
		Category:    ledger.CategoryPayout,
		ExternalRef: "fresh",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	report, err := f.job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Examined != 0 {
		t.Fatalf("fresh payouts are not reconciliation candidates: %+v", report)
	}
}

func TestJob_RefusesOverlappingRuns(t *testing.T) {
	f := newJobFixture(t, StaticProvider{Verdict: VerdictConfirmed})
	ctx := context.Background()

	// simulate a run in flight
	if err := f.cache.SetNX(ctx, lockKey, "held", time.Minute).Err(); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	if _, err := f.job.Run(ctx); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	// the lock is released after a run completes
	f.cache.Del(ctx, lockKey)
	if _, err := f.job.Run(ctx); err != nil {
		t.Fatalf("run after release: %v", err)
	}
	if f.cache.Exists(ctx, lockKey).Val() != 0 {
		t.Fatal("lock should be released when the run finishes")
	}
}
