package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sable-pay/sable_pay/internal/ledger"
	"github.com/sable-pay/sable_pay/internal/wallet"
	"github.com/sable-pay/sable_pay/internal/webhook"
)

// ErrRunInProgress indicates another reconciliation run holds the lock.
var ErrRunInProgress = errors.New("reconciliation already running")

const lockKey = "reconcile:payouts:lock"

// Report summarizes one reconciliation sweep.
type Report struct {
	Examined   int `json:"examined"`
	Confirmed  int `json:"confirmed"`
	Failed     int `json:"failed"`
	Unresolved int `json:"unresolved"`
}

// Job re-verifies stale pending payouts against the provider and repairs
// ledger drift. Corrective actions go through the ledger and dispatcher only.
type Job struct {
	locks      *redis.Client
	ledger     ledger.Ledger
	wallets    wallet.Repository
	provider   Provider
	dispatcher *webhook.Dispatcher
	logger     *slog.Logger
	lockTTL    time.Duration
	cutoff     time.Duration
	now        func() time.Time
}

// NewJob constructs a reconciliation job. cutoff is how old a pending payout
// must be before the sweep questions it.
func NewJob(locks *redis.Client, ledgerBackend ledger.Ledger, wallets wallet.Repository,
	provider Provider, dispatcher *webhook.Dispatcher, lockTTL, cutoff time.Duration, logger *slog.Logger) *Job {
	return &Job{
		locks:      locks,
		ledger:     ledgerBackend,
		wallets:    wallets,
		provider:   provider,
		dispatcher: dispatcher,
		logger:     logger,
		lockTTL:    lockTTL,
		cutoff:     cutoff,
		now:        time.Now,
	}
}

// Run performs one sweep. Overlapping invocations are refused via a named,
// timestamped lock so a slow run is never doubled.
func (j *Job) Run(ctx context.Context) (Report, error) {
	now := j.now().UTC()
	acquired, err := j.locks.SetNX(ctx, lockKey, now.Format(time.RFC3339), j.lockTTL).Result()
	if err != nil {
		return Report{}, fmt.Errorf("acquire reconcile lock: %w", err)
	}
	if !acquired {
		return Report{}, ErrRunInProgress
	}
	defer j.locks.Del(context.WithoutCancel(ctx), lockKey)

	pending, err := j.ledger.PendingEntries(ctx, ledger.CategoryPayout, now.Add(-j.cutoff))
	if err != nil {
		return Report{}, fmt.Errorf("list pending payouts: %w", err)
	}

	report := Report{Examined: len(pending)}
	for _, entry := range pending {
		verification, err := j.provider.VerifyPayout(ctx, entry.Reference, entry.ExternalRef)
		if err != nil {
			j.logger.Warn("payout verification failed", "reference", entry.Reference, "error", err)
			report.Unresolved++
			continue
		}

		switch verification.Verdict {
		case VerdictConfirmed:
			j.resolve(ctx, entry, ledger.StatusSuccess, verification.ProviderRef)
			report.Confirmed++
		case VerdictFailed:
			j.resolve(ctx, entry, ledger.StatusFailed, verification.ProviderRef)
			report.Failed++
		default:
			j.logger.Info("payout still unresolved at provider", "reference", entry.Reference)
			report.Unresolved++
		}
	}

	j.logger.Info("reconciliation run complete",
		"examined", report.Examined, "confirmed", report.Confirmed,
		"failed", report.Failed, "unresolved", report.Unresolved)
	return report, nil
}

func (j *Job) resolve(ctx context.Context, entry ledger.Entry, status, providerRef string) {
	updated, err := j.ledger.UpdateStatus(ctx, entry.Reference, status, map[string]string{
		"reconciled":   "true",
		"provider_ref": providerRef,
	})
	if err != nil {
		j.logger.Error("failed to repair payout status", "reference", entry.Reference, "status", status, "error", err)
		return
	}

	w, err := j.wallets.GetByOwner(ctx, updated.OwnerID)
	if err != nil {
		j.logger.Warn("no wallet for reconciled payout owner", "owner_id", updated.OwnerID, "error", err)
		return
	}
	if _, err := j.dispatcher.Enqueue(ctx, w.TenantID, "payout."+status, updated.OwnerID, map[string]any{
		"reference": updated.Reference,
		"amount":    updated.Amount,
		"fee":       updated.Fee,
		"status":    status,
		"source":    "reconciliation",
	}); err != nil {
		j.logger.Error("failed to enqueue reconciliation notification", "reference", updated.Reference, "error", err)
	}
}
