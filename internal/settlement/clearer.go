package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sable-pay/sable_pay/internal/ledger"
)

// Clearer consumes settlement-completed notices and promotes the matching
// pending deposits to cleared. It owns the batch store and is the only caller
// of the ledger's ClearDeposits.
type Clearer struct {
	store  Store
	ledger ledger.Ledger
	logger *slog.Logger
	now    func() time.Time
}

// NewClearer constructs a settlement clearer.
func NewClearer(store Store, ledgerBackend ledger.Ledger, logger *slog.Logger) *Clearer {
	return &Clearer{store: store, ledger: ledgerBackend, logger: logger, now: time.Now}
}

// Process handles one settlement notice. Replays of an already-processed
// settlement id return the stored result with ErrSettlementProcessed.
func (c *Clearer) Process(ctx context.Context, notice Notice) (Result, error) {
	if notice.SettlementID == "" {
		return Result{}, fmt.Errorf("settlement id is required")
	}

	if batch, found, err := c.store.Get(ctx, notice.SettlementID); err != nil {
		return Result{}, err
	} else if found {
		if batch.Status == StatusClearing {
			// A previous run crashed between recording the batch and
			// completing it. ClearDeposits is all-or-nothing and only touches
			// uncleared rows, so resuming cannot double-credit.
			c.logger.Warn("resuming interrupted settlement batch", "settlement_id", notice.SettlementID)
			return c.clear(ctx, batch)
		}
		return resultOf(batch), ErrSettlementProcessed
	}

	now := c.now().UTC()
	batch := Batch{
		SettlementID: notice.SettlementID,
		SourceBox:    notice.SourceBox,
		Amount:       notice.Amount,
		Status:       StatusClearing,
		CreatedAt:    now,
	}
	if !IsCompletion(notice.Status) {
		batch.Status = StatusSkipped
		completed := now
		batch.CompletedAt = &completed
		inserted, err := c.store.Insert(ctx, batch)
		if err != nil {
			return Result{}, err
		}
		if !inserted {
			return c.replay(ctx, notice.SettlementID)
		}
		c.logger.Info("settlement skipped", "settlement_id", notice.SettlementID, "provider_status", notice.Status)
		return resultOf(batch), nil
	}

	inserted, err := c.store.Insert(ctx, batch)
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		return c.replay(ctx, notice.SettlementID)
	}

	return c.clear(ctx, batch)
}

func (c *Clearer) clear(ctx context.Context, batch Batch) (Result, error) {
	cleared, err := c.ledger.ClearDeposits(ctx, batch.SourceBox, c.now().UTC())
	if err != nil {
		return Result{}, fmt.Errorf("clear deposits for settlement %s: %w", batch.SettlementID, err)
	}

	refs := make([]string, 0, len(cleared))
	var total int64
	for _, d := range cleared {
		refs = append(refs, d.Reference)
		total += d.Amount
	}

	completedAt := c.now().UTC()
	if err := c.store.Complete(ctx, batch.SettlementID, refs, completedAt); err != nil {
		return Result{}, err
	}

	c.logger.Info("settlement batch cleared",
		"settlement_id", batch.SettlementID,
		"source_box", batch.SourceBox,
		"entries", len(refs),
		"amount", total,
	)

	batch.Status = StatusCompleted
	batch.ClearedRefs = refs
	batch.CompletedAt = &completedAt
	return resultOf(batch), nil
}

// replay handles losing an insert race: another request recorded the same
// settlement id first. Report the winner's result.
func (c *Clearer) replay(ctx context.Context, settlementID string) (Result, error) {
	batch, found, err := c.store.Get(ctx, settlementID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, fmt.Errorf("settlement %s vanished during insert race", settlementID)
	}
	if batch.Status == StatusClearing {
		return c.clear(ctx, batch)
	}
	return resultOf(batch), ErrSettlementProcessed
}

func resultOf(b Batch) Result {
	refs := b.ClearedRefs
	if refs == nil {
		refs = []string{}
	}
	return Result{SettlementID: b.SettlementID, Status: b.Status, ClearedRefs: refs}
}
