package webhook

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sable-pay/sable_pay/internal/ledger"
	"github.com/sable-pay/sable_pay/internal/settlement"
	"github.com/sable-pay/sable_pay/internal/wallet"
)

// Ingestion outcomes. All of them acknowledge the provider; only Rejected and
// AccountNotFound map to non-2xx responses.
const (
	OutcomeProcessed       = "processed"
	OutcomeDuplicate       = "duplicate"
	OutcomeIgnored         = "ignored"
	OutcomeAccountNotFound = "account_not_found"
	OutcomeRejected        = "rejected"
)

const (
	replayPrefix = "webhook:replay:"
	replayTTL    = 24 * time.Hour
)

// IngestResult reports how an inbound webhook was handled.
type IngestResult struct {
	Outcome        string `json:"outcome"`
	Kind           Kind   `json:"kind"`
	Reference      string `json:"reference,omitempty"`
	SignatureValid bool   `json:"signature_valid"`
}

// Ingestor validates inbound provider webhooks and routes them to the ledger
// or the settlement clearer. It never mutates balances itself.
type Ingestor struct {
	verifier      *Verifier
	allowUnsigned bool
	events        EventStore
	wallets       wallet.Repository
	ledger        ledger.Ledger
	clearer       *settlement.Clearer
	dispatcher    *Dispatcher
	replay        *redis.Client
	logger        *slog.Logger
}

// IngestorDeps aggregates the collaborators an Ingestor needs.
type IngestorDeps struct {
	Verifier      *Verifier
	AllowUnsigned bool
	Events        EventStore
	Wallets       wallet.Repository
	Ledger        ledger.Ledger
	Clearer       *settlement.Clearer
	Dispatcher    *Dispatcher
	Replay        *redis.Client // optional fast-path replay cache
	Logger        *slog.Logger
}

// NewIngestor constructs a webhook ingestor.
func NewIngestor(deps IngestorDeps) *Ingestor {
	return &Ingestor{
		verifier:      deps.Verifier,
		allowUnsigned: deps.AllowUnsigned,
		events:        deps.Events,
		wallets:       deps.Wallets,
		ledger:        deps.Ledger,
		clearer:       deps.Clearer,
		dispatcher:    deps.Dispatcher,
		replay:        deps.Replay,
		logger:        deps.Logger,
	}
}

// Ingest handles one inbound provider webhook delivery.
func (i *Ingestor) Ingest(ctx context.Context, provider string, body []byte, signature string) (IngestResult, error) {
	valid := i.verifier.Verify(body, signature)

	evt, err := ParseEvent(provider, body)
	if err != nil {
		i.logger.Warn("undecodable webhook body", "provider", provider, "error", err)
		return IngestResult{Outcome: OutcomeRejected, SignatureValid: valid}, err
	}

	// Record the inbound event whatever happens next; the signature verdict
	// is part of the audit trail even when processing continues.
	if _, err := i.events.Record(ctx, InboundEvent{
		Provider:        provider,
		ProviderEventID: evt.EventID,
		EventType:       evt.Type,
		Payload:         string(body),
		SignatureValid:  valid,
		CreatedAt:       time.Now().UTC(),
	}); err != nil {
		return IngestResult{}, err
	}

	if !valid {
		if !i.allowUnsigned {
			i.logger.Warn("webhook rejected: invalid signature", "provider", provider, "event", evt.Type)
			i.markProcessed(ctx, evt, "signature invalid")
			return IngestResult{Outcome: OutcomeRejected, Kind: evt.Kind}, nil
		}
		i.logger.Warn("processing webhook with invalid signature (unsigned allowed)",
			"provider", provider, "event", evt.Type)
	}

	result, err := i.route(ctx, evt)
	result.SignatureValid = valid
	if err != nil {
		i.markProcessed(ctx, evt, err.Error())
		return result, err
	}
	i.markProcessed(ctx, evt, "")
	return result, nil
}

func (i *Ingestor) route(ctx context.Context, evt ProviderEvent) (IngestResult, error) {
	switch evt.Kind {
	case KindDeposit:
		return i.handleDeposit(ctx, evt)
	case KindSettlement:
		return i.handleSettlement(ctx, evt)
	case KindPayoutStatus:
		return i.handlePayoutStatus(ctx, evt)
	default:
		i.logger.Info("ignoring webhook event", "provider", evt.Provider, "event", evt.Type)
		return IngestResult{Outcome: OutcomeIgnored, Kind: evt.Kind}, nil
	}
}

func (i *Ingestor) handleDeposit(ctx context.Context, evt ProviderEvent) (IngestResult, error) {
	if i.seenBefore(ctx, evt) {
		return IngestResult{Outcome: OutcomeDuplicate, Kind: evt.Kind}, nil
	}

	w, err := i.wallets.GetByVirtualAccount(ctx, evt.VirtualAccount)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			i.logger.Warn("deposit for unknown virtual account",
				"provider", evt.Provider, "virtual_account", evt.VirtualAccount, "external_ref", evt.ExternalRef)
			return IngestResult{Outcome: OutcomeAccountNotFound, Kind: evt.Kind}, nil
		}
		return IngestResult{}, err
	}

	entry, err := i.ledger.Credit(ctx, ledger.CreditInput{
		OwnerID:     w.OwnerID,
		Amount:      evt.Amount,
		Fee:         evt.Fee,
		Category:    ledger.CategoryDeposit,
		Narration:   evt.Narration,
		ExternalRef: evt.ExternalRef,
		SourceBox:   evt.SourceBox,
		Metadata:    map[string]string{"provider": evt.Provider},
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateTransaction) {
			// Repeat delivery of a deposit we already credited: success.
			i.rememberReplay(ctx, evt)
			return IngestResult{Outcome: OutcomeDuplicate, Kind: evt.Kind, Reference: entry.Reference}, nil
		}
		return IngestResult{}, err
	}

	i.rememberReplay(ctx, evt)

	// Best-effort: the credit is committed, a dispatch hiccup must not undo it.
	if _, err := i.dispatcher.Enqueue(ctx, w.TenantID, "deposit.received", w.OwnerID, map[string]any{
		"reference":    entry.Reference,
		"external_ref": entry.ExternalRef,
		"amount":       entry.Amount,
		"fee":          entry.Fee,
		"currency":     w.Currency,
		"narration":    entry.Narration,
	}); err != nil {
		i.logger.Error("failed to enqueue deposit notification",
			"owner_id", w.OwnerID, "reference", entry.Reference, "error", err)
	}

	return IngestResult{Outcome: OutcomeProcessed, Kind: evt.Kind, Reference: entry.Reference}, nil
}

func (i *Ingestor) handleSettlement(ctx context.Context, evt ProviderEvent) (IngestResult, error) {
	result, err := i.clearer.Process(ctx, settlement.Notice{
		SettlementID: evt.SettlementID,
		SourceBox:    evt.SourceBox,
		Amount:       evt.Amount,
		Status:       evt.Status,
	})
	if err != nil {
		if errors.Is(err, settlement.ErrSettlementProcessed) {
			return IngestResult{Outcome: OutcomeDuplicate, Kind: evt.Kind}, nil
		}
		return IngestResult{}, err
	}
	return IngestResult{Outcome: OutcomeProcessed, Kind: evt.Kind, Reference: result.SettlementID}, nil
}

// payoutSuccessStatuses and payoutFailureStatuses map provider status words to
// terminal ledger statuses. Anything else ("pending", "processing", retries in
// flight) leaves the entry pending; the provider will call back again.
var payoutSuccessStatuses = map[string]bool{
	"success":    true,
	"successful": true,
	"completed":  true,
}

var payoutFailureStatuses = map[string]bool{
	"failed":   true,
	"failure":  true,
	"reversed": true,
	"rejected": true,
	"declined": true,
	"error":    true,
}

func (i *Ingestor) handlePayoutStatus(ctx context.Context, evt ProviderEvent) (IngestResult, error) {
	word := strings.ToLower(strings.TrimSpace(evt.Status))
	var status string
	switch {
	case payoutSuccessStatuses[word]:
		status = ledger.StatusSuccess
	case payoutFailureStatuses[word]:
		status = ledger.StatusFailed
	default:
		i.logger.Info("payout callback with non-terminal status",
			"provider", evt.Provider, "reference", evt.Reference, "status", evt.Status)
		return IngestResult{Outcome: OutcomeIgnored, Kind: evt.Kind, Reference: evt.Reference}, nil
	}

	entry, err := i.ledger.UpdateStatus(ctx, evt.Reference, status, map[string]string{
		"provider":        evt.Provider,
		"provider_status": evt.Status,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrEntryNotFound) {
			i.logger.Warn("payout callback for unknown reference", "provider", evt.Provider, "reference", evt.Reference)
			return IngestResult{Outcome: OutcomeAccountNotFound, Kind: evt.Kind}, nil
		}
		return IngestResult{}, err
	}

	if w, werr := i.wallets.GetByOwner(ctx, entry.OwnerID); werr == nil {
		if _, derr := i.dispatcher.Enqueue(ctx, w.TenantID, "payout."+status, entry.OwnerID, map[string]any{
			"reference": entry.Reference,
			"amount":    entry.Amount,
			"fee":       entry.Fee,
			"status":    status,
		}); derr != nil {
			i.logger.Error("failed to enqueue payout notification", "reference", entry.Reference, "error", derr)
		}
	}

	return IngestResult{Outcome: OutcomeProcessed, Kind: evt.Kind, Reference: entry.Reference}, nil
}

// seenBefore is a best-effort fast path; the ledger externalRef check remains
// authoritative when the cache is cold or unavailable.
func (i *Ingestor) seenBefore(ctx context.Context, evt ProviderEvent) bool {
	if i.replay == nil || evt.ExternalRef == "" {
		return false
	}
	key := replayPrefix + evt.Provider + ":" + evt.ExternalRef
	exists, err := i.replay.Exists(ctx, key).Result()
	if err != nil {
		return false
	}
	return exists > 0
}

func (i *Ingestor) rememberReplay(ctx context.Context, evt ProviderEvent) {
	if i.replay == nil || evt.ExternalRef == "" {
		return
	}
	key := replayPrefix + evt.Provider + ":" + evt.ExternalRef
	if err := i.replay.Set(ctx, key, 1, replayTTL).Err(); err != nil {
		i.logger.Debug("replay cache write failed", "key", key, "error", err)
	}
}

func (i *Ingestor) markProcessed(ctx context.Context, evt ProviderEvent, processingError string) {
	if err := i.events.MarkProcessed(ctx, evt.Provider, evt.EventID, processingError); err != nil {
		i.logger.Warn("failed to stamp inbound event", "provider", evt.Provider, "event_id", evt.EventID, "error", err)
	}
}
