package settlement

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrSettlementProcessed indicates the settlement id was already handled.
	// The stored result is returned alongside, so callers treat this as an
	// idempotent no-op rather than a failure.
	ErrSettlementProcessed = errors.New("settlement already processed")
)

const (
	// StatusClearing marks a batch whose clearing transaction is in flight.
	StatusClearing = "clearing"
	// StatusCompleted marks a batch whose eligible deposits were all cleared.
	StatusCompleted = "completed"
	// StatusSkipped marks a batch whose provider status was not a completion
	// signal. Terminal: a later notice reuses a new settlement id.
	StatusSkipped = "skipped"
)

// Batch records one provider settlement notification and the entries it
// promoted. A settlement id is processed at most once.
type Batch struct {
	SettlementID string
	SourceBox    string
	Amount       int64
	Status       string
	ClearedRefs  []string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// Notice is the normalized settlement event handed over by webhook ingestion.
type Notice struct {
	SettlementID string
	SourceBox    string
	Amount       int64
	Status       string
}

// Result reports the outcome of processing a settlement notice.
type Result struct {
	SettlementID string   `json:"settlement_id"`
	Status       string   `json:"status"`
	ClearedRefs  []string `json:"cleared_refs"`
}

// Store persists settlement batches.
type Store interface {
	// Get loads a batch by settlement id. The boolean reports existence.
	Get(ctx context.Context, settlementID string) (Batch, bool, error)
	// Insert writes a new batch. It reports false without error when a batch
	// with the same settlement id already exists (concurrent duplicate).
	Insert(ctx context.Context, b Batch) (bool, error)
	// Complete marks a clearing batch completed with the refs it promoted.
	Complete(ctx context.Context, settlementID string, refs []string, at time.Time) error
}

// completionStatuses are the provider status strings that signal a finished
// settlement cycle. Providers disagree on the exact word.
var completionStatuses = map[string]bool{
	"completed":  true,
	"complete":   true,
	"success":    true,
	"successful": true,
	"settled":    true,
}

// IsCompletion reports whether a provider settlement status signals completion.
func IsCompletion(status string) bool {
	return completionStatuses[strings.ToLower(strings.TrimSpace(status))]
}
