package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind classifies a normalized provider event.
type Kind string

const (
	// KindDeposit is a completed inbound payment into a virtual account.
	KindDeposit Kind = "deposit"
	// KindSettlement is a settlement-cycle notification.
	KindSettlement Kind = "settlement"
	// KindPayoutStatus is a status callback for an outbound transfer.
	KindPayoutStatus Kind = "payout_status"
	// KindUnknown is anything the system intentionally does not act on.
	KindUnknown Kind = "unknown"
)

// ProviderEvent is the canonical internal form of an inbound provider
// webhook. All field-name tolerance lives in ParseEvent; business logic never
// probes the raw payload.
type ProviderEvent struct {
	Provider       string
	EventID        string
	Type           string
	Kind           Kind
	ExternalRef    string
	Amount         int64
	Fee            int64
	Status         string
	VirtualAccount string
	SettlementID   string
	SourceBox      string
	Reference      string
	Narration      string
}

// depositEventNames are declared types that signal a completed deposit.
var depositEventNames = map[string]bool{
	"pay_order":              true,
	"payment.success":        true,
	"deposit.completed":      true,
	"collection.received":    true,
	"virtual_account_credit": true,
}

// settlementEventNames are declared types that signal a settlement cycle.
var settlementEventNames = map[string]bool{
	"settlement":           true,
	"settlement.completed": true,
	"box_settlement":       true,
}

// payoutEventNames are declared types that signal a transfer status callback.
var payoutEventNames = map[string]bool{
	"transfer.completed": true,
	"transfer.failed":    true,
	"payout.status":      true,
	"transfer_status":    true,
}

// ParseEvent normalizes a raw provider webhook body into a ProviderEvent.
// Providers disagree on field names for the same concepts, so extraction
// tries each known spelling; that tolerance is confined to this function.
func ParseEvent(provider string, body []byte) (ProviderEvent, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return ProviderEvent{}, fmt.Errorf("decode webhook body: %w", err)
	}

	evt := ProviderEvent{
		Provider: provider,
		Type:     strings.ToLower(pickString(raw, "event", "type", "event_type", "eventType")),
	}

	// Payload fields may sit under a data envelope or at the root.
	data := raw
	if nested, ok := raw["data"].(map[string]any); ok {
		data = nested
	} else if nested, ok := raw["payload"].(map[string]any); ok {
		data = nested
	}

	evt.EventID = pickString(raw, "event_id", "eventId", "id")
	evt.ExternalRef = pickString(data, "orderNo", "order_no", "orderId", "order_id", "transactionId", "transaction_id", "txRef", "tx_ref", "sessionId")
	evt.Amount = pickAmount(data, "orderAmount", "order_amount", "amount", "settlementAmount", "settlement_amount")
	evt.Fee = pickAmount(data, "fee", "charges", "transactionFee")
	evt.Status = strings.ToLower(pickString(data, "orderStatus", "order_status", "status", "state"))
	evt.VirtualAccount = pickString(data, "virtualAccountNo", "virtual_account_no", "virtualAccount", "virtual_account", "accountNumber", "account_number", "craccount")
	evt.SettlementID = pickString(data, "settlementId", "settlement_id", "batchId", "batch_id", "settlementNo")
	evt.SourceBox = pickString(data, "sourceBox", "source_box", "boxId", "box_id")
	evt.Reference = pickString(data, "reference", "merchantReference", "merchant_reference", "clientRef", "client_ref")
	evt.Narration = pickString(data, "narration", "description", "remark")

	if evt.EventID == "" {
		// No provider event id: derive a stable one so replays of the same
		// body dedupe in the inbound audit log.
		sum := sha256.Sum256(body)
		evt.EventID = hex.EncodeToString(sum[:16])
	}

	evt.Kind = classify(evt)
	return evt, nil
}

// classify is deliberately tolerant: a deposit is recognized by its declared
// type OR structurally, by carrying both an order identifier and an amount.
func classify(evt ProviderEvent) Kind {
	switch {
	case depositEventNames[evt.Type]:
		return KindDeposit
	case settlementEventNames[evt.Type], evt.SettlementID != "" && evt.Type == "":
		return KindSettlement
	case payoutEventNames[evt.Type]:
		return KindPayoutStatus
	case evt.ExternalRef != "" && evt.Amount > 0 && evt.VirtualAccount != "":
		return KindDeposit
	default:
		return KindUnknown
	}
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch s := v.(type) {
			case string:
				if s != "" {
					return s
				}
			case float64:
				return strconv.FormatInt(int64(s), 10)
			}
		}
	}
	return ""
}

// pickAmount reads a minor-unit amount that providers send as a JSON number
// or a numeric string. Fractional values are rejected (no floating point in
// money paths); string decimals are not minor units and are rejected too.
func pickAmount(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			if n == math.Trunc(n) && n >= 0 {
				return int64(n)
			}
		case string:
			if parsed, err := strconv.ParseInt(n, 10, 64); err == nil && parsed >= 0 {
				return parsed
			}
		case json.Number:
			if parsed, err := n.Int64(); err == nil && parsed >= 0 {
				return parsed
			}
		}
	}
	return 0
}
