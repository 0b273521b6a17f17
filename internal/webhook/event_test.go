package webhook

import "testing"

func TestParseEvent_DepositEnvelope(t *testing.T) {
	body := []byte(`{
		"event": "pay_order",
		"event_id": "evt-1",
		"data": {
			"orderNo": "ON123",
			"orderAmount": 250000,
			"fee": "1200",
			"orderStatus": "SUCCESS",
			"virtualAccountNo": "9017654321",
			"narration": "card topup"
		}
	}`)

	evt, err := ParseEvent("palmpay", body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Kind != KindDeposit {
		t.Fatalf("expected deposit, got %s", evt.Kind)
	}
	if evt.EventID != "evt-1" || evt.ExternalRef != "ON123" {
		t.Fatalf("unexpected ids: %+v", evt)
	}
	if evt.Amount != 250000 || evt.Fee != 1200 {
		t.Fatalf("unexpected amounts: amount=%d fee=%d", evt.Amount, evt.Fee)
	}
	if evt.Status != "success" || evt.VirtualAccount != "9017654321" {
		t.Fatalf("unexpected fields: %+v", evt)
	}
}

func TestParseEvent_StructuralDepositWithoutEventName(t *testing.T) {
	body := []byte(`{
		"transaction_id": "TX9",
		"amount": 5000,
		"account_number": "9010000001",
		"status": "successful"
	}`)

	evt, err := ParseEvent("other", body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Kind != KindDeposit {
		t.Fatalf("amount+ref+account should classify as deposit, got %s", evt.Kind)
	}
	if evt.ExternalRef != "TX9" || evt.Amount != 5000 {
		t.Fatalf("unexpected extraction: %+v", evt)
	}
}

func TestParseEvent_Settlement(t *testing.T) {
	body := []byte(`{
		"event": "settlement.completed",
		"id": "evt-s1",
		"payload": {
			"settlement_id": "SET-44",
			"source_box": "box-3",
			"settlement_amount": 700000,
			"status": "completed"
		}
	}`)

	evt, err := ParseEvent("palmpay", body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Kind != KindSettlement || evt.SettlementID != "SET-44" || evt.SourceBox != "box-3" {
		t.Fatalf("unexpected settlement event: %+v", evt)
	}
	if evt.Amount != 700000 {
		t.Fatalf("expected amount 700000, got %d", evt.Amount)
	}
}

func TestParseEvent_PayoutStatus(t *testing.T) {
	body := []byte(`{
		"type": "transfer.failed",
		"event_id": "evt-p1",
		"data": {"reference": "payout-ref-1", "status": "failed"}
	}`)

	evt, err := ParseEvent("palmpay", body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Kind != KindPayoutStatus || evt.Reference != "payout-ref-1" || evt.Status != "failed" {
		t.Fatalf("unexpected payout event: %+v", evt)
	}
}

func TestParseEvent_UnknownAndDerivedEventID(t *testing.T) {
	body := []byte(`{"event": "kyc.updated", "customer": "c-1"}`)

	evt, err := ParseEvent("palmpay", body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Kind != KindUnknown {
		t.Fatalf("expected unknown, got %s", evt.Kind)
	}
	if evt.EventID == "" {
		t.Fatal("event id should be derived from the body when absent")
	}

	// same body derives the same id, so replays dedupe in the audit log
	again, _ := ParseEvent("palmpay", body)
	if again.EventID != evt.EventID {
		t.Fatalf("derived event id should be stable: %s vs %s", again.EventID, evt.EventID)
	}
}

func TestParseEvent_RejectsNonJSON(t *testing.T) {
	if _, err := ParseEvent("palmpay", []byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPickAmount_RejectsFractional(t *testing.T) {
	body := []byte(`{"orderNo": "ON1", "amount": 12.5, "account_number": "901"}`)
	evt, err := ParseEvent("palmpay", body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Amount != 0 {
		t.Fatalf("fractional amounts must not be coerced, got %d", evt.Amount)
	}
}
