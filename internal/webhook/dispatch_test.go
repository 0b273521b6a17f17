package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sable-pay/sable_pay/internal/logging"
	"github.com/sable-pay/sable_pay/internal/tenant"
)

func newDispatchFixture(t *testing.T, callbackURL string) (*Dispatcher, *MemoryDeliveryStore, *MemoryBus) {
	t.Helper()
	store := NewMemoryDeliveryStore()
	bus := NewMemoryBus()
	tenants := tenant.NewMemoryRepository(tenant.Tenant{
		ID:            "tenant-1",
		Name:          "Acme",
		CallbackURL:   callbackURL,
		WebhookSecret: "tenant-secret",
		Active:        true,
	})
	return NewDispatcher(store, tenants, bus, 0, logging.Discard()), store, bus
}

func TestDispatcher_EnqueueCommitsBeforePublish(t *testing.T) {
	d, store, bus := newDispatchFixture(t, "http://callback.invalid")
	ctx := context.Background()

	delivery, err := d.Enqueue(ctx, "tenant-1", "deposit.received", "owner-a", map[string]any{"amount": int64(100)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if delivery.DispatchStatus != DispatchPending || delivery.Attempts != 0 {
		t.Fatalf("unexpected delivery: %+v", delivery)
	}

	stored, err := store.Get(ctx, delivery.ID)
	if err != nil {
		t.Fatalf("record must be committed: %v", err)
	}
	if !VerifyPayloadSignature("tenant-secret", []byte(stored.Payload), stored.Signature) {
		t.Fatal("stored signature should verify under the tenant secret")
	}

	published := bus.Published(SubjectDispatch)
	if len(published) != 1 || published[0] != delivery.ID {
		t.Fatalf("expected the delivery id on the bus, got %v", published)
	}

	var payload Payload
	if err := json.Unmarshal([]byte(stored.Payload), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Event != "deposit.received" || payload.Timestamp == "" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDispatcher_EnqueueUnknownTenant(t *testing.T) {
	d, _, _ := newDispatchFixture(t, "http://callback.invalid")
	if _, err := d.Enqueue(context.Background(), "ghost", "deposit.received", "owner-a", nil); err == nil {
		t.Fatal("unknown tenant should fail enqueue")
	}
}

func TestDispatcher_DeliverSuccess(t *testing.T) {
	var gotSig atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig.Store(r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _, _ := newDispatchFixture(t, srv.URL)
	ctx := context.Background()

	delivery, err := d.Enqueue(ctx, "tenant-1", "deposit.received", "owner-a", map[string]any{"amount": int64(100)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	delivered, err := d.Deliver(ctx, delivery.ID)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if delivered.DispatchStatus != DispatchSuccess || delivered.Attempts != 1 || delivered.LastResponseCode != 200 {
		t.Fatalf("unexpected delivery state: %+v", delivered)
	}

	sig, _ := gotSig.Load().(string)
	if !VerifyPayloadSignature("tenant-secret", []byte(delivered.Payload), sig) {
		t.Fatal("wire signature should verify under the tenant secret")
	}
}

func TestDispatcher_DeliverFailureThenRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _, _ := newDispatchFixture(t, srv.URL)
	ctx := context.Background()

	delivery, _ := d.Enqueue(ctx, "tenant-1", "payout.success", "owner-a", nil)

	failed, err := d.Deliver(ctx, delivery.ID)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if failed.DispatchStatus != DispatchFailed || failed.LastResponseCode != 500 || failed.LastError == "" {
		t.Fatalf("expected recorded failure, got %+v", failed)
	}

	retried, err := d.Retry(ctx, delivery.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.DispatchStatus != DispatchSuccess || retried.Attempts != 2 {
		t.Fatalf("expected success on attempt 2, got %+v", retried)
	}

	// retrying a delivered webhook does not re-send
	again, err := d.Retry(ctx, delivery.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if again.Attempts != 2 || calls.Load() != 2 {
		t.Fatalf("successful delivery must not be re-sent: %+v calls=%d", again, calls.Load())
	}
}

func TestDispatcher_RetryUnknownDelivery(t *testing.T) {
	d, _, _ := newDispatchFixture(t, "http://callback.invalid")
	if _, err := d.Retry(context.Background(), "nope"); err != ErrDeliveryNotFound {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}
}
