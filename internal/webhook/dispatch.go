package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sable-pay/sable_pay/internal/tenant"
)

// SignatureHeader carries the keyed-hash signature on outbound deliveries.
const SignatureHeader = "X-Sable-Signature"

// Payload is the canonical outbound notification body.
type Payload struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// Dispatcher signs and delivers outbound events to tenant callback URLs and
// is the only writer of delivery records. Enqueue commits the record before
// anything leaves the process: delivery happens on the worker, never inside
// the ledger call path that triggered it.
type Dispatcher struct {
	store   DeliveryStore
	tenants tenant.Repository
	bus     Bus
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher constructs a webhook dispatcher. timeout bounds each HTTP
// delivery attempt so a slow tenant endpoint cannot starve the worker.
func NewDispatcher(store DeliveryStore, tenants tenant.Repository, bus Bus, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		store:   store,
		tenants: tenants,
		bus:     bus,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		now:     time.Now,
	}
}

// Enqueue persists a pending delivery record and hands its id to the bus.
// A publish failure leaves the record pending for the redelivery sweep; it is
// never surfaced to the caller that triggered the event.
func (d *Dispatcher) Enqueue(ctx context.Context, tenantID, eventType, ownerID string, data map[string]any) (Delivery, error) {
	t, err := d.tenants.Get(ctx, tenantID)
	if err != nil {
		return Delivery{}, fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}

	now := d.now().UTC()
	payload := Payload{Event: eventType, Data: data, Timestamp: now.Format(time.RFC3339)}
	body, err := json.Marshal(payload)
	if err != nil {
		return Delivery{}, fmt.Errorf("encode payload: %w", err)
	}

	delivery := Delivery{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		EventType:      eventType,
		OwnerID:        ownerID,
		Payload:        string(body),
		Signature:      signPayload(t.WebhookSecret, body),
		DispatchStatus: DispatchPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := d.store.Insert(ctx, delivery); err != nil {
		return Delivery{}, err
	}

	if err := d.bus.Publish(SubjectDispatch, []byte(delivery.ID)); err != nil {
		d.logger.Warn("dispatch publish failed, sweep will pick it up",
			"delivery_id", delivery.ID, "error", err)
	}
	return delivery, nil
}

// Deliver performs one delivery attempt and records its outcome. The returned
// record's DispatchStatus reports success or failure; only storage or tenant
// resolution problems come back as errors.
func (d *Dispatcher) Deliver(ctx context.Context, deliveryID string) (Delivery, error) {
	delivery, err := d.store.Get(ctx, deliveryID)
	if err != nil {
		return Delivery{}, err
	}
	return d.attempt(ctx, delivery)
}

// Retry re-signs and re-sends a delivery on operator request.
func (d *Dispatcher) Retry(ctx context.Context, deliveryID string) (Delivery, error) {
	delivery, err := d.store.Get(ctx, deliveryID)
	if err != nil {
		return Delivery{}, err
	}
	if delivery.DispatchStatus == DispatchSuccess {
		return delivery, nil
	}
	return d.attempt(ctx, delivery)
}

func (d *Dispatcher) attempt(ctx context.Context, delivery Delivery) (Delivery, error) {
	t, err := d.tenants.Get(ctx, delivery.TenantID)
	if err != nil {
		return Delivery{}, fmt.Errorf("resolve tenant %s: %w", delivery.TenantID, err)
	}

	// Re-sign on every attempt so a rotated tenant secret takes effect.
	body := []byte(delivery.Payload)
	delivery.Signature = signPayload(t.WebhookSecret, body)
	delivery.Attempts++
	delivery.UpdatedAt = d.now().UTC()

	code, sendErr := d.send(ctx, t.CallbackURL, body, delivery.Signature)
	delivery.LastResponseCode = code
	if sendErr != nil {
		delivery.DispatchStatus = DispatchFailed
		delivery.LastError = sendErr.Error()
	} else if code >= 200 && code < 300 {
		delivery.DispatchStatus = DispatchSuccess
		delivery.LastError = ""
	} else {
		delivery.DispatchStatus = DispatchFailed
		delivery.LastError = fmt.Sprintf("endpoint returned %d", code)
	}

	if err := d.store.Update(ctx, delivery); err != nil {
		return Delivery{}, err
	}

	if delivery.DispatchStatus == DispatchSuccess {
		d.logger.Info("webhook delivered",
			"delivery_id", delivery.ID, "tenant_id", delivery.TenantID,
			"event", delivery.EventType, "attempts", delivery.Attempts)
	} else {
		d.logger.Warn("webhook delivery failed",
			"delivery_id", delivery.ID, "tenant_id", delivery.TenantID,
			"event", delivery.EventType, "attempts", delivery.Attempts,
			"code", code, "error", delivery.LastError)
	}
	return delivery, nil
}

func (d *Dispatcher) send(ctx context.Context, url string, body []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPayloadSignature lets tenants (and tests) check a delivery signature.
func VerifyPayloadSignature(secret string, body []byte, signature string) bool {
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}
