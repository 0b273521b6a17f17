package tenant

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound indicates no tenant exists for the requested id.
var ErrNotFound = errors.New("tenant not found")

// ErrInvalidOpsKey indicates the presented operator key does not match.
var ErrInvalidOpsKey = errors.New("invalid operator key")

// Tenant holds the per-tenant delivery settings the dispatcher needs: where
// to deliver outbound webhooks and the shared secret to sign them with. The
// operator key is stored only as a bcrypt hash.
type Tenant struct {
	ID            string
	Name          string
	CallbackURL   string
	WebhookSecret string
	OpsKeyHash    string
	Active        bool
	CreatedAt     time.Time
}

// Repository persists tenant settings.
type Repository interface {
	Get(ctx context.Context, id string) (Tenant, error)
}

// CheckOpsKey compares a presented operator key against the stored hash.
func (t Tenant) CheckOpsKey(key string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(t.OpsKeyHash), []byte(key)); err != nil {
		return ErrInvalidOpsKey
	}
	return nil
}

// HashOpsKey produces the bcrypt hash stored for an operator key.
func HashOpsKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
