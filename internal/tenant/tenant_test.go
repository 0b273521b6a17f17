package tenant

import (
	"context"
	"errors"
	"testing"
)

func TestOpsKeyHashRoundTrip(t *testing.T) {
	hash, err := HashOpsKey("s3cret-ops-key")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	tn := Tenant{ID: "tenant-1", OpsKeyHash: hash}
	if err := tn.CheckOpsKey("s3cret-ops-key"); err != nil {
		t.Fatalf("correct key rejected: %v", err)
	}
	if err := tn.CheckOpsKey("wrong"); !errors.Is(err, ErrInvalidOpsKey) {
		t.Fatalf("expected ErrInvalidOpsKey, got %v", err)
	}
}

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository(Tenant{ID: "tenant-1", Name: "Acme", Active: true})
	ctx := context.Background()

	got, err := repo.Get(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Acme" || !got.Active {
		t.Fatalf("unexpected tenant: %+v", got)
	}

	if _, err := repo.Get(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
