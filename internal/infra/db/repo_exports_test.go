package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"keystack/internal/domain"
)

func TestExportRepositoryWithoutDB(t *testing.T) {
	repo := NewExportRepository(nil)
	ctx := context.Background()
	if _, err := repo.Get(ctx, domain.Target{}, "license-key"); !errors.Is(err, errDBUnavailable) {
		t.Fatalf("expected errDBUnavailable, got %v", err)
	}
	if err := repo.Put(ctx, domain.Target{}, domain.ResolvedOutput{}); !errors.Is(err, errDBUnavailable) {
		t.Fatalf("expected errDBUnavailable, got %v", err)
	}
	if _, err := repo.ListByStack(ctx, domain.Target{}); !errors.Is(err, errDBUnavailable) {
		t.Fatalf("expected errDBUnavailable, got %v", err)
	}
}

func TestStoreWithoutDSN(t *testing.T) {
	store := &Store{}
	if store.Available() {
		t.Fatalf("expected store without DB to be unavailable")
	}
	if err := store.Migrate(context.Background()); !errors.Is(err, errDBUnavailable) {
		t.Fatalf("expected errDBUnavailable, got %v", err)
	}
}

func TestToResolved(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	out := toResolved(ExportModel{
		StackName:   "license",
		ExportName:  "license-key",
		Value:       "arn:aws:kms:us-east-1:111122223333:key/abc",
		Fingerprint: "fp",
		UpdatedAt:   at,
	})
	if out.UpdatedAt.Location() != time.UTC || !out.UpdatedAt.Equal(at) {
		t.Fatalf("expected UTC timestamp, got %v", out.UpdatedAt)
	}
	if out.Value != "arn:aws:kms:us-east-1:111122223333:key/abc" || out.StackName != "license" {
		t.Fatalf("unexpected resolved output %+v", out)
	}
}
