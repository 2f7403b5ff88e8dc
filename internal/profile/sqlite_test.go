package profile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "profiles.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "263771234567"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	p := &Profile{UserID: "263771234567", Name: "Tariro", Surname: "Moyo", DateOfBirth: "2007-03-14"}
	if err := store.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := store.Get(ctx, p.UserID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Tariro" || got.Surname != "Moyo" {
		t.Fatalf("unexpected profile %+v", got)
	}

	p.Surname = "Moyo-Ncube"
	if err := store.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}
	got, _ = store.Get(ctx, p.UserID)
	if got.Surname != "Moyo-Ncube" {
		t.Fatalf("upsert did not replace surname: %+v", got)
	}
}

func TestLinkEmail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.LinkEmail(ctx, "ghost", "a@b.c"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Upsert(ctx, &Profile{UserID: "u1", Name: "A", Surname: "B"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.LinkEmail(ctx, "u1", "student@example.com"); err != nil {
		t.Fatalf("LinkEmail: %v", err)
	}
	got, _ := store.Get(ctx, "u1")
	if got.LinkedEmail != "student@example.com" {
		t.Fatalf("email not linked: %+v", got)
	}
}
