package artifact

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"hookbox/internal/domain"
)

func TestBoltStore_StoreRetrieve(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "artifacts", "store.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	payload := []byte("#!/bin/sh\nexit 0\n")

	h, err := store.Store(ctx, payload)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if !h.Valid() {
		t.Errorf("Expected valid handle, got %q", h)
	}
	if h != HandleFor(payload) {
		t.Errorf("Expected content-addressed handle %q, got %q", HandleFor(payload), h)
	}

	got, err := store.Retrieve(ctx, h)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Expected %q, got %q", payload, got)
	}
}

func TestBoltStore_DeduplicatesContent(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	h1, _ := store.Store(ctx, []byte("same"))
	h2, _ := store.Store(ctx, []byte("same"))
	h3, _ := store.Store(ctx, []byte("different"))

	if h1 != h2 {
		t.Errorf("Expected identical content to share a handle: %q vs %q", h1, h2)
	}
	if h1 == h3 {
		t.Error("Expected different content to get different handles")
	}
}

func TestBoltStore_DeleteAll(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	h1, _ := store.Store(ctx, []byte("one"))
	h2, _ := store.Store(ctx, []byte("two"))

	if err := store.DeleteAll(ctx, []Handle{h1, Handle("unknown")}); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}

	if _, err := store.Retrieve(ctx, h1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for deleted artifact, got %v", err)
	}
	if _, err := store.Retrieve(ctx, h2); err != nil {
		t.Errorf("Expected untouched artifact to remain, got %v", err)
	}
}

func TestBoltStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ctx := context.Background()

	store, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	h, _ := store.Store(ctx, []byte("durable"))
	store.Close()

	reopened, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Retrieve(ctx, h)
	if err != nil {
		t.Fatalf("Retrieve after reopen failed: %v", err)
	}
	if string(got) != "durable" {
		t.Errorf("Expected 'durable', got %q", got)
	}
}

func TestNewBoltStore_EmptyPath(t *testing.T) {
	if _, err := NewBoltStore(""); err == nil {
		t.Error("Expected error for empty path")
	}
}
