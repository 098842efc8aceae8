package apikey

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/wiggzz/diogenes/pkg/statestore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateKeyRawTokenHashesToStoredKey(t *testing.T) {
	store := statestore.NewMemStore()
	svc := NewService(store, discardLogger())

	resp, err := svc.CreateKey(context.Background(), "user@example.com", "ci")
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if !strings.HasPrefix(resp.Key, KeyPrefix) {
		t.Fatalf("raw key %q missing prefix %q", resp.Key, KeyPrefix)
	}
	if resp.KeyID != HashAPIKey(resp.Key) {
		t.Fatalf("KeyID = %q, want hash of raw key", resp.KeyID)
	}

	stored, err := store.GetApiKey(context.Background(), resp.KeyID)
	if err != nil {
		t.Fatalf("GetApiKey: %v", err)
	}
	if stored.Email != "user@example.com" || stored.Name != "ci" {
		t.Fatalf("stored key = %+v", stored)
	}
}

func TestListKeysScopedToEmail(t *testing.T) {
	store := statestore.NewMemStore()
	svc := NewService(store, discardLogger())

	if _, err := svc.CreateKey(context.Background(), "a@example.com", "key-a"); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if _, err := svc.CreateKey(context.Background(), "b@example.com", "key-b"); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	keys, err := svc.ListKeys(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 1 || keys[0].Name != "key-a" {
		t.Fatalf("keys = %+v, want exactly key-a", keys)
	}
}

func TestDeleteKeyRequiresOwnership(t *testing.T) {
	store := statestore.NewMemStore()
	svc := NewService(store, discardLogger())

	resp, err := svc.CreateKey(context.Background(), "owner@example.com", "ci")
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	deleted, err := svc.DeleteKey(context.Background(), resp.KeyID, "someone-else@example.com")
	if err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	if deleted {
		t.Fatal("expected DeleteKey to refuse a non-owner")
	}

	deleted, err = svc.DeleteKey(context.Background(), resp.KeyID, "owner@example.com")
	if err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	if !deleted {
		t.Fatal("expected DeleteKey to succeed for the owner")
	}

	if _, err := store.GetApiKey(context.Background(), resp.KeyID); err != statestore.ErrNotFound {
		t.Fatalf("expected key to be gone, got err=%v", err)
	}
}

func TestDeleteKeyMissingIsNoop(t *testing.T) {
	store := statestore.NewMemStore()
	svc := NewService(store, discardLogger())

	deleted, err := svc.DeleteKey(context.Background(), "does-not-exist", "owner@example.com")
	if err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	if deleted {
		t.Fatal("expected DeleteKey to report false for a missing key")
	}
}
