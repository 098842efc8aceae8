package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wiggzz/diogenes/pkg/statestore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMiddlewareRejectsMissingBearer(t *testing.T) {
	store := statestore.NewMemStore()
	mw := Middleware(store, "dio-", discardLogger())

	called := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if called {
		t.Fatal("handler should not run without a bearer token")
	}
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestMiddlewareRejectsInvalidToken(t *testing.T) {
	store := statestore.NewMemStore()
	mw := Middleware(store, "dio-", discardLogger())

	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for an invalid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer dio-not-a-real-key")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestMiddlewareAcceptsValidTokenAndAttachesIdentity(t *testing.T) {
	store := statestore.NewMemStore()
	raw := "dio-validtoken"
	if err := store.PutApiKey(context.Background(), statestore.ApiKey{
		KeyHash: hashAPIKey(raw),
		Email:   "user@example.com",
		Name:    "ci",
	}); err != nil {
		t.Fatalf("PutApiKey: %v", err)
	}

	mw := Middleware(store, "dio-", discardLogger())

	var gotIdentity *Identity
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotIdentity == nil || gotIdentity.Email != "user@example.com" {
		t.Fatalf("identity = %+v, want Email=user@example.com", gotIdentity)
	}
}
