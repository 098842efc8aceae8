package apikey

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wiggzz/diogenes/internal/auth"
	"github.com/wiggzz/diogenes/pkg/statestore"
)

func withIdentity(r *http.Request, email string) *http.Request {
	ctx := auth.NewContext(r.Context(), &auth.Identity{Email: email})
	return r.WithContext(ctx)
}

func decodeDeleted(t *testing.T, w *httptest.ResponseRecorder) bool {
	t.Helper()
	var body map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response body %q: %v", w.Body.String(), err)
	}
	return body["deleted"]
}

// DELETE always responds 200 with {"deleted": <bool>}, whether or not the
// key existed, matching the single-shape contract of the rest of the API.
func TestHandleDeleteExistingKeyRespondsDeletedTrue(t *testing.T) {
	store := statestore.NewMemStore()
	svc := NewService(store, discardLogger())
	h := NewHandler(discardLogger(), nil, svc)

	resp, err := svc.CreateKey(context.Background(), "owner@example.com", "ci")
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	r := httptest.NewRequest(http.MethodDelete, "/"+resp.KeyID, nil)
	r = withIdentity(r, "owner@example.com")
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !decodeDeleted(t, w) {
		t.Fatalf("body = %q, want deleted=true", w.Body.String())
	}

	if _, err := store.GetApiKey(context.Background(), resp.KeyID); err == nil {
		t.Fatal("expected key to be removed from the store")
	}
}

func TestHandleDeleteMissingKeyRespondsDeletedFalse(t *testing.T) {
	store := statestore.NewMemStore()
	svc := NewService(store, discardLogger())
	h := NewHandler(discardLogger(), nil, svc)

	r := httptest.NewRequest(http.MethodDelete, "/does-not-exist", nil)
	r = withIdentity(r, "owner@example.com")
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even for a missing key", w.Code)
	}
	if decodeDeleted(t, w) {
		t.Fatal("body reports deleted=true for a key that never existed")
	}
}

func TestHandleDeleteNonOwnerRespondsDeletedFalse(t *testing.T) {
	store := statestore.NewMemStore()
	svc := NewService(store, discardLogger())
	h := NewHandler(discardLogger(), nil, svc)

	resp, err := svc.CreateKey(context.Background(), "owner@example.com", "ci")
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	r := httptest.NewRequest(http.MethodDelete, "/"+resp.KeyID, nil)
	r = withIdentity(r, "intruder@example.com")
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if decodeDeleted(t, w) {
		t.Fatal("body reports deleted=true for a non-owner request")
	}

	if _, err := store.GetApiKey(context.Background(), resp.KeyID); err != nil {
		t.Fatalf("expected key to survive a non-owner delete attempt, got err=%v", err)
	}
}
