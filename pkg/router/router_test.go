package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/wiggzz/diogenes/pkg/statestore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustPort(t *testing.T, rawURL string) int {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing port from %q: %v", rawURL, err)
	}
	return port
}

// No ready instance triggers a cold-start and returns 503 + Retry-After.
func TestHandleInferenceColdStart(t *testing.T) {
	store := statestore.NewMemStore()
	var triggered []string
	trigger := func(model string) { triggered = append(triggered, model) }

	r := New(store, trigger, discardLogger())

	resp := r.HandleInference(context.Background(), "Qwen/Qwen3-32B", []byte(`{"model":"Qwen/Qwen3-32B"}`), "/v1/chat/completions")

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if resp.Headers["Retry-After"] != "10" {
		t.Fatalf("Retry-After = %q, want 10", resp.Headers["Retry-After"])
	}
	if len(triggered) != 1 || triggered[0] != "Qwen/Qwen3-32B" {
		t.Fatalf("triggered = %v, want exactly one trigger for the model", triggered)
	}
}

func TestHandleInferenceMissingModel(t *testing.T) {
	store := statestore.NewMemStore()
	r := New(store, func(string) {}, discardLogger())

	resp := r.HandleInference(context.Background(), "", nil, "/v1/chat/completions")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

// A ready instance gets proxied and last_request_at is updated before the
// proxy call returns.
func TestHandleInferenceProxiesToReadyInstance(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","choices":[]}`))
	}))
	defer upstream.Close()

	store := statestore.NewMemStore()
	now := time.Now().Unix()
	if err := store.PutInstance(context.Background(), statestore.Instance{
		InstanceID:    "model#m",
		Model:         "m",
		Status:        statestore.StatusReady,
		IP:            "127.0.0.1",
		LaunchedAt:    now - 100,
		LastRequestAt: now - 100,
	}); err != nil {
		t.Fatalf("seeding instance: %v", err)
	}

	r := New(store, func(string) { t.Fatal("trigger should not fire for a ready instance") }, discardLogger(),
		WithWorkerPort(mustPort(t, upstream.URL)))

	resp := r.HandleInference(context.Background(), "m", []byte(`{"model":"m"}`), "/v1/chat/completions")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var decoded map[string]any
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if decoded["id"] != "chatcmpl-1" {
		t.Fatalf("body = %v, want passthrough of upstream payload", decoded)
	}

	inst, err := store.GetInstance(context.Background(), "model#m")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst.LastRequestAt <= now-100 {
		t.Fatalf("last_request_at not updated: %d", inst.LastRequestAt)
	}
}

// An upstream transport failure returns 502 and leaves instance status untouched.
func TestHandleInferenceProxyTransportFailure(t *testing.T) {
	store := statestore.NewMemStore()
	now := time.Now().Unix()
	if err := store.PutInstance(context.Background(), statestore.Instance{
		InstanceID:    "model#m",
		Model:         "m",
		Status:        statestore.StatusReady,
		IP:            "127.0.0.1",
		LaunchedAt:    now,
		LastRequestAt: now,
	}); err != nil {
		t.Fatalf("seeding instance: %v", err)
	}

	// Nothing listens on this port; Dial will fail.
	r := New(store, func(string) {}, discardLogger(), WithWorkerPort(1))

	resp := r.HandleInference(context.Background(), "m", []byte(`{"model":"m"}`), "/v1/chat/completions")

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}

	inst, err := store.GetInstance(context.Background(), "model#m")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst.Status != statestore.StatusReady {
		t.Fatalf("status = %v, want untouched (ready)", inst.Status)
	}
}

func TestListModels(t *testing.T) {
	store := statestore.NewMemStore()
	if err := store.PutModelConfig(context.Background(), statestore.ModelConfig{Name: "m1", InstanceType: "g5.xlarge"}); err != nil {
		t.Fatalf("seeding model config: %v", err)
	}

	r := New(store, func(string) {}, discardLogger())
	resp, err := r.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "m1" || resp.Data[0].OwnedBy != "diogenes" {
		t.Fatalf("unexpected models response: %+v", resp)
	}
}
