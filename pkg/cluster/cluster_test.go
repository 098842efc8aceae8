package cluster

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wiggzz/diogenes/pkg/compute"
	"github.com/wiggzz/diogenes/pkg/orchestrator"
	"github.com/wiggzz/diogenes/pkg/statestore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedModel(t *testing.T, store *statestore.MemStore, name string) {
	t.Helper()
	if err := store.PutModelConfig(context.Background(), statestore.ModelConfig{
		Name:         name,
		InstanceType: "g5.xlarge",
	}); err != nil {
		t.Fatalf("seeding model config: %v", err)
	}
}

// Two models: one ready, one cold.
func TestGetClusterStateAggregation(t *testing.T) {
	store := statestore.NewMemStore()
	seedModel(t, store, "ready-model")
	seedModel(t, store, "cold-model")

	now := time.Now().Unix()
	if err := store.PutInstance(context.Background(), statestore.Instance{
		InstanceID:    "model#ready-model",
		Model:         "ready-model",
		Status:        statestore.StatusReady,
		LaunchedAt:    now,
		LastRequestAt: now,
	}); err != nil {
		t.Fatalf("seeding ready instance: %v", err)
	}
	if err := store.PutInstance(context.Background(), statestore.Instance{
		InstanceID: "model#stale",
		Model:      "cold-model",
		Status:     statestore.StatusTerminated,
		LaunchedAt: now,
	}); err != nil {
		t.Fatalf("seeding terminated instance: %v", err)
	}

	orch := orchestrator.New(store, compute.NewMockBackend(), discardLogger())
	c := New(store, func(string) {}, orch)

	state, err := c.GetClusterState(context.Background())
	if err != nil {
		t.Fatalf("GetClusterState: %v", err)
	}
	if len(state.Models) != 2 {
		t.Fatalf("models = %d, want 2", len(state.Models))
	}
	for _, m := range state.Models {
		switch m.Name {
		case "ready-model":
			if m.Status != "ready" || m.ReadyCount != 1 {
				t.Fatalf("ready-model state = %+v", m)
			}
		case "cold-model":
			if m.Status != "cold" || m.InstanceCount != 0 {
				t.Fatalf("cold-model state = %+v", m)
			}
		}
	}
	for _, inst := range state.Instances {
		if inst.Status == statestore.StatusTerminated {
			t.Fatalf("terminated instance leaked into instances list: %+v", inst)
		}
	}
}

func TestManualScaleUpTriggersOnce(t *testing.T) {
	store := statestore.NewMemStore()
	seedModel(t, store, "m")

	var triggered []string
	orch := orchestrator.New(store, compute.NewMockBackend(), discardLogger())
	c := New(store, func(model string) { triggered = append(triggered, model) }, orch)

	result, err := c.ManualScale(context.Background(), "m", "up")
	if err != nil {
		t.Fatalf("ManualScale: %v", err)
	}
	if !result.OK || result.Action != "up" {
		t.Fatalf("result = %+v", result)
	}
	if len(triggered) != 1 || triggered[0] != "m" {
		t.Fatalf("triggered = %v, want exactly one trigger for m", triggered)
	}
}

// Manual scale-down drives a ready instance through draining
// before terminated, calling compute.Terminate exactly once.
func TestManualScaleDownMirrorsScaleDownSequencing(t *testing.T) {
	store := statestore.NewMemStore()
	seedModel(t, store, "m")

	now := time.Now().Unix()
	if err := store.PutInstance(context.Background(), statestore.Instance{
		InstanceID:         "model#m",
		ProviderInstanceID: "i-123",
		Model:              "m",
		Status:             statestore.StatusReady,
		LaunchedAt:         now,
		LastRequestAt:      now,
	}); err != nil {
		t.Fatalf("seeding instance: %v", err)
	}

	backend := compute.NewMockBackend()
	orch := orchestrator.New(store, backend, discardLogger())
	c := New(store, func(string) {}, orch)

	result, err := c.ManualScale(context.Background(), "m", "down")
	if err != nil {
		t.Fatalf("ManualScale: %v", err)
	}
	if !result.OK || result.Action != "down" || result.InstanceID != "model#m" {
		t.Fatalf("result = %+v", result)
	}
	if len(backend.Terminated) != 1 || backend.Terminated[0] != "i-123" {
		t.Fatalf("terminated = %v, want exactly one call for i-123", backend.Terminated)
	}

	inst, err := store.GetInstance(context.Background(), "model#m")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst.Status != statestore.StatusTerminated {
		t.Fatalf("final status = %v, want terminated", inst.Status)
	}
}

func TestManualScaleDownNoInstances(t *testing.T) {
	store := statestore.NewMemStore()
	seedModel(t, store, "m")

	orch := orchestrator.New(store, compute.NewMockBackend(), discardLogger())
	c := New(store, func(string) {}, orch)

	result, err := c.ManualScale(context.Background(), "m", "down")
	if err != nil {
		t.Fatalf("ManualScale: %v", err)
	}
	if !result.OK || result.Message != "no running instances" {
		t.Fatalf("result = %+v", result)
	}
}

func TestManualScaleUnknownModel(t *testing.T) {
	store := statestore.NewMemStore()
	orch := orchestrator.New(store, compute.NewMockBackend(), discardLogger())
	c := New(store, func(string) {}, orch)

	if _, err := c.ManualScale(context.Background(), "nope", "up"); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestManualScaleInvalidAction(t *testing.T) {
	store := statestore.NewMemStore()
	seedModel(t, store, "m")
	orch := orchestrator.New(store, compute.NewMockBackend(), discardLogger())
	c := New(store, func(string) {}, orch)

	if _, err := c.ManualScale(context.Background(), "m", "sideways"); err == nil {
		t.Fatal("expected error for invalid action")
	}
}
