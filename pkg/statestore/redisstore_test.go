package statestore

import "testing"

// These tests exercise only pure helpers (Redis key naming, SlotID, and the
// idle-timeout default), without a live Redis connection.

func TestInstanceKey(t *testing.T) {
	got := instanceKey("model#Qwen/Qwen3-32B")
	want := "diogenes:instance:model#Qwen/Qwen3-32B"
	if got != want {
		t.Errorf("instanceKey() = %q, want %q", got, want)
	}
}

func TestModelAndStatusIndexKeys(t *testing.T) {
	if got, want := modelIndexKey("Qwen/Qwen3-32B"), "diogenes:idx:instances:model:Qwen/Qwen3-32B"; got != want {
		t.Errorf("modelIndexKey() = %q, want %q", got, want)
	}
	if got, want := statusIndexKey(StatusReady), "diogenes:idx:instances:status:ready"; got != want {
		t.Errorf("statusIndexKey() = %q, want %q", got, want)
	}
	if got, want := allInstancesIndexKey(), "diogenes:idx:instances:all"; got != want {
		t.Errorf("allInstancesIndexKey() = %q, want %q", got, want)
	}
}

func TestApiKeyIndexKeys(t *testing.T) {
	if got, want := apiKeyKey("abc123"), "diogenes:apikey:abc123"; got != want {
		t.Errorf("apiKeyKey() = %q, want %q", got, want)
	}
	if got, want := apiKeyEmailIndexKey("a@x.com"), "diogenes:idx:apikeys:email:a@x.com"; got != want {
		t.Errorf("apiKeyEmailIndexKey() = %q, want %q", got, want)
	}
}

func TestSlotID(t *testing.T) {
	if got, want := SlotID("Qwen/Qwen3-32B"), "model#Qwen/Qwen3-32B"; got != want {
		t.Errorf("SlotID() = %q, want %q", got, want)
	}
}

func TestIdleTimeoutSecondsDefault(t *testing.T) {
	cfg := ModelConfig{Name: "m"}
	if got := cfg.IdleTimeoutSeconds(); got != DefaultIdleTimeoutSeconds {
		t.Errorf("IdleTimeoutSeconds() = %d, want %d", got, DefaultIdleTimeoutSeconds)
	}

	cfg.IdleTimeout = 60
	if got := cfg.IdleTimeoutSeconds(); got != 60 {
		t.Errorf("IdleTimeoutSeconds() = %d, want 60", got)
	}
}
