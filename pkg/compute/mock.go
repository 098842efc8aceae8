package compute

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockBackend is a test double grounded on the original MockComputeBackend:
// it launches everything onto a single fixed IP and records every call for
// assertions.
type MockBackend struct {
	MockIP string

	mu         sync.Mutex
	Launched   []string
	Terminated []string

	// FailLaunch, when true, causes Launch to return an error instead
	// of a successful placement — used to exercise the provisioning-failure
	// path without needing a real failing provider.
	FailLaunch bool
}

// NewMockBackend returns a MockBackend bound to 127.0.0.1, matching the
// original mock's fixed address.
func NewMockBackend() *MockBackend {
	return &MockBackend{MockIP: "127.0.0.1"}
}

func (b *MockBackend) Launch(_ context.Context, modelName, _ string, _ string) (Launched, error) {
	if b.FailLaunch {
		return Launched{}, fmt.Errorf("mock compute: launch failed for %s", modelName)
	}

	id := "i-mock-" + uuid.NewString()[:8]

	b.mu.Lock()
	b.Launched = append(b.Launched, id)
	b.mu.Unlock()

	return Launched{ProviderInstanceID: id, IP: b.MockIP}, nil
}

func (b *MockBackend) Terminate(_ context.Context, providerInstanceID string) error {
	b.mu.Lock()
	b.Terminated = append(b.Terminated, providerInstanceID)
	b.mu.Unlock()
	return nil
}

var _ Backend = (*MockBackend)(nil)
