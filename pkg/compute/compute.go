// Package compute defines the Backend contract the orchestrator uses to
// provision and tear down worker nodes, and provides a mock implementation
// for tests plus an HTTP-delegating implementation for a real provisioning
// service.
package compute

import "context"

// Launched is the result of a successful Launch call.
type Launched struct {
	ProviderInstanceID string
	IP                 string
}

// Backend provisions and tears down compute nodes. Implementing only
// launch/terminate is an explicit boundary: the actual node lifecycle is an
// external collaborator, not part of this core.
type Backend interface {
	Launch(ctx context.Context, modelName, instanceType, vllmArgs string) (Launched, error)
	Terminate(ctx context.Context, providerInstanceID string) error
}
