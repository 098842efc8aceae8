// Package orchestrator owns the per-model instance lifecycle state machine:
// cold-start (scaleUp), idle reaping (scaleDown), and the health gate that
// sits between them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wiggzz/diogenes/internal/telemetry"
	"github.com/wiggzz/diogenes/pkg/compute"
	"github.com/wiggzz/diogenes/pkg/statestore"
)

// ErrUnknownModel is returned by ScaleUp when no ModelConfig exists for the
// requested model name.
var ErrUnknownModel = errors.New("orchestrator: unknown model")

// Clock abstracts time.Now so tests can advance the clock deterministically
// without sleeping real wall time.
type Clock func() time.Time

// Orchestrator implements scaleUp/scaleDown against a Store and a compute
// Backend. It holds no in-memory state of its own — every invariant it
// enforces is mediated through the store.
type Orchestrator struct {
	store   statestore.Store
	compute compute.Backend
	logger  *slog.Logger
	now     Clock

	workerPort         int
	healthPollTimeout  time.Duration
	healthPollInterval time.Duration
	healthProbeTimeout time.Duration

	httpClient *http.Client
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the orchestrator's notion of "now", for tests.
func WithClock(now Clock) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithWorkerPort sets the port the worker's /health and /v1 endpoints are
// reached on. Defaults to 8000.
func WithWorkerPort(port int) Option {
	return func(o *Orchestrator) { o.workerPort = port }
}

// WithHealthPoll overrides the health-gate's deadline, poll interval, and
// per-probe timeout.
func WithHealthPoll(timeout, interval, probeTimeout time.Duration) Option {
	return func(o *Orchestrator) {
		o.healthPollTimeout = timeout
		o.healthPollInterval = interval
		o.healthProbeTimeout = probeTimeout
	}
}

const defaultWorkerPort = 8000

// New builds an Orchestrator with sensible default timeouts, overridable
// via Option.
func New(store statestore.Store, backend compute.Backend, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:              store,
		compute:            backend,
		logger:             logger,
		now:                time.Now,
		workerPort:         defaultWorkerPort,
		healthPollTimeout:  800 * time.Second,
		healthPollInterval: 10 * time.Second,
		healthProbeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.httpClient = &http.Client{Timeout: o.healthProbeTimeout}
	return o
}

// ScaleUp is the idempotent cold-start entry point. It returns the Instance
// record reflecting the slot's final state, including terminated when the
// health gate fails (that outcome is not an error). A failed launch marks
// the slot terminated and is returned as an error.
func (o *Orchestrator) ScaleUp(ctx context.Context, modelName string) (*statestore.Instance, error) {
	slot := statestore.SlotID(modelName)

	// 1. Fast-path idempotency + orphan age-out, combined: a stale
	// "starting" row is swept here rather than returned as live.
	if inst, err := o.liveInstance(ctx, modelName); err != nil {
		return nil, err
	} else if inst != nil {
		return inst, nil
	}

	// 2. Tombstone cleanup: a terminated row would block the claim below.
	if err := o.cleanupTerminated(ctx, modelName); err != nil {
		return nil, err
	}

	// 3. Config lookup.
	cfg, err := o.store.GetModelConfig(ctx, modelName)
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: looking up model config: %w", err)
	}

	// 4. Optimistic claim.
	now := o.now().Unix()
	placeholder := statestore.Instance{
		InstanceID:    slot,
		Model:         modelName,
		Status:        statestore.StatusStarting,
		InstanceType:  cfg.InstanceType,
		LaunchedAt:    now,
		LastRequestAt: now,
	}
	claimed, err := o.store.PutInstanceIfAbsent(ctx, placeholder)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: claiming slot: %w", err)
	}
	if !claimed {
		telemetry.ScaleUpTotal.WithLabelValues(modelName, "lost_race").Inc()
		if inst, err := o.liveInstance(ctx, modelName); err != nil {
			return nil, err
		} else if inst != nil {
			return inst, nil
		}
		return &placeholder, nil
	}
	telemetry.ScaleUpTotal.WithLabelValues(modelName, "claimed").Inc()

	// 5. Provision.
	launched, err := o.compute.Launch(ctx, modelName, cfg.InstanceType, cfg.VLLMArgs)
	if err != nil {
		terminated := statestore.StatusTerminated
		if uErr := o.store.UpdateInstance(ctx, slot, statestore.InstanceFields{Status: &terminated}); uErr != nil {
			o.logger.Warn("marking slot terminated after launch failure", "model", modelName, "error", uErr)
		}
		telemetry.ScaleUpTotal.WithLabelValues(modelName, "launch_failed").Inc()
		return nil, fmt.Errorf("orchestrator: launching instance for %s: %w", modelName, err)
	}

	if err := o.store.UpdateInstance(ctx, slot, statestore.InstanceFields{
		ProviderInstanceID: &launched.ProviderInstanceID,
		IP:                 &launched.IP,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: recording launch result: %w", err)
	}

	// 6. Health gate.
	healthy := o.pollHealth(ctx, launched.IP)

	// 7. Finalize.
	if healthy {
		telemetry.HealthCheckTotal.WithLabelValues(modelName, "ready").Inc()
		readyNow := o.now().Unix()
		ready := statestore.StatusReady
		if err := o.store.UpdateInstance(ctx, slot, statestore.InstanceFields{
			Status:        &ready,
			LastRequestAt: &readyNow,
		}); err != nil {
			return nil, fmt.Errorf("orchestrator: marking instance ready: %w", err)
		}
		telemetry.ScaleUpTotal.WithLabelValues(modelName, "ready").Inc()
		return o.store.GetInstance(ctx, slot)
	}

	telemetry.HealthCheckTotal.WithLabelValues(modelName, "failed").Inc()
	if err := o.compute.Terminate(ctx, launched.ProviderInstanceID); err != nil {
		o.logger.Warn("terminating unhealthy instance", "model", modelName, "error", err)
	}
	terminated := statestore.StatusTerminated
	if err := o.store.UpdateInstance(ctx, slot, statestore.InstanceFields{Status: &terminated}); err != nil {
		return nil, fmt.Errorf("orchestrator: marking instance terminated: %w", err)
	}
	telemetry.ScaleUpTotal.WithLabelValues(modelName, "health_failed").Inc()
	return o.store.GetInstance(ctx, slot)
}

// liveInstance returns a starting or ready instance for modelName, or nil if
// none exists. A "starting" row older than twice the health-poll deadline is
// treated as an orphan of a process that died mid-launch: it is deleted
// rather than returned, so the caller proceeds to reclaim the slot.
func (o *Orchestrator) liveInstance(ctx context.Context, modelName string) (*statestore.Instance, error) {
	starting, err := o.store.ListInstances(ctx, statestore.ListInstancesFilter{Model: modelName, Status: statestore.StatusStarting})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: listing starting instances: %w", err)
	}

	staleCutoff := int64(2 * o.healthPollTimeout.Seconds())
	now := o.now().Unix()
	for _, inst := range starting {
		if now-inst.LaunchedAt > staleCutoff {
			o.logger.Warn("reclaiming orphaned starting instance", "model", modelName, "instance_id", inst.InstanceID, "age_seconds", now-inst.LaunchedAt)
			if err := o.store.DeleteInstance(ctx, inst.InstanceID); err != nil {
				return nil, fmt.Errorf("orchestrator: deleting orphaned instance: %w", err)
			}
			continue
		}
		return &inst, nil
	}

	ready, err := o.store.ListInstances(ctx, statestore.ListInstancesFilter{Model: modelName, Status: statestore.StatusReady})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: listing ready instances: %w", err)
	}
	if len(ready) > 0 {
		return &ready[0], nil
	}

	return nil, nil
}

func (o *Orchestrator) cleanupTerminated(ctx context.Context, modelName string) error {
	terminated, err := o.store.ListInstances(ctx, statestore.ListInstancesFilter{Model: modelName, Status: statestore.StatusTerminated})
	if err != nil {
		return fmt.Errorf("orchestrator: listing terminated instances: %w", err)
	}
	for _, inst := range terminated {
		if err := o.store.DeleteInstance(ctx, inst.InstanceID); err != nil {
			return fmt.Errorf("orchestrator: deleting tombstone: %w", err)
		}
	}
	return nil
}

// pollHealth polls GET http://ip:port/health until the first 200 response
// or the wall-clock deadline expires. Probe errors and non-200 statuses are
// swallowed and retried; the loop itself never returns an error.
func (o *Orchestrator) pollHealth(ctx context.Context, ip string) bool {
	deadline := o.now().Add(o.healthPollTimeout)
	url := fmt.Sprintf("http://%s:%d/health", ip, o.workerPort)

	for o.now().Before(deadline) {
		if o.probeOnce(ctx, url) {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(o.healthPollInterval):
		}
	}
	return false
}

func (o *Orchestrator) probeOnce(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// ScaleDown reaps every ready instance whose idle time exceeds its model's
// idle_timeout, returning the slot IDs it reaped.
func (o *Orchestrator) ScaleDown(ctx context.Context) ([]string, error) {
	ready, err := o.store.ListInstances(ctx, statestore.ListInstancesFilter{Status: statestore.StatusReady})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: listing ready instances: %w", err)
	}

	var reaped []string
	now := o.now().Unix()

	for _, inst := range ready {
		idleTimeout := int64(statestore.DefaultIdleTimeoutSeconds)
		if cfg, err := o.store.GetModelConfig(ctx, inst.Model); err == nil {
			idleTimeout = cfg.IdleTimeoutSeconds()
		} else if !errors.Is(err, statestore.ErrNotFound) {
			return nil, fmt.Errorf("orchestrator: looking up model config for reap: %w", err)
		}

		last := inst.LastRequestAt
		if last == 0 {
			last = inst.LaunchedAt
		}
		idle := now - last

		if idle <= idleTimeout {
			continue
		}

		if err := o.reapOne(ctx, inst); err != nil {
			return reaped, err
		}
		reaped = append(reaped, inst.InstanceID)
		telemetry.ScaleDownTotal.WithLabelValues(inst.Model).Inc()
	}

	return reaped, nil
}

// reapOne drives a single ready instance through draining -> terminate ->
// terminated. It is also used by pkg/cluster for manual scale-down, so the
// two paths share the exact same draining-before-terminated ordering.
func (o *Orchestrator) reapOne(ctx context.Context, inst statestore.Instance) error {
	draining := statestore.StatusDraining
	if err := o.store.UpdateInstance(ctx, inst.InstanceID, statestore.InstanceFields{Status: &draining}); err != nil {
		return fmt.Errorf("orchestrator: marking instance draining: %w", err)
	}

	target := inst.ProviderInstanceID
	if target == "" {
		target = inst.InstanceID
	}
	if err := o.compute.Terminate(ctx, target); err != nil {
		o.logger.Warn("terminating instance during reap", "instance_id", inst.InstanceID, "error", err)
	}

	terminated := statestore.StatusTerminated
	if err := o.store.UpdateInstance(ctx, inst.InstanceID, statestore.InstanceFields{Status: &terminated}); err != nil {
		return fmt.Errorf("orchestrator: marking instance terminated: %w", err)
	}
	return nil
}

// ReapInstance exposes reapOne for callers outside this package (the manual
// scale-down path in pkg/cluster) that already hold the Instance to reap.
func (o *Orchestrator) ReapInstance(ctx context.Context, inst statestore.Instance) error {
	return o.reapOne(ctx, inst)
}
