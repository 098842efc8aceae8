// Package cluster aggregates per-model instance state for operational
// visibility and exposes a manual scale override, sharing the orchestrator's
// cold-start trigger and reap sequencing rather than duplicating either.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wiggzz/diogenes/pkg/router"
	"github.com/wiggzz/diogenes/pkg/statestore"
)

// ErrInvalidInput is returned for an empty model or an action outside
// {"up", "down"}.
var ErrInvalidInput = errors.New("cluster: invalid input")

// ErrUnknownModel is returned when no ModelConfig exists for the model.
var ErrUnknownModel = errors.New("cluster: unknown model")

// Reaper drives a single ready or starting instance through the
// draining -> terminate -> terminated sequence. Orchestrator satisfies this.
type Reaper interface {
	ReapInstance(ctx context.Context, inst statestore.Instance) error
}

// Cluster reports aggregate instance state and accepts manual scale requests.
type Cluster struct {
	store   statestore.Store
	trigger router.TriggerFunc
	reaper  Reaper
}

// New builds a Cluster backed by store, firing trigger on manual scale-up
// and delegating manual scale-down to reaper.
func New(store statestore.Store, trigger router.TriggerFunc, reaper Reaper) *Cluster {
	return &Cluster{store: store, trigger: trigger, reaper: reaper}
}

// ModelState summarizes one configured model's current instance population.
type ModelState struct {
	Name          string `json:"name"`
	InstanceType  string `json:"instance_type"`
	IdleTimeout   int64  `json:"idle_timeout"`
	Status        string `json:"status"`
	ReadyCount    int    `json:"ready_count"`
	StartingCount int    `json:"starting_count"`
	InstanceCount int    `json:"instance_count"`
}

// State is the full cluster snapshot returned by GetClusterState.
type State struct {
	Models    []ModelState          `json:"models"`
	Instances []statestore.Instance `json:"instances"`
}

// GetClusterState summarizes every configured model's instance population,
// excluding terminated instances from both the per-model counts and the
// returned instance list.
func (c *Cluster) GetClusterState(ctx context.Context) (State, error) {
	models, err := c.store.ListModelConfigs(ctx)
	if err != nil {
		return State{}, fmt.Errorf("cluster: listing model configs: %w", err)
	}
	instances, err := c.store.ListInstances(ctx, statestore.ListInstancesFilter{})
	if err != nil {
		return State{}, fmt.Errorf("cluster: listing instances: %w", err)
	}

	live := make([]statestore.Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.Status != statestore.StatusTerminated {
			live = append(live, inst)
		}
	}

	states := make([]ModelState, 0, len(models))
	for _, cfg := range models {
		var readyCount, startingCount, total int
		for _, inst := range live {
			if inst.Model != cfg.Name {
				continue
			}
			total++
			switch inst.Status {
			case statestore.StatusReady:
				readyCount++
			case statestore.StatusStarting, statestore.StatusDraining:
				startingCount++
			}
		}

		status := "cold"
		if readyCount > 0 {
			status = "ready"
		} else if startingCount > 0 {
			status = "warming"
		}

		states = append(states, ModelState{
			Name:          cfg.Name,
			InstanceType:  cfg.InstanceType,
			IdleTimeout:   cfg.IdleTimeoutSeconds(),
			Status:        status,
			ReadyCount:    readyCount,
			StartingCount: startingCount,
			InstanceCount: total,
		})
	}

	return State{Models: states, Instances: live}, nil
}

// ScaleResult is the response payload for ManualScale.
type ScaleResult struct {
	OK         bool   `json:"ok"`
	Model      string `json:"model,omitempty"`
	Action     string `json:"action,omitempty"`
	Message    string `json:"message,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
}

// ManualScale requests an immediate scale-up trigger or drives a ready (or,
// failing that, starting) instance down through the same sequence scaleDown
// uses.
func (c *Cluster) ManualScale(ctx context.Context, model, action string) (ScaleResult, error) {
	if model == "" {
		return ScaleResult{}, fmt.Errorf("%w: model is required", ErrInvalidInput)
	}

	if _, err := c.store.GetModelConfig(ctx, model); err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return ScaleResult{}, fmt.Errorf("%w: %s", ErrUnknownModel, model)
		}
		return ScaleResult{}, fmt.Errorf("cluster: looking up model config: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(action)) {
	case "up":
		c.trigger(model)
		return ScaleResult{OK: true, Model: model, Action: "up", Message: "scale-up requested"}, nil

	case "down":
		candidates, err := c.store.ListInstances(ctx, statestore.ListInstancesFilter{Model: model, Status: statestore.StatusReady})
		if err != nil {
			return ScaleResult{}, fmt.Errorf("cluster: listing ready instances: %w", err)
		}
		if len(candidates) == 0 {
			candidates, err = c.store.ListInstances(ctx, statestore.ListInstancesFilter{Model: model, Status: statestore.StatusStarting})
			if err != nil {
				return ScaleResult{}, fmt.Errorf("cluster: listing starting instances: %w", err)
			}
		}
		if len(candidates) == 0 {
			return ScaleResult{OK: true, Message: "no running instances"}, nil
		}

		target := candidates[0]
		if err := c.reaper.ReapInstance(ctx, target); err != nil {
			return ScaleResult{}, fmt.Errorf("cluster: reaping instance: %w", err)
		}
		return ScaleResult{OK: true, Model: model, Action: "down", InstanceID: target.InstanceID}, nil

	default:
		return ScaleResult{}, fmt.Errorf("%w: unsupported scale action %q", ErrInvalidInput, action)
	}
}
