// Package router is the request-path decision engine: classify a model as
// cold or warm, either trigger an async cold-start and reject with a retry
// hint, or proxy to a ready instance and keep its last-used timestamp fresh.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wiggzz/diogenes/internal/telemetry"
	"github.com/wiggzz/diogenes/pkg/statestore"
)

// TriggerFunc requests an async cold-start for model. It must return
// immediately; the production wiring spawns a detached goroutine that calls
// Orchestrator.ScaleUp, relying on ScaleUp's own claim mechanism to
// deduplicate concurrent triggers for the same model.
type TriggerFunc func(model string)

// Response is the normalized result of handling an inference request,
// mirroring the shape an HTTP handler writes back verbatim.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

func jsonResponse(status int, v any) Response {
	body, _ := json.Marshal(v)
	return Response{StatusCode: status, Body: body, Headers: map[string]string{"Content-Type": "application/json"}}
}

func errorResponse(status int, message, kind string, headers map[string]string) Response {
	resp := jsonResponse(status, map[string]any{
		"error": map[string]string{"message": message, "type": kind},
	})
	for k, v := range headers {
		resp.Headers[k] = v
	}
	return resp
}

const defaultWorkerPort = 8000

// Router proxies inference requests to ready instances and triggers
// cold-starts on a miss.
type Router struct {
	store      statestore.Store
	trigger    TriggerFunc
	logger     *slog.Logger
	httpClient *http.Client

	workerPort int
}

// Option configures a Router.
type Option func(*Router)

// WithWorkerPort sets the port ready instances serve inference requests on.
func WithWorkerPort(port int) Option {
	return func(r *Router) { r.workerPort = port }
}

// WithProxyTimeout overrides the per-request upstream proxy timeout.
func WithProxyTimeout(d time.Duration) Option {
	return func(r *Router) { r.httpClient.Timeout = d }
}

// New builds a Router backed by store, firing trigger on cold-start misses.
func New(store statestore.Store, trigger TriggerFunc, logger *slog.Logger, opts ...Option) *Router {
	r := &Router{
		store:      store,
		trigger:    trigger,
		logger:     logger,
		workerPort: defaultWorkerPort,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleInference routes a single inference request body to a ready
// instance of model, or triggers a cold-start and returns 503.
func (r *Router) HandleInference(ctx context.Context, model string, body []byte, path string) Response {
	if model == "" {
		return errorResponse(http.StatusBadRequest, "model is required", "invalid_request_error", nil)
	}

	ready, err := r.store.ListInstances(ctx, statestore.ListInstancesFilter{Model: model, Status: statestore.StatusReady})
	if err != nil {
		r.logger.Error("listing ready instances", "model", model, "error", err)
		return errorResponse(http.StatusInternalServerError, "internal error", "internal_error", nil)
	}

	if len(ready) == 0 {
		r.logger.Info("no ready instance, triggering scale-up", "model", model)
		r.trigger(model)
		telemetry.ColdStartsTriggeredTotal.WithLabelValues(model).Inc()
		return errorResponse(http.StatusServiceUnavailable,
			"Model is cold-starting. Retry shortly.", "service_unavailable",
			map[string]string{"Retry-After": "10"})
	}

	target := ready[0]
	now := time.Now().Unix()
	if err := r.store.UpdateInstance(ctx, target.InstanceID, statestore.InstanceFields{LastRequestAt: &now}); err != nil {
		r.logger.Error("updating last_request_at", "instance_id", target.InstanceID, "error", err)
	}

	status, respBody, err := r.proxy(ctx, target.IP, path, body)
	if err != nil {
		telemetry.ProxyRequestsTotal.WithLabelValues(model, "upstream_unavailable").Inc()
		r.logger.Warn("proxy request failed", "instance_id", target.InstanceID, "error", err)
		return errorResponse(http.StatusBadGateway,
			fmt.Sprintf("Upstream inference server unavailable: %v", err), "bad_gateway", nil)
	}

	telemetry.ProxyRequestsTotal.WithLabelValues(model, "ok").Inc()
	return Response{StatusCode: status, Body: respBody, Headers: map[string]string{"Content-Type": "application/json"}}
}

func (r *Router) proxy(ctx context.Context, ip, path string, body []byte) (int, []byte, error) {
	url := fmt.Sprintf("http://%s:%d%s", ip, r.workerPort, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("building proxy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading upstream response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// ModelInfo is a single entry in the OpenAI-compatible model catalog.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is the OpenAI-compatible GET /v1/models response.
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ListModels returns the configured model catalog in OpenAI-compatible form.
func (r *Router) ListModels(ctx context.Context) (ModelsResponse, error) {
	configs, err := r.store.ListModelConfigs(ctx)
	if err != nil {
		return ModelsResponse{}, fmt.Errorf("router: listing model configs: %w", err)
	}

	data := make([]ModelInfo, 0, len(configs))
	for _, cfg := range configs {
		data = append(data, ModelInfo{ID: cfg.Name, Object: "model", OwnedBy: "diogenes"})
	}
	return ModelsResponse{Object: "list", Data: data}, nil
}
