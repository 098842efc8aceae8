package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPBackend delegates launch/terminate to an external provisioning
// service over HTTP, grounded on the same do()-helper shape used for the
// worker health/proxy client.
type HTTPBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPBackend creates a provisioning client against baseURL.
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

type launchRequest struct {
	ModelName    string `json:"model_name"`
	InstanceType string `json:"instance_type"`
	VLLMArgs     string `json:"vllm_args"`
}

type launchResponse struct {
	ProviderInstanceID string `json:"provider_instance_id"`
	IP                 string `json:"ip"`
}

// Launch asks the provisioning service to start a node for the given model
// config and waits for it to report a provider id and IP.
func (b *HTTPBackend) Launch(ctx context.Context, modelName, instanceType, vllmArgs string) (Launched, error) {
	var resp launchResponse
	req := launchRequest{ModelName: modelName, InstanceType: instanceType, VLLMArgs: vllmArgs}
	if err := b.do(ctx, http.MethodPost, "/launch", req, &resp); err != nil {
		return Launched{}, fmt.Errorf("launching instance: %w", err)
	}
	return Launched{ProviderInstanceID: resp.ProviderInstanceID, IP: resp.IP}, nil
}

// Terminate asks the provisioning service to tear down a node.
func (b *HTTPBackend) Terminate(ctx context.Context, providerInstanceID string) error {
	path := "/instances/" + providerInstanceID
	if err := b.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("terminating instance: %w", err)
	}
	return nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("compute backend error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

var _ Backend = (*HTTPBackend)(nil)
