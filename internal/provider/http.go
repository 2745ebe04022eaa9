package provider

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

const defaultHTTPTimeout = 30 * time.Second

// WebhookProvider POSTs a JSON payload to a target URL.
type WebhookProvider struct {
	client *http.Client
}

// NewWebhookProvider creates the webhook provider with a shared client.
func NewWebhookProvider(client *http.Client) *WebhookProvider {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &WebhookProvider{client: client}
}

func (p *WebhookProvider) Name() string { return "webhook" }

func (p *WebhookProvider) Invoke(ctx context.Context, action string, params, _ map[string]any) Result {
	url := paramString(params, "url", "")
	if url == "" {
		return Result{Success: false, Error: "webhook: missing url param"}
	}

	payload := params["payload"]
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Failure(fmt.Errorf("webhook: marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Failure(fmt.Errorf("webhook: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	applyHeaders(req, params)

	return doRequest(p.client, req)
}

// HTTPProvider makes general authenticated REST calls. Credentials can
// carry api_key plus optional auth_header/auth_prefix overrides.
type HTTPProvider struct {
	client *http.Client
}

// NewHTTPProvider creates the http provider with a shared client.
func NewHTTPProvider(client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPProvider{client: client}
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) Invoke(ctx context.Context, action string, params, credentials map[string]any) Result {
	url := paramString(params, "url", "")
	if url == "" {
		base := strings.TrimRight(paramString(params, "base_url", ""), "/")
		endpoint := paramString(params, "endpoint", "")
		if base == "" {
			return Result{Success: false, Error: "http: missing url param"}
		}
		if endpoint != "" && !strings.HasPrefix(endpoint, "/") {
			endpoint = "/" + endpoint
		}
		url = base + endpoint
	}

	method := strings.ToUpper(paramString(params, "method", http.MethodGet))

	var bodyReader io.Reader
	if body, ok := params["body"]; ok && body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Failure(fmt.Errorf("http: marshal body: %w", err))
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return Failure(fmt.Errorf("http: build request: %w", err))
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	applyHeaders(req, params)
	applyAuth(req, credentials)

	return doRequest(p.client, req)
}

// applyHeaders copies a params["headers"] map onto the request.
func applyHeaders(req *http.Request, params map[string]any) {
	headers, ok := params["headers"].(map[string]any)
	if !ok {
		return
	}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}
}

// applyAuth injects an api_key credential as an auth header.
func applyAuth(req *http.Request, credentials map[string]any) {
	if credentials == nil {
		return
	}
	key, _ := credentials["api_key"].(string)
	if key == "" {
		return
	}
	header, _ := credentials["auth_header"].(string)
	if header == "" {
		header = "Authorization"
	}
	prefix, ok := credentials["auth_prefix"].(string)
	if !ok {
		prefix = "Bearer "
	}
	req.Header.Set(header, prefix+key)
}

// doRequest executes the call and folds the response into a Result.
// Non-2xx statuses are failures with the status and body in the error.
func doRequest(client *http.Client, req *http.Request) Result {
	resp, err := client.Do(req)
	if err != nil {
		return Failure(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Failure(fmt.Errorf("read response: %w", err))
	}

	var output any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &output); err != nil {
			output = string(raw)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{
			Success: false,
			Output:  output,
			Error:   fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}
	return Result{
		Success: true,
		Output:  output,
		Message: fmt.Sprintf("status %d", resp.StatusCode),
	}
}

func paramString(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
