// Package provider hosts the pluggable integrations a plan step can
// dispatch to. Providers report outcomes as data; they never panic
// through the engine and never raise step-level errors.
package provider

import "context"

// Result is the uniform outcome of a provider call. Success=false with
// Error set means the call failed; the engine decides whether to retry.
type Result struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Failure builds a failed Result from an error.
func Failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// Provider executes actions under a single provider name.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, action string, params, credentials map[string]any) Result
}

// Invoker dispatches a call to a named provider. The engine depends on
// this interface, not on the registry.
type Invoker interface {
	Invoke(ctx context.Context, provider, action string, params, credentials map[string]any) Result
}

// CredentialSource supplies per-user credentials for a provider. The
// engine passes the map through to Invoke without interpreting it.
type CredentialSource interface {
	Credentials(ctx context.Context, userID, provider string) (map[string]any, error)
}
