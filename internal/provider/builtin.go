package provider

import "net/http"

// RegisterBuiltins wires the built-in provider pack into a registry.
// All HTTP-based providers share the given client.
func RegisterBuiltins(r *Registry, client *http.Client) {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	r.Register(NewWebhookProvider(client))
	r.Register(NewHTTPProvider(client))
	r.Register(NewLogicProvider())
	r.Register(NewJQProvider())
	r.Register(NewExprProvider())
}
