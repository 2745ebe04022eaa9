package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry maps provider names to implementations. It is safe for
// concurrent use; registration normally happens once at startup.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under its name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider and whether it is registered.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke dispatches to the named provider. An unknown provider yields a
// failed Result, and a panicking provider is captured the same way, so
// the engine only ever sees the four-field contract.
func (r *Registry) Invoke(ctx context.Context, provider, action string, params, credentials map[string]any) (res Result) {
	p, ok := r.Get(provider)
	if !ok {
		return Result{
			Success: false,
			Error:   fmt.Sprintf("unknown provider %q", provider),
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			res = Result{
				Success: false,
				Error:   fmt.Sprintf("provider %s panicked: %v", provider, rec),
			}
		}
	}()

	return p.Invoke(ctx, action, params, credentials)
}
