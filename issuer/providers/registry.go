package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/meridianid/issuer/issuer/core"
)

// Bridge is a callback for handing a completed login (the user record with
// its roles and permissions) back to the OAuth/OIDC core. core.Provider does
// not take a Bridge, and nothing in this module calls OnSuccess.
type Bridge interface {
	OnSuccess(ctx context.Context, tenantID string, user *core.User, roles, permissions []string) error
}

// Registry looks providers up by name, the "concrete providers register by
// name" dispatch the upstream-protocol bridge needs.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]core.Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]core.Provider)}
}

// Register adds a provider under its own Name(). A second registration of
// the same name replaces the first.
func (r *Registry) Register(p core.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get looks up a registered provider by name.
func (r *Registry) Get(name string) (core.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not registered", name)
	}
	return p, nil
}

// Names returns every registered provider name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
