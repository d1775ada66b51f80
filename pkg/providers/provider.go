// Package providers turns heterogeneous backing registries into uniform
// catalog resources. One provider per resource kind; all providers are
// read-only, idempotent mappers registered explicitly at process startup.
package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/ekaya-inc/resource-engine/pkg/models"
)

// ResourceProvider enumerates resources of one kind from its backing store.
// Discover must be idempotent: unchanged backing data yields resources with
// identical field values. A provider failure is isolated by the discovery
// coordinator; it never aborts the run for other providers.
type ResourceProvider interface {
	// Name identifies the provider in reports and logs.
	Name() string

	// Kind is the resource type this provider enumerates.
	Kind() models.ResourceType

	// Discover lists all resources of this provider's kind.
	Discover(ctx context.Context) ([]*models.Resource, error)
}

// Registry holds the providers registered at startup. No runtime scanning or
// reflection: anything discoverable is registered here explicitly.
type Registry struct {
	mu        sync.RWMutex
	providers []ResourceProvider
	byKind    map[models.ResourceType]ResourceProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		byKind: make(map[models.ResourceType]ResourceProvider),
	}
}

// Register adds a provider. At most one provider per resource kind.
func (r *Registry) Register(p ResourceProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKind[p.Kind()]; exists {
		return fmt.Errorf("provider for kind %q already registered", p.Kind())
	}
	r.byKind[p.Kind()] = p
	r.providers = append(r.providers, p)
	return nil
}

// Providers returns the registered providers in registration order.
func (r *Registry) Providers() []ResourceProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ResourceProvider, len(r.providers))
	copy(out, r.providers)
	return out
}

// ForKind returns the provider for one resource kind, if registered.
func (r *Registry) ForKind(kind models.ResourceType) (ResourceProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byKind[kind]
	return p, ok
}
