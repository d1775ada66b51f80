package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ekaya-inc/resource-engine/pkg/config"
	"github.com/ekaya-inc/resource-engine/pkg/models"
)

// RegistryEntry is the shape every backing registry exposes for listing:
// id, name, description, capabilities, and an opaque metadata map.
type RegistryEntry struct {
	ID           string
	Name         string
	Description  string
	Capabilities []string
	Metadata     map[string]any
}

// RegistryClient is the read-only boundary to a backing registry. The stores
// own their data; the engine only lists it.
type RegistryClient interface {
	List(ctx context.Context, kind models.ResourceType) ([]RegistryEntry, error)
}

// StaticRegistry serves registry entries from configuration. It is the
// reference wiring for deployments without live backing registries; tests
// and real deployments substitute their own RegistryClient.
type StaticRegistry struct {
	entries map[models.ResourceType][]RegistryEntry
}

// NewStaticRegistry builds a StaticRegistry from configuration.
func NewStaticRegistry(cfg *config.RegistryConfig) *StaticRegistry {
	entries := map[models.ResourceType][]RegistryEntry{
		models.ResourceTypeConnection:   convertEntries(cfg.Connections),
		models.ResourceTypeAPI:          convertEntries(cfg.APIs),
		models.ResourceTypeKnowledge:    convertEntries(cfg.Knowledge),
		models.ResourceTypeExampleStore: convertEntries(cfg.ExampleStores),
	}
	return &StaticRegistry{entries: entries}
}

var _ RegistryClient = (*StaticRegistry)(nil)

// List implements RegistryClient.
func (s *StaticRegistry) List(ctx context.Context, kind models.ResourceType) ([]RegistryEntry, error) {
	return s.entries[kind], nil
}

func convertEntries(cfgEntries []config.RegistryEntry) []RegistryEntry {
	entries := make([]RegistryEntry, 0, len(cfgEntries))
	for _, e := range cfgEntries {
		metadata := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			metadata[k] = v
		}
		entries = append(entries, RegistryEntry{
			ID:           e.ID,
			Name:         e.Name,
			Description:  e.Description,
			Capabilities: e.Capabilities,
			Metadata:     metadata,
		})
	}
	return entries
}

// registryProvider is the shared mapper behind the connection, api,
// knowledge, and example-store providers. Kind-specific behavior is the
// origin table name and the set of metadata keys lifted into usage_info.
type registryProvider struct {
	kind      models.ResourceType
	table     string
	usageKeys []string
	client    RegistryClient
}

func (p *registryProvider) Name() string {
	return string(p.kind) + "-provider"
}

func (p *registryProvider) Kind() models.ResourceType {
	return p.kind
}

// Discover lists the backing registry and maps entries into resources.
func (p *registryProvider) Discover(ctx context.Context) ([]*models.Resource, error) {
	entries, err := p.client.List(ctx, p.kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s registry: %w", p.kind, err)
	}

	resources := make([]*models.Resource, 0, len(entries))
	for _, entry := range entries {
		if entry.ID == "" {
			return nil, fmt.Errorf("%s registry returned an entry without an id", p.kind)
		}
		resources = append(resources, p.mapEntry(entry))
	}
	return resources, nil
}

// mapEntry builds the uniform resource for one registry entry. Recognized
// control keys move from metadata into usage_info; everything else passes
// through metadata untyped. Control fields are never read from metadata
// downstream.
func (p *registryProvider) mapEntry(entry RegistryEntry) *models.Resource {
	usageInfo := make(map[string]any)
	metadata := make(map[string]any)
	for k, v := range entry.Metadata {
		if isUsageKey(p.usageKeys, k) {
			usageInfo[k] = v
		} else {
			metadata[k] = v
		}
	}

	return &models.Resource{
		ResourceID:          qualifiedID(p.kind, entry.ID),
		Type:                p.kind,
		Name:                entry.Name,
		Description:         entry.Description,
		Capabilities:        entry.Capabilities,
		UsageInfo:           usageInfo,
		Metadata:            metadata,
		Status:              models.ResourceStatusActive,
		SourceRef:           p.table + ":" + entry.ID,
		VectorizationStatus: models.VectorizationPending,
	}
}

func isUsageKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}

// qualifiedID prefixes the entry id with the resource kind unless the
// backing registry already emits kind-prefixed ids.
func qualifiedID(kind models.ResourceType, id string) string {
	prefix := string(kind) + "_"
	if strings.HasPrefix(id, prefix) {
		return id
	}
	return prefix + id
}

// SortResources orders resources by id for deterministic reports and tests.
func SortResources(resources []*models.Resource) {
	sort.Slice(resources, func(i, j int) bool {
		return resources[i].ResourceID < resources[j].ResourceID
	})
}
