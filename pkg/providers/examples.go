package providers

import "github.com/ekaya-inc/resource-engine/pkg/models"

// Recognized usage_info keys for query-example stores.
var exampleStoreUsageKeys = []string{"store_uri", "query_dialect", "example_count"}

// NewExampleStoreProvider enumerates query-example stores from a backing registry.
func NewExampleStoreProvider(client RegistryClient) ResourceProvider {
	return &registryProvider{
		kind:      models.ResourceTypeExampleStore,
		table:     "example_stores",
		usageKeys: exampleStoreUsageKeys,
		client:    client,
	}
}
