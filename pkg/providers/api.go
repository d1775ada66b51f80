package providers

import "github.com/ekaya-inc/resource-engine/pkg/models"

// Recognized usage_info keys for API definitions.
var apiUsageKeys = []string{"base_url", "method", "auth_type", "openapi_path"}

// NewAPIProvider enumerates API definitions from a backing registry.
func NewAPIProvider(client RegistryClient) ResourceProvider {
	return &registryProvider{
		kind:      models.ResourceTypeAPI,
		table:     "api_definitions",
		usageKeys: apiUsageKeys,
		client:    client,
	}
}
