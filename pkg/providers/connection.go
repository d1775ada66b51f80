package providers

import "github.com/ekaya-inc/resource-engine/pkg/models"

// Recognized usage_info keys for data connections. Anything else in the
// registry entry's metadata stays opaque.
var connectionUsageKeys = []string{"dialect", "driver", "database", "dsn_env"}

// NewConnectionProvider enumerates data connections from a backing registry.
func NewConnectionProvider(client RegistryClient) ResourceProvider {
	return &registryProvider{
		kind:      models.ResourceTypeConnection,
		table:     "connections",
		usageKeys: connectionUsageKeys,
		client:    client,
	}
}
