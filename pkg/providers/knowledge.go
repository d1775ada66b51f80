package providers

import "github.com/ekaya-inc/resource-engine/pkg/models"

// Recognized usage_info keys for knowledge sources.
var knowledgeUsageKeys = []string{"source_uri", "format", "collection"}

// NewKnowledgeProvider enumerates knowledge sources from a backing registry.
func NewKnowledgeProvider(client RegistryClient) ResourceProvider {
	return &registryProvider{
		kind:      models.ResourceTypeKnowledge,
		table:     "knowledge_sources",
		usageKeys: knowledgeUsageKeys,
		client:    client,
	}
}
