// Package embedding provides the embedding-provider client the vectorizer
// and matcher share: an OpenAI-compatible implementation, a classified error
// type feeding the retry package, and a TTL cache for query embeddings.
package embedding

import (
	"context"
)

// Client is the interface to an embedding provider. One model with one fixed
// dimension serves the whole catalog; implementations must reject anything
// else. Use this interface for dependency injection to enable mocking in tests.
type Client interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one request,
	// preserving input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the configured model name.
	Model() string

	// Dimension returns the fixed embedding dimension.
	Dimension() int
}

// Ensure implementations satisfy Client at compile time.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*MockClient)(nil)
)
