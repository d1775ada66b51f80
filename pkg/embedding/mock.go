package embedding

import (
	"context"
)

// MockClient is a configurable mock for testing embedding consumers.
// Set the function fields to control behavior in tests.
type MockClient struct {
	// EmbedFunc is called when Embed is invoked.
	// If nil, returns a zero vector of the configured dimension.
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedBatchFunc is called when EmbedBatch is invoked.
	// If nil, returns zero vectors of the configured dimension.
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName is returned by Model. Defaults to "mock-embedding".
	ModelName string

	// Dim is returned by Dimension. Defaults to 8.
	Dim int

	// Call tracking for verification
	EmbedCalls      int
	EmbedBatchCalls int
}

// NewMockClient creates a new mock with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		ModelName: "mock-embedding",
		Dim:       8,
	}
}

// Embed implements Client.
func (m *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	m.EmbedCalls++
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return make([]float32, m.Dimension()), nil
}

// EmbedBatch implements Client.
func (m *MockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.EmbedBatchCalls++
	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts)
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, m.Dimension())
	}
	return vectors, nil
}

// Model implements Client.
func (m *MockClient) Model() string {
	if m.ModelName == "" {
		return "mock-embedding"
	}
	return m.ModelName
}

// Dimension implements Client.
func (m *MockClient) Dimension() int {
	if m.Dim <= 0 {
		return 8
	}
	return m.Dim
}

// Reset clears call tracking counters.
func (m *MockClient) Reset() {
	m.EmbedCalls = 0
	m.EmbedBatchCalls = 0
}
