package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClient talks to any OpenAI-compatible embeddings endpoint.
type OpenAIClient struct {
	client    *openai.Client
	endpoint  string
	model     string
	dimension int
	timeout   time.Duration
	maxBatch  int
	logger    *zap.Logger
}

// Config holds configuration for creating an embedding client.
type Config struct {
	Endpoint  string        // Base URL, e.g. "https://api.openai.com/v1"
	Model     string        // Model name, e.g. "text-embedding-3-small"
	APIKey    string        // Optional for local endpoints
	Dimension int           // Fixed embedding dimension for the model
	Timeout   time.Duration // Per-request timeout (default 30s)
	MaxBatch  int           // Max texts per batch request (default 64)
}

// NewOpenAIClient creates a new OpenAI-compatible embedding client.
func NewOpenAIClient(cfg *Config, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", cfg.Dimension)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBatch := cfg.MaxBatch
	if maxBatch < 1 {
		maxBatch = 64
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &OpenAIClient{
		client:    openai.NewClientWithConfig(clientConfig),
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		timeout:   timeout,
		maxBatch:  maxBatch,
		logger:    logger.Named("embedding"),
	}, nil
}

// Embed generates an embedding vector for a single text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts, chunking requests at
// the configured batch size. Output order matches input order.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.maxBatch {
		end := start + c.maxBatch
		if end > len(texts) {
			end = len(texts)
		}

		chunk, err := c.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, chunk...)
	}

	return vectors, nil
}

func (c *OpenAIClient) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	})
	if err != nil {
		c.logger.Warn("embedding request failed",
			zap.Int("texts", len(texts)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		classified := ClassifyError(err)
		classified.Model = c.model
		return nil, classified
	}

	if len(resp.Data) != len(texts) {
		return nil, NewError(ErrorTypeUnknown,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data)), false, nil)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) != c.dimension {
			embErr := NewError(ErrorTypeDimension,
				fmt.Sprintf("provider returned dimension %d, expected %d", len(d.Embedding), c.dimension),
				false, nil)
			embErr.Model = c.model
			return nil, embErr
		}
		vectors[i] = d.Embedding
	}

	c.logger.Debug("embedding request completed",
		zap.Int("texts", len(texts)),
		zap.Duration("elapsed", time.Since(start)))

	return vectors, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Dimension returns the fixed embedding dimension.
func (c *OpenAIClient) Dimension() int {
	return c.dimension
}
