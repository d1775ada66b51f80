package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for resource-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL with pgvector)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional, query-embedding cache)
	Redis RedisConfig `yaml:"redis"`

	// Embedding provider configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Discovery fan-out configuration
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Vectorizer configuration
	Vectorizer VectorizerConfig `yaml:"vectorizer"`

	// Matcher scoring configuration
	Matcher MatcherConfig `yaml:"matcher"`

	// Change monitor / incremental sync configuration
	Monitor MonitorConfig `yaml:"monitor"`

	// Static registry entries for the built-in providers
	Registry RegistryConfig `yaml:"registry"`

	// MCP server the tool provider enumerates
	Tools ToolsConfig `yaml:"tools"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"resource_engine"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"resource_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration for the query-embedding cache.
// Redis is optional; when Host is empty the matcher runs with a no-op cache.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// TTLMinutes is how long cached query embeddings are kept.
	TTLMinutes int `yaml:"ttl_minutes" env:"REDIS_TTL_MINUTES" env-default:"15"`
}

// EmbeddingConfig holds the embedding provider configuration.
// The model and dimension are fixed for the life of the catalog: every stored
// vector must come from the same model, and the vector column is sized to
// Dimension at schema bootstrap.
type EmbeddingConfig struct {
	Endpoint  string `yaml:"endpoint" env:"EMBEDDING_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model     string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey    string `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML
	Dimension int    `yaml:"dimension" env:"EMBEDDING_DIMENSION" env-default:"1536"`
	// TimeoutSeconds bounds a single embedding request.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"EMBEDDING_TIMEOUT_SECONDS" env-default:"30"`
	// MaxBatchSize caps how many texts are sent in one batch request.
	MaxBatchSize int `yaml:"max_batch_size" env:"EMBEDDING_MAX_BATCH_SIZE" env-default:"64"`
}

// DiscoveryConfig holds discovery fan-out settings.
type DiscoveryConfig struct {
	// Concurrency caps how many providers are enumerated in parallel.
	Concurrency int `yaml:"concurrency" env:"DISCOVERY_CONCURRENCY" env-default:"4"`
	// ProviderTimeoutSeconds bounds a single provider's Discover call.
	ProviderTimeoutSeconds int `yaml:"provider_timeout_seconds" env:"DISCOVERY_PROVIDER_TIMEOUT_SECONDS" env-default:"60"`
}

// VectorizerConfig holds vectorization settings.
type VectorizerConfig struct {
	// Concurrency caps how many resources are vectorized in parallel.
	// Independent of discovery and of match serving.
	Concurrency int `yaml:"concurrency" env:"VECTORIZER_CONCURRENCY" env-default:"8"`
	MaxRetries  int `yaml:"max_retries" env:"VECTORIZER_MAX_RETRIES" env-default:"3"`
}

// VectorWeights are the per-vector-type weights used when merging similarity
// scores for one candidate. Heuristic defaults; not renormalized when a
// resource is missing a vector type.
type VectorWeights struct {
	Name         float64 `yaml:"name" env:"MATCHER_WEIGHT_NAME" env-default:"0.3"`
	Description  float64 `yaml:"description" env:"MATCHER_WEIGHT_DESCRIPTION" env-default:"0.4"`
	Capabilities float64 `yaml:"capabilities" env:"MATCHER_WEIGHT_CAPABILITIES" env-default:"0.2"`
	Composite    float64 `yaml:"composite" env:"MATCHER_WEIGHT_COMPOSITE" env-default:"0.1"`
}

// RerankWeights blend base similarity with usage, performance, and context
// signals into the final score.
type RerankWeights struct {
	Similarity  float64 `yaml:"similarity" env:"MATCHER_RERANK_SIMILARITY" env-default:"0.6"`
	Usage       float64 `yaml:"usage" env:"MATCHER_RERANK_USAGE" env-default:"0.2"`
	Performance float64 `yaml:"performance" env:"MATCHER_RERANK_PERFORMANCE" env-default:"0.1"`
	Context     float64 `yaml:"context" env:"MATCHER_RERANK_CONTEXT" env-default:"0.1"`
}

// MatcherConfig holds matcher scoring and input-validation settings.
type MatcherConfig struct {
	Weights VectorWeights `yaml:"weights"`
	Rerank  RerankWeights `yaml:"rerank"`
	// MaxQueryChars rejects oversized queries before embedding.
	MaxQueryChars int `yaml:"max_query_chars" env:"MATCHER_MAX_QUERY_CHARS" env-default:"8192"`
	// UsageWindowDays is the trailing window for the usage-preference signal.
	UsageWindowDays int `yaml:"usage_window_days" env:"MATCHER_USAGE_WINDOW_DAYS" env-default:"30"`
}

// MonitorConfig holds change-monitor settings.
type MonitorConfig struct {
	// IntervalMinutes between incremental sync runs when the built-in
	// scheduler is enabled.
	IntervalMinutes int `yaml:"interval_minutes" env:"MONITOR_INTERVAL_MINUTES" env-default:"15"`
	// BatchSize is how many resources are processed before the checkpoint
	// is advanced and persisted.
	BatchSize int `yaml:"batch_size" env:"MONITOR_BATCH_SIZE" env-default:"16"`
	// SchedulerEnabled runs the built-in ticker loop. Leave false when an
	// external scheduler drives syncs.
	SchedulerEnabled bool `yaml:"scheduler_enabled" env:"MONITOR_SCHEDULER_ENABLED" env-default:"false"`
}

// RegistryEntry describes one resource in a static backing registry.
type RegistryEntry struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Capabilities []string          `yaml:"capabilities"`
	Metadata     map[string]string `yaml:"metadata"`
}

// RegistryConfig holds static registry entries per resource kind.
// These feed the built-in providers; real deployments point the providers at
// their own backing registries instead.
type RegistryConfig struct {
	Connections   []RegistryEntry `yaml:"connections"`
	APIs          []RegistryEntry `yaml:"apis"`
	Knowledge     []RegistryEntry `yaml:"knowledge"`
	ExampleStores []RegistryEntry `yaml:"example_stores"`
}

// ToolsConfig holds the MCP server the tool provider enumerates.
// Tool discovery is skipped when ServerURL is empty.
type ToolsConfig struct {
	ServerURL      string `yaml:"server_url" env:"TOOLS_MCP_SERVER_URL" env-default:""`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"TOOLS_MCP_TIMEOUT_SECONDS" env-default:"30"`
}

// Load reads configuration from the given YAML file with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-field constraints that tags cannot express.
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Discovery.Concurrency < 1 {
		return fmt.Errorf("discovery.concurrency must be at least 1, got %d", c.Discovery.Concurrency)
	}
	if c.Vectorizer.Concurrency < 1 {
		return fmt.Errorf("vectorizer.concurrency must be at least 1, got %d", c.Vectorizer.Concurrency)
	}
	if c.Monitor.BatchSize < 1 {
		return fmt.Errorf("monitor.batch_size must be at least 1, got %d", c.Monitor.BatchSize)
	}

	for name, w := range map[string]float64{
		"weights.name":         c.Matcher.Weights.Name,
		"weights.description":  c.Matcher.Weights.Description,
		"weights.capabilities": c.Matcher.Weights.Capabilities,
		"weights.composite":    c.Matcher.Weights.Composite,
		"rerank.similarity":    c.Matcher.Rerank.Similarity,
		"rerank.usage":         c.Matcher.Rerank.Usage,
		"rerank.performance":   c.Matcher.Rerank.Performance,
		"rerank.context":       c.Matcher.Rerank.Context,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("matcher.%s must be in [0, 1], got %f", name, w)
		}
	}

	return nil
}
