package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/recallgraph/recalld/internal/quality"
	"github.com/recallgraph/recalld/internal/rank"
)

// Config holds all configuration for recalld.
type Config struct {
	Qdrant  QdrantConfig  `mapstructure:"qdrant"`
	Neo4j   Neo4jConfig   `mapstructure:"neo4j"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Ollama  OllamaConfig  `mapstructure:"ollama"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Claude  ClaudeConfig  `mapstructure:"claude"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Logging LoggingConfig `mapstructure:"logging"`
	API     APIConfig     `mapstructure:"api"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// QdrantConfig holds Qdrant vector database connection settings.
type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	GRPCPort   int    `mapstructure:"grpc_port"`
	Collection string `mapstructure:"collection"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// Neo4jConfig holds graph database connection settings. An empty URI
// disables the graph store; the engine degrades to vector-only retrieval.
type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// RedisConfig holds the cache / event bus / lock backend settings. An empty
// address selects the in-process fallbacks.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OllamaConfig holds Ollama embedding service settings.
type OllamaConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
}

// OpenAIConfig holds OpenAI embedding settings, used when provider=openai.
type OpenAIConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
}

// ClaudeConfig holds Anthropic Claude API settings for extraction.
type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// String returns a safe representation of ClaudeConfig with the API key masked.
func (c ClaudeConfig) String() string {
	return fmt.Sprintf("ClaudeConfig{APIKey:%s, Model:%s}", maskAPIKey(c.APIKey), c.Model)
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// EngineConfig holds the coordinator knobs.
type EngineConfig struct {
	EmbedProvider        string          `mapstructure:"embed_provider"` // ollama | openai | hashing
	ConflictThreshold    float64         `mapstructure:"conflict_threshold"`
	FreshnessDecayDays   float64         `mapstructure:"freshness_decay_days"`
	RankWeights          rank.Weights    `mapstructure:"rank_weights"`
	AuditWeights         quality.Weights `mapstructure:"audit_weights"`
	LockTTL              time.Duration   `mapstructure:"lock_ttl"`
	CacheTTL             time.Duration   `mapstructure:"cache_ttl"`
	ContextMinConfidence int             `mapstructure:"context_min_confidence"`
	ContextK             int             `mapstructure:"context_k"`
	MaxHops              int             `mapstructure:"max_hops"`
	SweepInterval        time.Duration   `mapstructure:"sweep_interval"`
	CompensationWorkers  int             `mapstructure:"compensation_workers"`
	CompensationAttempts int             `mapstructure:"compensation_attempts"`
	ClusterMode          bool            `mapstructure:"cluster_mode"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.grpc_port", 6334)
	v.SetDefault("qdrant.collection", "recalld_memories")
	v.SetDefault("qdrant.use_tls", false)

	v.SetDefault("neo4j.uri", "")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.model", "nomic-embed-text")
	v.SetDefault("ollama.dimension", 768)

	v.SetDefault("openai.model", "text-embedding-3-small")
	v.SetDefault("openai.dimension", 1536)

	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")

	v.SetDefault("engine.embed_provider", "ollama")
	v.SetDefault("engine.conflict_threshold", 0.85)
	v.SetDefault("engine.freshness_decay_days", 30.0)
	v.SetDefault("engine.rank_weights.vector", 0.55)
	v.SetDefault("engine.rank_weights.graph", 0.25)
	v.SetDefault("engine.rank_weights.confidence", 0.15)
	v.SetDefault("engine.rank_weights.freshness", 0.05)
	v.SetDefault("engine.audit_weights.expired", 1.0)
	v.SetDefault("engine.audit_weights.conflicted", 1.5)
	v.SetDefault("engine.audit_weights.low_confidence", 0.5)
	v.SetDefault("engine.lock_ttl", "30s")
	v.SetDefault("engine.cache_ttl", "300s")
	v.SetDefault("engine.context_min_confidence", 7)
	v.SetDefault("engine.context_k", 5)
	v.SetDefault("engine.max_hops", 2)
	v.SetDefault("engine.sweep_interval", "60s")
	v.SetDefault("engine.compensation_workers", 2)
	v.SetDefault("engine.compensation_attempts", 5)
	v.SetDefault("engine.cluster_mode", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".recalld"))
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("RECALLD")
	v.AutomaticEnv()

	// Map specific env vars
	_ = v.BindEnv("claude.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("qdrant.host", "RECALLD_QDRANT_HOST")
	_ = v.BindEnv("qdrant.grpc_port", "RECALLD_QDRANT_GRPC_PORT")
	_ = v.BindEnv("neo4j.uri", "RECALLD_NEO4J_URI")
	_ = v.BindEnv("neo4j.password", "RECALLD_NEO4J_PASSWORD")
	_ = v.BindEnv("redis.addr", "RECALLD_REDIS_ADDR")
	_ = v.BindEnv("ollama.base_url", "RECALLD_OLLAMA_BASE_URL")
	_ = v.BindEnv("api.listen_addr", "RECALLD_API_LISTEN_ADDR")
	_ = v.BindEnv("api.auth_token", "RECALLD_API_AUTH_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK, use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	if c.Qdrant.Host == "" {
		return fmt.Errorf("qdrant.host must not be empty")
	}
	if c.Qdrant.Collection == "" {
		return fmt.Errorf("qdrant.collection must not be empty")
	}
	switch c.Engine.EmbedProvider {
	case "ollama":
		if c.Ollama.BaseURL == "" {
			return fmt.Errorf("ollama.base_url must not be empty")
		}
		if c.Ollama.Dimension <= 0 {
			return fmt.Errorf("ollama.dimension must be greater than 0")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key must be set for the openai provider")
		}
		if c.OpenAI.Dimension <= 0 {
			return fmt.Errorf("openai.dimension must be greater than 0")
		}
	case "hashing":
		// Deterministic local embedder, no external settings.
	default:
		return fmt.Errorf("unknown engine.embed_provider %q", c.Engine.EmbedProvider)
	}
	if c.Engine.ConflictThreshold < 0 || c.Engine.ConflictThreshold > 1 {
		return fmt.Errorf("engine.conflict_threshold must be between 0 and 1")
	}
	if c.Engine.FreshnessDecayDays <= 0 {
		return fmt.Errorf("engine.freshness_decay_days must be greater than 0")
	}
	if c.Engine.ContextMinConfidence < 1 || c.Engine.ContextMinConfidence > 10 {
		return fmt.Errorf("engine.context_min_confidence must be between 1 and 10")
	}
	if c.Engine.ContextK <= 0 {
		return fmt.Errorf("engine.context_k must be greater than 0")
	}
	if c.Engine.MaxHops < 1 {
		return fmt.Errorf("engine.max_hops must be at least 1")
	}
	if c.Engine.CompensationAttempts < 1 {
		return fmt.Errorf("engine.compensation_attempts must be at least 1")
	}
	if c.Engine.ClusterMode && c.Redis.Addr == "" {
		return fmt.Errorf("engine.cluster_mode requires redis.addr")
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
