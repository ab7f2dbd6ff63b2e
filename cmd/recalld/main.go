package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/recallgraph/recalld/internal/cache"
	"github.com/recallgraph/recalld/internal/config"
	"github.com/recallgraph/recalld/internal/embedder"
	"github.com/recallgraph/recalld/internal/engine"
	"github.com/recallgraph/recalld/internal/events"
	"github.com/recallgraph/recalld/internal/extractor"
	"github.com/recallgraph/recalld/internal/graphstore"
	"github.com/recallgraph/recalld/internal/locks"
	"github.com/recallgraph/recalld/internal/models"
	"github.com/recallgraph/recalld/internal/vectorstore"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "recalld",
		Short: "recalld — dual-store memory service for AI agents",
		Long:  "recalld coordinates a vector store and a knowledge graph into one scoped memory service with hybrid retrieval, conflict tracking, and project rollups.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		mcpCmd(),
		saveCmd(),
		searchCmd(),
		contextCmd(),
		getCmd(),
		listCmd(),
		resolveCmd(),
		milestoneCmd(),
		sweepCmd(),
		auditCmd(),
		validateCmd(),
		stateCmd(),
		evolutionCmd(),
		statusCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newEmbedder(logger *slog.Logger) embedder.Embedder {
	switch cfg.Engine.EmbedProvider {
	case "openai":
		return embedder.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.Dimension, logger)
	case "hashing":
		return embedder.NewHashingEmbedder(cfg.Ollama.Dimension)
	default:
		return embedder.NewOllamaEmbedder(cfg.Ollama.BaseURL, cfg.Ollama.Model, cfg.Ollama.Dimension, logger)
	}
}

func newExtractor(logger *slog.Logger) extractor.Extractor {
	if cfg.Claude.APIKey != "" {
		return extractor.NewClaudeExtractor(cfg.Claude.APIKey, cfg.Claude.Model, logger)
	}
	logger.Warn("no claude api key configured, using rule-based extraction")
	return extractor.NewRuleBasedExtractor()
}

// newEngine wires every port from the config and returns the ready engine.
// The caller owns shutdown via engine.Close.
func newEngine(ctx context.Context, logger *slog.Logger) (*engine.Engine, error) {
	dimension := cfg.Ollama.Dimension
	if cfg.Engine.EmbedProvider == "openai" {
		dimension = cfg.OpenAI.Dimension
	}

	vectors, err := vectorstore.NewQdrantStore(
		cfg.Qdrant.Host,
		cfg.Qdrant.GRPCPort,
		cfg.Qdrant.Collection,
		uint64(dimension),
		cfg.Qdrant.UseTLS,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	if err := vectors.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensuring collection: %w", err)
	}

	var graph graphstore.Store
	if cfg.Neo4j.URI != "" {
		graph, err = graphstore.NewNeo4jStore(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to neo4j: %w", err)
		}
	} else {
		logger.Warn("no neo4j uri configured, using in-process graph store")
		graph = graphstore.NewMemoryGraph()
	}

	var (
		cacheStore  cache.Cache
		bus         events.Bus
		lockManager locks.Manager
	)
	if cfg.Redis.Addr != "" {
		newClient := func() *redis.Client {
			return redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
		}
		cacheStore = cache.NewRedisCache(newClient(), logger)
		bus = events.NewRedisBus(newClient(), logger)
		lockManager = locks.NewRedisManager(newClient(), logger)
	} else {
		if cfg.Engine.ClusterMode {
			return nil, fmt.Errorf("cluster_mode requires redis.addr")
		}
		logger.Warn("no redis address configured, using in-process cache, bus, and locks")
		cacheStore = cache.NewLocalCache()
		bus = events.NewLocalBus()
		lockManager = locks.NewLocalManager()
	}

	opts := engine.DefaultOptions()
	opts.ConflictThreshold = cfg.Engine.ConflictThreshold
	opts.Weights = cfg.Engine.RankWeights
	opts.FreshnessDecayDays = cfg.Engine.FreshnessDecayDays
	opts.AuditWeights = cfg.Engine.AuditWeights
	if cfg.Engine.LockTTL > 0 {
		opts.LockTTL = cfg.Engine.LockTTL
	}
	if cfg.Engine.CacheTTL > 0 {
		opts.CacheTTL = cfg.Engine.CacheTTL
	}
	opts.ContextMinConfidence = cfg.Engine.ContextMinConfidence
	opts.ContextK = cfg.Engine.ContextK
	opts.MaxHops = cfg.Engine.MaxHops
	opts.SweepInterval = cfg.Engine.SweepInterval
	opts.Compensation.Workers = cfg.Engine.CompensationWorkers
	opts.Compensation.MaxAttempts = cfg.Engine.CompensationAttempts
	opts.ClusterMode = cfg.Engine.ClusterMode

	eng := engine.New(engine.Ports{
		Vectors:   vectors,
		Graph:     graph,
		Embedder:  newEmbedder(logger),
		Extractor: newExtractor(logger),
		Cache:     cacheStore,
		Bus:       bus,
		Locks:     lockManager,
	}, opts, nil, logger)
	return eng, nil
}

// scopeFlags adds the shared scope flags to a CLI command.
func scopeFlags(cmd *cobra.Command) {
	cmd.Flags().String("tenant", "default", "tenant identifier")
	cmd.Flags().String("user", "default", "user identifier")
	cmd.Flags().String("agent", "", "agent identifier")
	cmd.Flags().String("session", "", "session identifier")
	cmd.Flags().String("project", "", "project identifier")
}

func scopeFromFlags(cmd *cobra.Command) models.Scope {
	get := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return models.Scope{
		Tenant:  get("tenant"),
		User:    get("user"),
		Agent:   get("agent"),
		Session: get("session"),
		Project: get("project"),
	}
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
