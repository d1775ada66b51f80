package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/resource-engine/pkg/config"
	"github.com/ekaya-inc/resource-engine/pkg/database"
	"github.com/ekaya-inc/resource-engine/pkg/embedding"
	"github.com/ekaya-inc/resource-engine/pkg/logging"
	"github.com/ekaya-inc/resource-engine/pkg/providers"
	"github.com/ekaya-inc/resource-engine/pkg/repositories"
	"github.com/ekaya-inc/resource-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	syncOnStart := flag.Bool("sync", true, "run an incremental sync at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath, Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting resource-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.Int("embedding_dimension", cfg.Embedding.Dimension))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	if err := database.EnsureSchema(ctx, db, cfg.Embedding.Dimension); err != nil {
		logger.Fatal("failed to bootstrap schema", zap.Error(err))
	}

	embedder, err := embedding.NewOpenAIClient(&embedding.Config{
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
		MaxBatch:  cfg.Embedding.MaxBatchSize,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create embedding client", zap.Error(err))
	}

	var queryCache embedding.Cache = embedding.NoopCache{}
	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.String("error", logging.SanitizeError(err)))
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		queryCache = embedding.NewRedisCache(redisClient,
			time.Duration(cfg.Redis.TTLMinutes)*time.Minute, logger)
	}

	resourceRepo := repositories.NewResourceRepository(db)
	vectorRepo := repositories.NewVectorRepository(db)
	matchRepo := repositories.NewMatchRepository(db)
	usageRepo := repositories.NewUsageRepository(db)
	checkpointRepo := repositories.NewCheckpointRepository(db)

	registry := providers.NewRegistry()
	staticRegistry := providers.NewStaticRegistry(&cfg.Registry)
	for _, p := range []providers.ResourceProvider{
		providers.NewConnectionProvider(staticRegistry),
		providers.NewAPIProvider(staticRegistry),
		providers.NewKnowledgeProvider(staticRegistry),
		providers.NewExampleStoreProvider(staticRegistry),
	} {
		if err := registry.Register(p); err != nil {
			logger.Fatal("failed to register provider", zap.Error(err))
		}
	}
	if cfg.Tools.ServerURL != "" {
		lister := providers.NewMCPToolLister(cfg.Tools.ServerURL,
			time.Duration(cfg.Tools.TimeoutSeconds)*time.Second)
		if err := registry.Register(providers.NewToolProvider(lister)); err != nil {
			logger.Fatal("failed to register tool provider", zap.Error(err))
		}
	}

	discovery := services.NewDiscoveryCoordinator(cfg.Discovery, registry, resourceRepo, vectorRepo, logger)
	vectorizer := services.NewVectorizer(cfg.Vectorizer, embedder, resourceRepo, vectorRepo, logger)
	monitor := services.NewMonitor(cfg.Monitor, discovery, vectorizer, resourceRepo, checkpointRepo, logger)
	matcher := services.NewMatcher(cfg.Matcher, embedder, queryCache,
		resourceRepo, vectorRepo, usageRepo, matchRepo, nil, logger)
	usage := services.NewUsageTracker(matchRepo, usageRepo, logger)
	engine := services.NewEngine(cfg.Matcher, matcher, discovery, monitor, usage,
		resourceRepo, vectorRepo, matchRepo, checkpointRepo, logger)

	if *syncOnStart {
		report, err := engine.SyncResources(ctx, false)
		if err != nil {
			logger.Error("startup sync failed", zap.Error(err))
		} else {
			logger.Info("startup sync complete",
				zap.Int("discovered", report.Discovered),
				zap.Int("updated", report.Updated),
				zap.Int("unchanged", report.Unchanged),
				zap.Int("deactivated", report.Deactivated),
				zap.Int("provider_errors", len(report.Errors)))
		}
	}

	if cfg.Monitor.SchedulerEnabled {
		monitor.RunScheduler(ctx, time.Duration(cfg.Monitor.IntervalMinutes)*time.Minute)
	} else {
		logger.Info("scheduler disabled, waiting for shutdown signal")
		<-ctx.Done()
	}

	logger.Info("resource-engine stopped")
}
