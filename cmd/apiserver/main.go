// The apiserver binary serves the athene HTTP API: pipeline triggers,
// graph queries, health probes, and the metrics scrape endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/athene-kg/athene/internal/application/graph"
	"github.com/athene-kg/athene/internal/application/query"
	"github.com/athene-kg/athene/internal/config"
	"github.com/athene-kg/athene/internal/gapanalysis"
	"github.com/athene-kg/athene/internal/graphquery"
	"github.com/athene-kg/athene/internal/infrastructure/database/neo4j"
	neo4jrepo "github.com/athene-kg/athene/internal/infrastructure/database/neo4j/repositories"
	"github.com/athene-kg/athene/internal/infrastructure/database/postgres"
	pgrepo "github.com/athene-kg/athene/internal/infrastructure/database/postgres/repositories"
	"github.com/athene-kg/athene/internal/infrastructure/database/redis"
	"github.com/athene-kg/athene/internal/infrastructure/messaging/kafka"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/prometheus"
	"github.com/athene-kg/athene/internal/infrastructure/search/milvus"
	"github.com/athene-kg/athene/internal/infrastructure/search/opensearch"
	httpserver "github.com/athene-kg/athene/internal/interfaces/http"
	"github.com/athene-kg/athene/internal/interfaces/http/handlers"
	"github.com/athene-kg/athene/internal/interfaces/http/middleware"
	"github.com/athene-kg/athene/internal/llm"
	"github.com/athene-kg/athene/internal/relationships"
	"github.com/athene-kg/athene/internal/resolution"
)

const startupTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment)")
	port := flag.Int("port", 0, "HTTP port override")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("apiserver")
	logger.Info("starting athene apiserver", logging.Int("port", cfg.Server.Port))

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap failed", logging.Err(err))
	}
	defer app.close(logger)

	var jobs handlers.JobPublisher
	if app.producer != nil {
		jobs = app.producer
	}
	router := httpserver.NewRouter(httpserver.RouterConfig{
		Graph:      handlers.NewGraphHandler(app.pipeline, jobs, logger),
		Query:      handlers.NewQueryHandler(app.queries, logger),
		Health:     handlers.NewHealthHandler(app.healthCheckers, app.appMetrics, logger),
		Metrics:    app.collector,
		AppMetrics: app.appMetrics,
		RateLimit:  rateLimitConfig(),
		Mode:       cfg.Server.Mode,
		Logger:     logger,
	})

	srv := httpserver.NewServer(cfg.Server, router, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", logging.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", logging.Err(err))
		}
	}

	if err := srv.Stop(context.Background()); err != nil {
		logger.Error("shutdown error", logging.Err(err))
	}
	logger.Info("apiserver stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadFromEnv()
}

func rateLimitConfig() *middleware.RateLimitConfig {
	cfg := middleware.DefaultRateLimitConfig()
	return &cfg
}

// application bundles everything the router needs plus the resources to
// release on shutdown.
type application struct {
	pipeline       *graph.PipelineService
	queries        *query.Service
	producer       *kafka.Producer
	collector      prometheus.MetricsCollector
	appMetrics     *prometheus.AppMetrics
	healthCheckers map[string]handlers.HealthChecker

	neo     *neo4j.Driver
	pg      *postgres.Connection
	redis   *redis.Client
	milvus  *milvus.Client
	osearch *opensearch.Client
}

func (a *application) close(logger logging.Logger) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logger.Warn("closing kafka producer", logging.Err(err))
		}
	}
	if a.milvus != nil {
		if err := a.milvus.Close(); err != nil {
			logger.Warn("closing milvus client", logging.Err(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Warn("closing redis client", logging.Err(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.neo != nil {
		if err := a.neo.Close(); err != nil {
			logger.Warn("closing neo4j driver", logging.Err(err))
		}
	}
}

func buildApplication(ctx context.Context, cfg *config.Config, logger logging.Logger) (*application, error) {
	app := &application{healthCheckers: map[string]handlers.HealthChecker{}}

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace: "athene",
		Subsystem: "apiserver",
	}, logger)
	if err != nil {
		return nil, err
	}
	app.collector = collector
	app.appMetrics = prometheus.NewAppMetrics(collector)

	// Graph store.
	neoDriver, err := neo4j.NewDriver(cfg.Neo4j, logger)
	if err != nil {
		return nil, err
	}
	app.neo = neoDriver
	app.healthCheckers["neo4j"] = neoDriver
	if err := neoDriver.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	// Analysis store.
	pg, err := postgres.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	app.pg = pg
	app.healthCheckers["postgres"] = pg
	if cfg.Database.MigrationPath != "" {
		if err := postgres.RunMigrations(postgres.DSN(cfg.Database), cfg.Database.MigrationPath); err != nil {
			return nil, err
		}
	}

	// Cache and pipeline lock.
	redisClient, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	app.redis = redisClient
	app.healthCheckers["redis"] = redisClient
	cache := redis.NewCache(redisClient, cfg.Redis.DefaultTTL, logger)
	locks := redis.NewLockManager(redisClient, logger)

	// Job and event bus.
	var events graph.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka, logger)
		if err != nil {
			return nil, err
		}
		app.producer = producer
		events = producer
		if cfg.Kafka.AutoCreateTopics {
			tm, err := kafka.NewTopicManager(cfg.Kafka, logger)
			if err != nil {
				return nil, err
			}
			err = tm.EnsureTopics(ctx)
			tm.Close()
			if err != nil {
				return nil, err
			}
		}
	}

	// Vector index.
	var vectors graph.VectorIndex
	var vectorSearch query.VectorSearcher
	if cfg.Milvus.Enabled {
		mc, err := milvus.NewClient(ctx, cfg.Milvus, logger)
		if err != nil {
			return nil, err
		}
		app.milvus = mc
		app.healthCheckers["milvus"] = mc
		collections := milvus.NewCollectionManager(mc, logger)
		if err := collections.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		searcher := milvus.NewSearcher(mc, collections, logger)
		vectors = searcher
		vectorSearch = searcher
	}

	// Name index.
	var names graph.NameIndex
	var nameSearch query.NameSearcher
	if cfg.OpenSearch.Enabled {
		oc, err := opensearch.NewClient(ctx, cfg.OpenSearch, logger)
		if err != nil {
			return nil, err
		}
		app.osearch = oc
		app.healthCheckers["opensearch"] = oc
		indexer := opensearch.NewIndexer(oc, logger)
		if err := indexer.EnsureIndex(ctx); err != nil {
			return nil, err
		}
		names = indexer
		nameSearch = opensearch.NewSearcher(oc, logger)
	}

	// Optional LLM backend; without one every capability is a no-op.
	caps := llm.NopCapabilities()
	if cfg.LLM.BaseURL != "" {
		lc, err := llm.NewClient(llm.ClientConfig{
			BaseURL:        cfg.LLM.BaseURL,
			APIKey:         cfg.LLM.APIKey,
			ChatModel:      cfg.LLM.Model,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
			RequestTimeout: cfg.LLM.Timeout,
			MaxRetries:     cfg.LLM.MaxRetries,
		}, logger)
		if err != nil {
			return nil, err
		}
		caps = llm.Capabilities{Verifier: lc, Generator: lc, Embedder: lc}
	}

	entities := neo4jrepo.NewEntityRepository(neoDriver, logger)
	rels := neo4jrepo.NewRelationshipRepository(neoDriver, logger)
	analyses := pgrepo.NewAnalysisRepository(pg.Pool(), logger)

	var prereq *relationships.PrerequisiteInferrer
	if cfg.Pipeline.Relationships.InferPrerequisites {
		prereq = relationships.NewPrerequisiteInferrer(relationships.DefaultPrereqConfig(), caps.Generator, logger)
	}

	pipeline, err := graph.NewPipelineService(graph.Deps{
		Resolver:      resolution.NewResolver(graph.ResolverConfig(cfg.Pipeline.Resolution), caps.Verifier, caps.Embedder, logger),
		Linker:        resolution.NewCrossDocLinker(entities, rels, logger),
		Builder:       relationships.NewBuilder(graph.BuilderConfig(cfg.Pipeline.Relationships), logger),
		Prereq:        prereq,
		Detector:      gapanalysis.NewDetector(graph.DetectorConfig(cfg.Pipeline.GapAnalysis), caps.Generator, logger),
		Entities:      entities,
		Relationships: rels,
		Analyses:      analyses,
		Locks:         graph.NewRedisLocker(locks),
		Events:        events,
		Vectors:       vectors,
		Names:         names,
		Cache:         cache,
		Metrics:       app.appMetrics,
		LockTTL:       cfg.Pipeline.Resolution.LockTTL,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	app.pipeline = pipeline

	queries, err := query.NewService(query.Deps{
		Graphs:   graphquery.NewService(entities, rels, logger),
		Entities: entities,
		Analyses: analyses,
		Cache:    cache,
		Names:    nameSearch,
		Vectors:  vectorSearch,
		Metrics:  app.appMetrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	app.queries = queries

	return app, nil
}
