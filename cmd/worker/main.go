// The worker binary consumes pipeline jobs from Kafka and runs the
// construction and gap-analysis pipelines against the graph stores.
// Failed jobs retry with backoff and land on the dead-letter topic once
// retries are exhausted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/athene-kg/athene/internal/application/graph"
	"github.com/athene-kg/athene/internal/config"
	"github.com/athene-kg/athene/internal/gapanalysis"
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
	"github.com/athene-kg/athene/internal/llm"
	"github.com/athene-kg/athene/internal/relationships"
	"github.com/athene-kg/athene/internal/resolution"
	"github.com/athene-kg/athene/pkg/errors"
)

const startupTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment)")
	concurrency := flag.Int("workers", 0, "worker concurrency override")
	metricsPort := flag.Int("metrics-port", 9090, "port for /metrics and probes (0 disables)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *concurrency > 0 {
		cfg.Worker.Concurrency = *concurrency
	}
	if len(cfg.Kafka.Brokers) == 0 {
		fmt.Fprintln(os.Stderr, "worker requires kafka brokers to be configured")
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("worker")
	logger.Info("starting athene worker", logging.Int("concurrency", cfg.Worker.Concurrency))

	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	w, err := buildWorker(startCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("bootstrap failed", logging.Err(err))
	}
	defer w.close(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *metricsPort > 0 {
		go serveMetrics(*metricsPort, w, logger)
	}

	if err := w.consumer.Start(ctx); err != nil && ctx.Err() == nil {
		logger.Error("consumer stopped", logging.Err(err))
	}
	<-ctx.Done()

	if err := w.consumer.Close(); err != nil {
		logger.Error("closing consumer", logging.Err(err))
	}
	logger.Info("worker stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadFromEnv()
}

// worker bundles the pipeline and its consumer plus the resources to
// release on shutdown.
type worker struct {
	pipeline   *graph.PipelineService
	consumer   *kafka.Consumer
	producer   *kafka.Producer
	collector  prometheus.MetricsCollector
	appMetrics *prometheus.AppMetrics
	checkers   map[string]func(context.Context) error
	log        logging.Logger

	neo     *neo4j.Driver
	pg      *postgres.Connection
	redis   *redis.Client
	milvus  *milvus.Client
	osearch *opensearch.Client
}

func (w *worker) close(logger logging.Logger) {
	if w.producer != nil {
		if err := w.producer.Close(); err != nil {
			logger.Warn("closing kafka producer", logging.Err(err))
		}
	}
	if w.milvus != nil {
		if err := w.milvus.Close(); err != nil {
			logger.Warn("closing milvus client", logging.Err(err))
		}
	}
	if w.redis != nil {
		if err := w.redis.Close(); err != nil {
			logger.Warn("closing redis client", logging.Err(err))
		}
	}
	if w.pg != nil {
		w.pg.Close()
	}
	if w.neo != nil {
		if err := w.neo.Close(); err != nil {
			logger.Warn("closing neo4j driver", logging.Err(err))
		}
	}
}

func buildWorker(ctx context.Context, cfg *config.Config, logger logging.Logger) (*worker, error) {
	w := &worker{
		checkers: map[string]func(context.Context) error{},
		log:      logger,
	}

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace: "athene",
		Subsystem: "worker",
	}, logger)
	if err != nil {
		return nil, err
	}
	w.collector = collector
	w.appMetrics = prometheus.NewAppMetrics(collector)

	neoDriver, err := neo4j.NewDriver(cfg.Neo4j, logger)
	if err != nil {
		return nil, err
	}
	w.neo = neoDriver
	w.checkers["neo4j"] = neoDriver.HealthCheck
	if err := neoDriver.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	pg, err := postgres.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	w.pg = pg
	w.checkers["postgres"] = pg.HealthCheck

	redisClient, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	w.redis = redisClient
	w.checkers["redis"] = redisClient.HealthCheck
	cache := redis.NewCache(redisClient, cfg.Redis.DefaultTTL, logger)
	locks := redis.NewLockManager(redisClient, logger)

	producer, err := kafka.NewProducer(cfg.Kafka, logger)
	if err != nil {
		return nil, err
	}
	w.producer = producer

	var vectors graph.VectorIndex
	if cfg.Milvus.Enabled {
		mc, err := milvus.NewClient(ctx, cfg.Milvus, logger)
		if err != nil {
			return nil, err
		}
		w.milvus = mc
		w.checkers["milvus"] = mc.HealthCheck
		collections := milvus.NewCollectionManager(mc, logger)
		if err := collections.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		vectors = milvus.NewSearcher(mc, collections, logger)
	}

	var names graph.NameIndex
	if cfg.OpenSearch.Enabled {
		oc, err := opensearch.NewClient(ctx, cfg.OpenSearch, logger)
		if err != nil {
			return nil, err
		}
		w.osearch = oc
		w.checkers["opensearch"] = oc.HealthCheck
		indexer := opensearch.NewIndexer(oc, logger)
		if err := indexer.EnsureIndex(ctx); err != nil {
			return nil, err
		}
		names = indexer
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
		Events:        producer,
		Vectors:       vectors,
		Names:         names,
		Cache:         cache,
		Metrics:       w.appMetrics,
		LockTTL:       cfg.Pipeline.Resolution.LockTTL,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	w.pipeline = pipeline

	topics := []string{kafka.TopicResolveJobs, kafka.TopicAnalyzeJobs}
	consumer, err := kafka.NewConsumer(cfg.Kafka, cfg.Worker, topics, producer, logger)
	if err != nil {
		return nil, err
	}
	consumer.Subscribe(kafka.TopicResolveJobs, w.handleResolveJob)
	consumer.Subscribe(kafka.TopicAnalyzeJobs, w.handleAnalyzeJob)
	w.consumer = consumer

	return w, nil
}

func (w *worker) handleResolveJob(ctx context.Context, msg *kafka.Message) error {
	env, err := kafka.EnvelopeFromMessage(msg)
	if err != nil {
		return err
	}
	var payload kafka.ResolveJobPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}
	if len(payload.Entities) == 0 {
		return errors.New(errors.ErrCodeValidation, "resolve job carries no entities")
	}

	started := time.Now()
	summary, err := w.pipeline.ResolveProject(ctx, graph.ResolveRequest{
		ProjectID:    env.ProjectID,
		Raws:         payload.Entities,
		Embeddings:   payload.Embeddings,
		SupportLinks: payload.SupportLinks,
	})
	if err != nil {
		w.appMetrics.RecordJob(kafka.JobTypeResolve, "failed", time.Since(started))
		return err
	}
	w.appMetrics.RecordJob(kafka.JobTypeResolve, "completed", time.Since(started))
	w.log.Info("resolve job completed",
		logging.String("job_id", env.JobID),
		logging.String("project_id", env.ProjectID),
		logging.Int("entities", summary.Entities),
		logging.Int("relationships", summary.Relationships))
	return nil
}

func (w *worker) handleAnalyzeJob(ctx context.Context, msg *kafka.Message) error {
	env, err := kafka.EnvelopeFromMessage(msg)
	if err != nil {
		return err
	}
	var payload kafka.AnalyzeJobPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	started := time.Now()
	result, err := w.pipeline.AnalyzeProject(ctx, env.ProjectID, payload.ClusterCount)
	if err != nil {
		w.appMetrics.RecordJob(kafka.JobTypeAnalyze, "failed", time.Since(started))
		return err
	}
	w.appMetrics.RecordJob(kafka.JobTypeAnalyze, "completed", time.Since(started))
	w.log.Info("analyze job completed",
		logging.String("job_id", env.JobID),
		logging.String("project_id", env.ProjectID),
		logging.String("status", string(result.Run.Status)),
		logging.Int("gaps", len(result.Gaps)))
	return nil
}

// serveMetrics exposes the scrape endpoint and a readiness probe that
// pings every backing store.
func serveMetrics(port int, w *worker, logger logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", w.collector.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/readyz", func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		for name, check := range w.checkers {
			if err := check(ctx); err != nil {
				w.appMetrics.SetComponentHealth(name, false)
				rw.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(rw, `{"status":"not_ready","component":%q}`, name)
				return
			}
			w.appMetrics.SetComponentHealth(name, true)
		}
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte(`{"status":"ready"}`))
	})

	addr := fmt.Sprintf(":%d", port)
	logger.Info("metrics endpoint listening", logging.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics endpoint failed", logging.Err(err))
	}
}
