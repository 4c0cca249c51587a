package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athene-kg/athene/internal/application/graph"
	"github.com/athene-kg/athene/internal/domain/analysis"
	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/gapanalysis"
	"github.com/athene-kg/athene/internal/graphquery"
	"github.com/athene-kg/athene/internal/infrastructure/database/neo4j"
	neo4jrepo "github.com/athene-kg/athene/internal/infrastructure/database/neo4j/repositories"
	"github.com/athene-kg/athene/internal/infrastructure/database/postgres"
	pgrepo "github.com/athene-kg/athene/internal/infrastructure/database/postgres/repositories"
	"github.com/athene-kg/athene/internal/infrastructure/database/redis"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/llm"
	"github.com/athene-kg/athene/internal/relationships"
	"github.com/athene-kg/athene/internal/resolution"
)

const migrationsPath = "../../migrations/postgres"

// env bundles the real-store pipeline wiring shared by the tests below.
type env struct {
	pipeline *graph.PipelineService
	graphs   *graphquery.Service
	entities entity.Repository
	analyses analysis.Repository
}

func setup(t *testing.T) *env {
	t.Helper()
	skipUnlessEnabled(t)

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	t.Cleanup(cancel)
	logger := logging.NewNopLogger()

	dbCfg, dbURL := startPostgres(t)
	require.NoError(t, postgres.RunMigrations(dbURL, migrationsPath))
	pg, err := postgres.NewConnection(ctx, dbCfg, logger)
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	neoDriver, err := neo4j.NewDriver(startNeo4j(t), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = neoDriver.Close() })
	require.NoError(t, neoDriver.EnsureSchema(ctx))

	redisClient, err := redis.NewClient(startRedis(t), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisClient.Close() })

	entities := neo4jrepo.NewEntityRepository(neoDriver, logger)
	rels := neo4jrepo.NewRelationshipRepository(neoDriver, logger)
	analyses := pgrepo.NewAnalysisRepository(pg.Pool(), logger)

	pipeline, err := graph.NewPipelineService(graph.Deps{
		Resolver:      resolution.NewResolver(resolution.DefaultConfig(), llm.NopVerifier{}, llm.NopEmbedder{}, logger),
		Linker:        resolution.NewCrossDocLinker(entities, rels, logger),
		Builder:       relationships.NewBuilder(relationships.DefaultConfig(), logger),
		Detector:      gapanalysis.NewDetector(gapanalysis.Config{ClusterCount: 2, Seed: 1}, llm.NopGenerator{}, logger),
		Entities:      entities,
		Relationships: rels,
		Analyses:      analyses,
		Locks:         graph.NewRedisLocker(redis.NewLockManager(redisClient, logger)),
		Cache:         redis.NewCache(redisClient, time.Minute, logger),
		Logger:        logger,
	})
	require.NoError(t, err)

	return &env{
		pipeline: pipeline,
		graphs:   graphquery.NewService(entities, rels, logger),
		entities: entities,
		analyses: analyses,
	}
}

// twoTopicCorpus simulates extraction output from two papers in each of two
// well-separated research areas, with "Attention Mechanism" mentioned on
// both sides so the graph is connected.
func twoTopicCorpus() graph.ResolveRequest {
	raw := func(text string, typ entity.Type, doc string) entity.Raw {
		return entity.Raw{Text: text, Type: typ, SourceDocumentID: doc, Confidence: 0.9}
	}
	return graph.ResolveRequest{
		ProjectID: "proj-integration",
		Raws: []entity.Raw{
			raw("Transformer", entity.TypeConcept, "doc-1"),
			raw("Attention Mechanism", entity.TypeConcept, "doc-1"),
			raw("Transformer", entity.TypeConcept, "doc-2"),
			raw("Transfer Learning", entity.TypeConcept, "doc-2"),
			raw("Protein Folding", entity.TypeConcept, "doc-3"),
			raw("Structure Prediction", entity.TypeConcept, "doc-3"),
			raw("Protein Folding", entity.TypeConcept, "doc-4"),
			raw("Attention Mechanism", entity.TypeConcept, "doc-4"),
			raw("Fine-tuning", entity.TypeMethod, "doc-2"),
		},
		Embeddings: map[string][]float32{
			"Transformer":          {1, 0, 0, 0},
			"Attention Mechanism":  {0.95, 0.3, 0, 0},
			"Transfer Learning":    {0.9, 0.4, 0.1, 0},
			"Protein Folding":      {0, 0, 1, 0},
			"Structure Prediction": {0, 0.1, 0.95, 0.2},
		},
	}
}

func TestPipeline_ResolveThenQuery(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	summary, err := e.pipeline.ResolveProject(ctx, twoTopicCorpus())
	require.NoError(t, err)

	// Nine mentions of six distinct names: the duplicates must collapse.
	assert.Equal(t, 6, summary.Entities)
	assert.Greater(t, summary.Relationships, 0)

	stored, err := e.entities.GetByProject(ctx, "proj-integration", nil)
	require.NoError(t, err)
	require.Len(t, stored, 6)

	byName := map[string]*entity.Entity{}
	for _, en := range stored {
		byName[en.CanonicalName] = en
	}
	transformer, ok := byName["Transformer"]
	require.True(t, ok, "merged Transformer entity missing")
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, transformer.SourceDocumentIDs)

	search := e.graphs.SearchEntities(ctx, "proj-integration", "transformer", nil, 10)
	require.Equal(t, graphquery.StatusOK, search.Status)
	require.NotEmpty(t, search.Matches)
	assert.Equal(t, "Transformer", search.Matches[0].Entity.CanonicalName)

	trav := e.graphs.MultiHopTraversal(ctx, "proj-integration", []string{transformer.ID}, 2, nil, 50)
	require.Equal(t, graphquery.StatusOK, trav.Status)
	assert.Greater(t, len(trav.Nodes), 1, "traversal should reach neighbors")

	stats := e.graphs.ProjectStats(ctx, "proj-integration")
	require.Equal(t, graphquery.StatusOK, stats.Status)
	assert.Equal(t, summary.Entities, stats.TotalNodes)
	assert.Greater(t, stats.TotalEdges, 0)
}

func TestPipeline_ResolveThenAnalyze(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.pipeline.ResolveProject(ctx, twoTopicCorpus())
	require.NoError(t, err)

	result, err := e.pipeline.AnalyzeProject(ctx, "proj-integration", 0)
	require.NoError(t, err)
	require.Equal(t, analysis.RunCompleted, result.Run.Status, result.Run.Reason)
	assert.Len(t, result.Clusters, 2)

	run, err := e.analyses.LatestRun(ctx, "proj-integration")
	require.NoError(t, err)
	assert.Equal(t, result.Run.ID, run.ID)
	assert.Equal(t, 2, run.ClusterCount)

	clusters, err := e.analyses.Clusters(ctx, "proj-integration")
	require.NoError(t, err)
	assert.Len(t, clusters, 2)

	gaps, err := e.analyses.Gaps(ctx, "proj-integration", nil)
	require.NoError(t, err)
	if len(gaps) > 0 {
		require.NoError(t, e.analyses.UpdateGapStatus(ctx, "proj-integration", gaps[0].ID, analysis.StatusExplored))
		updated, err := e.analyses.Gaps(ctx, "proj-integration", []analysis.GapStatus{analysis.StatusExplored})
		require.NoError(t, err)
		require.Len(t, updated, 1)
		assert.Equal(t, gaps[0].ID, updated[0].ID)
	}

	// A second analysis replaces the first run rather than accumulating.
	again, err := e.pipeline.AnalyzeProject(ctx, "proj-integration", 0)
	require.NoError(t, err)
	latest, err := e.analyses.LatestRun(ctx, "proj-integration")
	require.NoError(t, err)
	assert.Equal(t, again.Run.ID, latest.ID)
}
