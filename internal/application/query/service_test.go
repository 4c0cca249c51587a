package query

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athene-kg/athene/internal/domain/analysis"
	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/domain/relationship"
	"github.com/athene-kg/athene/internal/graphquery"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/infrastructure/search/milvus"
	"github.com/athene-kg/athene/internal/infrastructure/search/opensearch"
	"github.com/athene-kg/athene/pkg/errors"
)

type fakeEntityRepo struct {
	entities      map[string]*entity.Entity
	searchResults []entity.Scored
	mentions      []entity.Mention
	nodeCounts    map[entity.Type]int
	searchCalls   int
	countCalls    int
	searchErr     error
}

func (f *fakeEntityRepo) UpsertBatch(ctx context.Context, entities []*entity.Entity) error {
	return nil
}

func (f *fakeEntityRepo) GetByProject(ctx context.Context, projectID string, types []entity.Type) ([]*entity.Entity, error) {
	return nil, nil
}

func (f *fakeEntityRepo) GetByIDs(ctx context.Context, projectID string, ids []string) ([]*entity.Entity, error) {
	var out []*entity.Entity
	for _, id := range ids {
		if e, ok := f.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEntityRepo) GroupsByName(ctx context.Context, projectID string) (map[entity.GroupKey][]*entity.Entity, error) {
	return nil, nil
}

func (f *fakeEntityRepo) SearchByName(ctx context.Context, projectID, query string, types []entity.Type, limit int) ([]entity.Scored, error) {
	f.searchCalls++
	return f.searchResults, f.searchErr
}

func (f *fakeEntityRepo) UnderDiscussed(ctx context.Context, projectID string, maxPapers int) ([]entity.Mention, error) {
	return f.mentions, nil
}

func (f *fakeEntityRepo) UpdateClusterAssignments(ctx context.Context, projectID string, assignments map[string]int) error {
	return nil
}

func (f *fakeEntityRepo) CountByType(ctx context.Context, projectID string) (map[entity.Type]int, error) {
	f.countCalls++
	return f.nodeCounts, nil
}

type fakeRelRepo struct {
	edges         []*relationship.Relationship
	edgeCounts    map[relationship.Type]int
	neighborCalls int
}

func (f *fakeRelRepo) UpsertBatch(ctx context.Context, rels []*relationship.Relationship) error {
	return nil
}

func (f *fakeRelRepo) GetByProject(ctx context.Context, projectID string, types []relationship.Type) ([]*relationship.Relationship, error) {
	return nil, nil
}

func (f *fakeRelRepo) EnsureSameAs(ctx context.Context, projectID, aID, bID string) (bool, error) {
	return false, nil
}

func (f *fakeRelRepo) Neighbors(ctx context.Context, projectID string, nodeIDs []string, types []relationship.Type) ([]*relationship.Relationship, error) {
	f.neighborCalls++
	touched := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		touched[id] = true
	}
	var out []*relationship.Relationship
	for _, e := range f.edges {
		if touched[e.SourceID] || touched[e.TargetID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRelRepo) CountByType(ctx context.Context, projectID string) (map[relationship.Type]int, error) {
	return f.edgeCounts, nil
}

type fakeAnalysisRepo struct {
	run           *analysis.Run
	gaps          []*analysis.StructuralGap
	statusUpdates []analysis.GapStatus
}

func (f *fakeAnalysisRepo) SaveRun(ctx context.Context, run *analysis.Run, clusters []*analysis.ConceptCluster, gaps []*analysis.StructuralGap, centrality []*analysis.CentralityMetrics) error {
	return nil
}

func (f *fakeAnalysisRepo) LatestRun(ctx context.Context, projectID string) (*analysis.Run, error) {
	if f.run == nil {
		return nil, errors.New(errors.ErrCodeProjectNotFound, "never analyzed")
	}
	return f.run, nil
}

func (f *fakeAnalysisRepo) Clusters(ctx context.Context, projectID string) ([]*analysis.ConceptCluster, error) {
	return nil, nil
}

func (f *fakeAnalysisRepo) Gaps(ctx context.Context, projectID string, statuses []analysis.GapStatus) ([]*analysis.StructuralGap, error) {
	return f.gaps, nil
}

func (f *fakeAnalysisRepo) UpdateGapStatus(ctx context.Context, projectID, gapID string, status analysis.GapStatus) error {
	f.statusUpdates = append(f.statusUpdates, status)
	return nil
}

func (f *fakeAnalysisRepo) Centrality(ctx context.Context, projectID string) ([]*analysis.CentralityMetrics, error) {
	return nil, nil
}

// memoryCache is an in-process redis.Cache stand-in.
type memoryCache struct {
	mu      sync.Mutex
	store   map[string][]byte
	deleted []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{store: make(map[string][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	data, ok := c.store[key]
	c.mu.Unlock()
	if !ok {
		return errors.New(errors.ErrCodeNotFound, "cache miss")
	}
	return json.Unmarshal(data, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.store[key] = data
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.store, k)
	}
	return nil
}

func (c *memoryCache) GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error {
	if err := c.Get(ctx, key, dest); err == nil {
		return nil
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.Get(ctx, key, dest)
}

func (c *memoryCache) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, prefix)
	var n int64
	for k := range c.store {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.store, k)
			n++
		}
	}
	return n, nil
}

type fakeNames struct {
	hits []opensearch.NameHit
	err  error
}

func (f *fakeNames) SearchByName(ctx context.Context, projectID, name string, limit int) ([]opensearch.NameHit, error) {
	return f.hits, f.err
}

type fakeVectors struct {
	hits    []milvus.Hit
	err     error
	queried [][]float32
	topK    int
}

func (f *fakeVectors) SimilarConcepts(ctx context.Context, projectID string, vector []float32, topK int) ([]milvus.Hit, error) {
	f.queried = append(f.queried, vector)
	f.topK = topK
	return f.hits, f.err
}

type fixture struct {
	service  *Service
	entities *fakeEntityRepo
	rels     *fakeRelRepo
	analyses *fakeAnalysisRepo
	cache    *memoryCache
	names    *fakeNames
	vectors  *fakeVectors
}

func newFixture(t *testing.T, withNames bool) *fixture {
	t.Helper()
	log := logging.NewNopLogger()
	fx := &fixture{
		entities: &fakeEntityRepo{entities: make(map[string]*entity.Entity)},
		rels:     &fakeRelRepo{},
		analyses: &fakeAnalysisRepo{},
		cache:    newMemoryCache(),
	}
	deps := Deps{
		Graphs:   graphquery.NewService(fx.entities, fx.rels, log),
		Entities: fx.entities,
		Analyses: fx.analyses,
		Cache:    fx.cache,
		Logger:   log,
	}
	if withNames {
		fx.names = &fakeNames{}
		deps.Names = fx.names
	}
	svc, err := NewService(deps)
	require.NoError(t, err)
	fx.service = svc
	return fx
}

// newVectorFixture wires a fake concept index behind the service.
func newVectorFixture(t *testing.T) *fixture {
	t.Helper()
	fx := newFixture(t, false)
	fx.vectors = &fakeVectors{}
	svc, err := NewService(Deps{
		Graphs:   graphquery.NewService(fx.entities, fx.rels, logging.NewNopLogger()),
		Entities: fx.entities,
		Analyses: fx.analyses,
		Cache:    fx.cache,
		Vectors:  fx.vectors,
		Logger:   logging.NewNopLogger(),
	})
	require.NoError(t, err)
	fx.service = svc
	return fx
}

func concept(id, name string) *entity.Entity {
	return &entity.Entity{
		ID:            id,
		ProjectID:     "proj-1",
		Type:          entity.TypeConcept,
		CanonicalName: name,
		Confidence:    0.9,
	}
}

func TestNewService_RequiresDeps(t *testing.T) {
	_, err := NewService(Deps{})
	assert.Error(t, err)
}

func TestSearch_UsesNameIndex(t *testing.T) {
	fx := newFixture(t, true)
	fx.entities.entities["e1"] = concept("e1", "Transformer")
	fx.entities.entities["e2"] = concept("e2", "Graph Transformer")
	fx.names.hits = []opensearch.NameHit{
		{EntityID: "e2", Score: 5.0},
		{EntityID: "e1", Score: 2.0},
	}

	result, err := fx.service.Search(context.Background(), "proj-1", "transformer", nil, 10, 0)
	require.NoError(t, err)

	assert.Equal(t, graphquery.StatusOK, result.Status)
	require.Len(t, result.Matches, 2)
	assert.Equal(t, "e2", result.Matches[0].Entity.ID)
	assert.InDelta(t, 5.0/6.0, result.Matches[0].Score, 1e-9)
	assert.Equal(t, "e1", result.Matches[1].Entity.ID)
	// the graph store was never consulted
	assert.Zero(t, fx.entities.searchCalls)
}

func TestSearch_TypeFilterOnIndexHits(t *testing.T) {
	fx := newFixture(t, true)
	fx.entities.entities["e1"] = concept("e1", "Transformer")
	method := concept("e2", "Fine Tuning")
	method.Type = entity.TypeMethod
	fx.entities.entities["e2"] = method
	fx.names.hits = []opensearch.NameHit{
		{EntityID: "e1", Score: 3.0},
		{EntityID: "e2", Score: 2.0},
	}

	result, err := fx.service.Search(context.Background(), "proj-1", "x", []entity.Type{entity.TypeMethod}, 10, 0)
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "e2", result.Matches[0].Entity.ID)
}

func TestSearch_FallsBackWhenIndexFails(t *testing.T) {
	fx := newFixture(t, true)
	fx.names.err = errors.New(errors.ErrCodeSearchFailed, "cluster down")
	fx.entities.searchResults = []entity.Scored{
		{Entity: concept("e1", "Transformer"), Score: 0.8},
	}

	result, err := fx.service.Search(context.Background(), "proj-1", "transformer", nil, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, graphquery.StatusOK, result.Status)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, 1, fx.entities.searchCalls)
}

func TestSearch_CachesResults(t *testing.T) {
	fx := newFixture(t, false)
	fx.entities.searchResults = []entity.Scored{
		{Entity: concept("e1", "Transformer"), Score: 0.8},
	}

	for i := 0; i < 3; i++ {
		result, err := fx.service.Search(context.Background(), "proj-1", "transformer", nil, 10, 0)
		require.NoError(t, err)
		require.Len(t, result.Matches, 1)
	}
	assert.Equal(t, 1, fx.entities.searchCalls)
}

func TestSearch_RequiresProject(t *testing.T) {
	fx := newFixture(t, false)
	_, err := fx.service.Search(context.Background(), "", "x", nil, 10, 0)
	assert.Error(t, err)
}

func TestTraverse(t *testing.T) {
	fx := newFixture(t, false)
	fx.entities.entities["c1"] = concept("c1", "Transformer")
	fx.entities.entities["c2"] = concept("c2", "Attention")
	fx.rels.edges = []*relationship.Relationship{
		relationship.New("proj-1", "c1", "c2", relationship.TypeRelatedTo, 0.9),
	}

	result, err := fx.service.Traverse(context.Background(), "proj-1", []string{"c1"}, 2, nil, 10, 0)
	require.NoError(t, err)

	assert.Equal(t, graphquery.StatusOK, result.Status)
	assert.Len(t, result.Nodes, 2)
	assert.Equal(t, 0, result.Paths["c1"])
	assert.Equal(t, 1, result.Paths["c2"])

	// second call is served from cache
	calls := fx.rels.neighborCalls
	_, err = fx.service.Traverse(context.Background(), "proj-1", []string{"c1"}, 2, nil, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, calls, fx.rels.neighborCalls)
}

func TestTraverse_Validation(t *testing.T) {
	fx := newFixture(t, false)

	_, err := fx.service.Traverse(context.Background(), "", []string{"c1"}, 2, nil, 10, 0)
	assert.Error(t, err)

	_, err = fx.service.Traverse(context.Background(), "proj-1", nil, 2, nil, 10, 0)
	assert.Error(t, err)
}

func TestSubgraph(t *testing.T) {
	fx := newFixture(t, false)
	fx.entities.entities["c1"] = concept("c1", "Transformer")

	result, err := fx.service.Subgraph(context.Background(), "proj-1", "c1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, graphquery.StatusOK, result.Status)

	_, err = fx.service.Subgraph(context.Background(), "proj-1", "", 1, 10)
	assert.Error(t, err)
}

func TestGapCandidates(t *testing.T) {
	fx := newFixture(t, false)
	fx.entities.mentions = []entity.Mention{
		{ID: "c9", Name: "Sparse Attention", PaperCount: 1},
	}

	result, err := fx.service.GapCandidates(context.Background(), "proj-1", 2)
	require.NoError(t, err)
	assert.Equal(t, graphquery.StatusOK, result.Status)
	require.Len(t, result.Concepts, 1)
	assert.Equal(t, "c9", result.Concepts[0].ID)
}

func TestStats(t *testing.T) {
	fx := newFixture(t, false)
	fx.entities.nodeCounts = map[entity.Type]int{
		entity.TypeConcept: 3,
		entity.TypeMethod:  1,
	}
	fx.rels.edgeCounts = map[relationship.Type]int{
		relationship.TypeRelatedTo: 2,
	}

	result, err := fx.service.Stats(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, graphquery.StatusOK, result.Status)
	assert.Equal(t, 4, result.TotalNodes)
	assert.Equal(t, 2, result.TotalEdges)
	assert.Equal(t, 3, result.NodeCounts[entity.TypeConcept])
}

func TestStats_CachesResults(t *testing.T) {
	fx := newFixture(t, false)
	fx.entities.nodeCounts = map[entity.Type]int{entity.TypeConcept: 1}

	for i := 0; i < 3; i++ {
		_, err := fx.service.Stats(context.Background(), "proj-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fx.entities.countCalls)
}

func TestStats_RequiresProject(t *testing.T) {
	fx := newFixture(t, false)
	_, err := fx.service.Stats(context.Background(), "")
	assert.Error(t, err)
}

func TestLatestAnalysis(t *testing.T) {
	fx := newFixture(t, false)

	_, err := fx.service.LatestAnalysis(context.Background(), "proj-1")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeProjectNotFound))

	fx.analyses.run = &analysis.Run{ID: "run-1", ProjectID: "proj-1", Status: analysis.RunCompleted}
	fx.analyses.gaps = []*analysis.StructuralGap{{ID: "gap-1", ProjectID: "proj-1"}}

	report, err := fx.service.LatestAnalysis(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.Run.ID)
	require.Len(t, report.Gaps, 1)
}

func TestUpdateGapStatus(t *testing.T) {
	fx := newFixture(t, false)

	err := fx.service.UpdateGapStatus(context.Background(), "proj-1", "gap-1", analysis.StatusExplored)
	require.NoError(t, err)
	assert.Equal(t, []analysis.GapStatus{analysis.StatusExplored}, fx.analyses.statusUpdates)
	assert.Contains(t, fx.cache.deleted, "query:proj-1")

	err = fx.service.UpdateGapStatus(context.Background(), "proj-1", "gap-1", analysis.GapStatus("bogus"))
	assert.Error(t, err)

	err = fx.service.UpdateGapStatus(context.Background(), "", "gap-1", analysis.StatusExplored)
	assert.Error(t, err)
}

func TestSearch_NoCacheConfigured(t *testing.T) {
	log := logging.NewNopLogger()
	entities := &fakeEntityRepo{
		entities:      map[string]*entity.Entity{},
		searchResults: []entity.Scored{{Entity: concept("e1", "Transformer"), Score: 0.8}},
	}
	svc, err := NewService(Deps{
		Graphs:   graphquery.NewService(entities, &fakeRelRepo{}, log),
		Entities: entities,
		Analyses: &fakeAnalysisRepo{},
	})
	require.NoError(t, err)

	result, err := svc.Search(context.Background(), "proj-1", "transformer", nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
}

func TestSearch_MinConfidenceFiltersMatches(t *testing.T) {
	fx := newFixture(t, false)
	strong := concept("e1", "Transformer")
	weak := concept("e2", "Transfarmer")
	weak.Confidence = 0.3
	fx.entities.searchResults = []entity.Scored{
		{Entity: strong, Score: 0.9},
		{Entity: weak, Score: 0.8},
	}

	result, err := fx.service.Search(context.Background(), "proj-1", "transformer", nil, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "e1", result.Matches[0].Entity.ID)

	// a lower threshold is a distinct cache entry, not a stale replay
	result, err = fx.service.Search(context.Background(), "proj-1", "transformer", nil, 10, 0)
	require.NoError(t, err)
	assert.Len(t, result.Matches, 2)
}

func TestTraverse_MinConfidenceDropsWeakNodes(t *testing.T) {
	fx := newFixture(t, false)
	fx.entities.entities["c1"] = concept("c1", "Transformer")
	weak := concept("c2", "Attention")
	weak.Confidence = 0.2
	fx.entities.entities["c2"] = weak
	fx.rels.edges = []*relationship.Relationship{
		relationship.New("proj-1", "c1", "c2", relationship.TypeRelatedTo, 0.9),
	}

	result, err := fx.service.Traverse(context.Background(), "proj-1", []string{"c1"}, 2, nil, 10, 0.5)
	require.NoError(t, err)

	require.Len(t, result.Nodes, 1)
	assert.Equal(t, "c1", result.Nodes[0].ID)
	assert.Empty(t, result.Edges)
	_, ok := result.Paths["c2"]
	assert.False(t, ok)
}

func TestSimilar(t *testing.T) {
	fx := newVectorFixture(t)
	seed := concept("c1", "Transformer")
	seed.Embedding = []float32{1, 0}
	fx.entities.entities["c1"] = seed
	fx.entities.entities["c2"] = concept("c2", "Attention")
	fx.entities.entities["c3"] = concept("c3", "Self Attention")
	fx.vectors.hits = []milvus.Hit{
		{EntityID: "c1", Score: 0.99},
		{EntityID: "c3", Score: 0.82},
		{EntityID: "c2", Score: 0.71},
	}

	result, err := fx.service.Similar(context.Background(), "proj-1", "c1", 2)
	require.NoError(t, err)

	assert.Equal(t, graphquery.StatusOK, result.Status)
	require.Len(t, result.Matches, 2)
	assert.Equal(t, "c3", result.Matches[0].Entity.ID)
	assert.InDelta(t, 0.82, result.Matches[0].Score, 1e-6)
	assert.Equal(t, "c2", result.Matches[1].Entity.ID)
	// one extra hit is requested so the seed can be dropped
	assert.Equal(t, 3, fx.vectors.topK)

	// second call is served from cache
	_, err = fx.service.Similar(context.Background(), "proj-1", "c1", 2)
	require.NoError(t, err)
	assert.Len(t, fx.vectors.queried, 1)
}

func TestSimilar_SeedWithoutEmbedding(t *testing.T) {
	fx := newVectorFixture(t)
	fx.entities.entities["c1"] = concept("c1", "Transformer")

	result, err := fx.service.Similar(context.Background(), "proj-1", "c1", 5)
	require.NoError(t, err)
	assert.Equal(t, graphquery.StatusOK, result.Status)
	assert.Empty(t, result.Matches)
	assert.Empty(t, fx.vectors.queried)
}

func TestSimilar_UnknownEntity(t *testing.T) {
	fx := newVectorFixture(t)

	_, err := fx.service.Similar(context.Background(), "proj-1", "ghost", 5)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeEntityNotFound))
}

func TestSimilar_VectorIndexNotConfigured(t *testing.T) {
	fx := newFixture(t, false)

	_, err := fx.service.Similar(context.Background(), "proj-1", "c1", 5)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFeatureDisabled))
}
