// Package query is the read-side orchestration over the knowledge graph:
// entity search, embedding-similarity lookup, multi-hop traversal, subgraph
// extraction, gap candidate listing, graph statistics, and analysis report
// reads.  Results are cached per project
// under the "query:" prefix; the construction pipeline invalidates that
// prefix after every rewrite, so cached reads never outlive the graph
// they describe.
package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/athene-kg/athene/internal/domain/analysis"
	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/domain/relationship"
	"github.com/athene-kg/athene/internal/graphquery"
	"github.com/athene-kg/athene/internal/infrastructure/database/redis"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/prometheus"
	"github.com/athene-kg/athene/internal/infrastructure/search/milvus"
	"github.com/athene-kg/athene/internal/infrastructure/search/opensearch"
	"github.com/athene-kg/athene/pkg/errors"
)

const (
	searchTTL    = 5 * time.Minute
	traversalTTL = 5 * time.Minute
	statsTTL     = time.Minute
	analysisTTL  = 15 * time.Minute

	defaultSimilarLimit = 10
)

// NameSearcher is the fuzzy name index surface.  *opensearch.Searcher
// satisfies it.
type NameSearcher interface {
	SearchByName(ctx context.Context, projectID, name string, limit int) ([]opensearch.NameHit, error)
}

// VectorSearcher is the concept embedding index surface.  *milvus.Searcher
// satisfies it.
type VectorSearcher interface {
	SimilarConcepts(ctx context.Context, projectID string, vector []float32, topK int) ([]milvus.Hit, error)
}

// AnalysisReport bundles the project's latest analysis run with its
// artifacts.
type AnalysisReport struct {
	Run        *analysis.Run                 `json:"run"`
	Clusters   []*analysis.ConceptCluster    `json:"clusters"`
	Gaps       []*analysis.StructuralGap     `json:"gaps"`
	Centrality []*analysis.CentralityMetrics `json:"centrality"`
}

// Service answers read queries.  Cache, Names, Vectors, and Metrics are
// optional; without a cache every call reads through, without a name index
// search falls back to the graph store's full-text matching, and without a
// vector index similarity lookups are refused.
type Service struct {
	graphs   *graphquery.Service
	entities entity.Repository
	analyses analysis.Repository
	cache    redis.Cache
	names    NameSearcher
	vectors  VectorSearcher
	metrics  *prometheus.AppMetrics
	log      logging.Logger
}

// Deps wires the query service.
type Deps struct {
	Graphs   *graphquery.Service
	Entities entity.Repository
	Analyses analysis.Repository
	Cache    redis.Cache
	Names    NameSearcher
	Vectors  VectorSearcher
	Metrics  *prometheus.AppMetrics
	Logger   logging.Logger
}

// NewService validates the required collaborators and builds the service.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Graphs == nil:
		return nil, errors.New(errors.ErrCodeValidation, "query: graph query service is required")
	case d.Entities == nil:
		return nil, errors.New(errors.ErrCodeValidation, "query: entity repository is required")
	case d.Analyses == nil:
		return nil, errors.New(errors.ErrCodeValidation, "query: analysis repository is required")
	}
	log := d.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Service{
		graphs:   d.Graphs,
		entities: d.Entities,
		analyses: d.Analyses,
		cache:    d.Cache,
		names:    d.Names,
		vectors:  d.Vectors,
		metrics:  d.Metrics,
		log:      log.Named("query"),
	}, nil
}

// Search finds entities by name.  The name index answers when configured
// and healthy; the graph store's full-text matching is the fallback, so a
// degraded index narrows recall instead of failing the call.  A positive
// minConfidence drops matches below it.
func (s *Service) Search(ctx context.Context, projectID, text string, types []entity.Type, limit int, minConfidence float64) (*graphquery.SearchResult, error) {
	if projectID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "query: project id is required")
	}

	key := s.cacheKey(projectID, "search", map[string]interface{}{
		"q": text, "types": types, "limit": limit, "min_conf": minConfidence,
	})
	var result graphquery.SearchResult
	err := s.cached(ctx, key, searchTTL, &result, func(ctx context.Context) (interface{}, error) {
		found := s.search(ctx, projectID, text, types, limit)
		found.FilterLowTrust(minConfidence)
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) search(ctx context.Context, projectID, text string, types []entity.Type, limit int) *graphquery.SearchResult {
	if s.names != nil {
		result, err := s.searchByIndex(ctx, projectID, text, types, limit)
		if err == nil {
			return result
		}
		s.log.Warn("name index search failed, falling back to graph store",
			logging.String("project_id", projectID), logging.Err(err))
	}
	return s.graphs.SearchEntities(ctx, projectID, text, types, limit)
}

func (s *Service) searchByIndex(ctx context.Context, projectID, text string, types []entity.Type, limit int) (*graphquery.SearchResult, error) {
	hits, err := s.names.SearchByName(ctx, projectID, text, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &graphquery.SearchResult{Status: graphquery.StatusOK}, nil
	}

	wanted := make(map[entity.Type]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.EntityID)
	}
	loaded, err := s.entities.GetByIDs(ctx, projectID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*entity.Entity, len(loaded))
	for _, e := range loaded {
		byID[e.ID] = e
	}

	matches := make([]entity.Scored, 0, len(hits))
	for _, h := range hits {
		e, ok := byID[h.EntityID]
		if !ok {
			// indexed but gone from the graph; the next pipeline run
			// re-syncs the index
			continue
		}
		if len(wanted) > 0 && !wanted[e.Type] {
			continue
		}
		matches = append(matches, entity.Scored{Entity: e, Score: normalizeScore(h.Score)})
	}
	return &graphquery.SearchResult{Status: graphquery.StatusOK, Matches: matches}, nil
}

// Similar returns the entities nearest to one entity in embedding space,
// best first.  The seed entity itself is excluded from the matches; a seed
// without an embedding yields an empty result.
func (s *Service) Similar(ctx context.Context, projectID, entityID string, limit int) (*graphquery.SearchResult, error) {
	if projectID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "query: project id is required")
	}
	if entityID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "query: entity id is required")
	}
	if s.vectors == nil {
		return nil, errors.New(errors.ErrCodeFeatureDisabled, "query: vector index is not configured")
	}
	if limit <= 0 {
		limit = defaultSimilarLimit
	}

	key := s.cacheKey(projectID, "similar", map[string]interface{}{
		"entity": entityID, "limit": limit,
	})
	var result graphquery.SearchResult
	err := s.cached(ctx, key, searchTTL, &result, func(ctx context.Context) (interface{}, error) {
		return s.similar(ctx, projectID, entityID, limit)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) similar(ctx context.Context, projectID, entityID string, limit int) (*graphquery.SearchResult, error) {
	loaded, err := s.entities.GetByIDs(ctx, projectID, []string{entityID})
	if err != nil {
		return nil, err
	}
	if len(loaded) == 0 {
		return nil, errors.Newf(errors.ErrCodeEntityNotFound, "query: entity %s not found", entityID)
	}
	seed := loaded[0]
	if !seed.HasEmbedding() {
		return &graphquery.SearchResult{Status: graphquery.StatusOK}, nil
	}

	// One extra hit because the index returns the seed itself first.
	hits, err := s.vectors.SimilarConcepts(ctx, projectID, seed.Embedding, limit+1)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float32, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.EntityID == seed.ID {
			continue
		}
		scores[h.EntityID] = h.Score
		ids = append(ids, h.EntityID)
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	if len(ids) == 0 {
		return &graphquery.SearchResult{Status: graphquery.StatusOK}, nil
	}

	neighbors, err := s.entities.GetByIDs(ctx, projectID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*entity.Entity, len(neighbors))
	for _, e := range neighbors {
		byID[e.ID] = e
	}
	matches := make([]entity.Scored, 0, len(ids))
	for _, id := range ids {
		e, ok := byID[id]
		if !ok {
			// indexed but gone from the graph; the next pipeline run
			// re-syncs the index
			continue
		}
		matches = append(matches, entity.Scored{Entity: e, Score: float64(scores[id])})
	}
	return &graphquery.SearchResult{Status: graphquery.StatusOK, Matches: matches}, nil
}

// Traverse expands breadth-first from the start nodes.  A positive
// minConfidence prunes low-confidence nodes and their incident edges from
// the expansion; start nodes are never pruned.
func (s *Service) Traverse(ctx context.Context, projectID string, startIDs []string, maxHops int, relTypes []relationship.Type, limit int, minConfidence float64) (*graphquery.TraversalResult, error) {
	if projectID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "query: project id is required")
	}
	if len(startIDs) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "query: at least one start node is required")
	}

	key := s.cacheKey(projectID, "traverse", map[string]interface{}{
		"start": startIDs, "hops": maxHops, "types": relTypes, "limit": limit, "min_conf": minConfidence,
	})
	var result graphquery.TraversalResult
	err := s.cached(ctx, key, traversalTTL, &result, func(ctx context.Context) (interface{}, error) {
		walked := s.graphs.MultiHopTraversal(ctx, projectID, startIDs, maxHops, relTypes, limit)
		walked.FilterLowTrust(minConfidence)
		return walked, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Subgraph extracts one node's neighborhood.
func (s *Service) Subgraph(ctx context.Context, projectID, nodeID string, depth, maxNodes int) (*graphquery.TraversalResult, error) {
	if projectID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "query: project id is required")
	}
	if nodeID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "query: node id is required")
	}

	key := s.cacheKey(projectID, "subgraph", map[string]interface{}{
		"node": nodeID, "depth": depth, "max": maxNodes,
	})
	var result graphquery.TraversalResult
	err := s.cached(ctx, key, traversalTTL, &result, func(ctx context.Context) (interface{}, error) {
		return s.graphs.GetSubgraph(ctx, projectID, nodeID, depth, maxNodes), nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GapCandidates lists under-discussed concepts, the cheap gap heuristic
// that needs no analysis run.
func (s *Service) GapCandidates(ctx context.Context, projectID string, maxPapers int) (*graphquery.GapCandidatesResult, error) {
	if projectID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "query: project id is required")
	}

	key := s.cacheKey(projectID, "gap_candidates", map[string]interface{}{"max_papers": maxPapers})
	var result graphquery.GapCandidatesResult
	err := s.cached(ctx, key, searchTTL, &result, func(ctx context.Context) (interface{}, error) {
		return s.graphs.FindResearchGaps(ctx, projectID, maxPapers), nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Stats reports node and edge counts by type.  Fresh reads refresh the
// graph-size gauges as a side effect.
func (s *Service) Stats(ctx context.Context, projectID string) (*graphquery.StatsResult, error) {
	if projectID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "query: project id is required")
	}

	key := s.cacheKey(projectID, "stats", nil)
	var result graphquery.StatsResult
	err := s.cached(ctx, key, statsTTL, &result, func(ctx context.Context) (interface{}, error) {
		return s.graphs.ProjectStats(ctx, projectID), nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil && result.Status == graphquery.StatusOK {
		s.metrics.SetGraphSize(typeCounts(result.NodeCounts), relCounts(result.EdgeCounts))
	}
	return &result, nil
}

func typeCounts(in map[entity.Type]int) map[string]int {
	out := make(map[string]int, len(in))
	for t, n := range in {
		out[string(t)] = n
	}
	return out
}

func relCounts(in map[relationship.Type]int) map[string]int {
	out := make(map[string]int, len(in))
	for t, n := range in {
		out[string(t)] = n
	}
	return out
}

// LatestAnalysis returns the project's latest run with all artifacts, or a
// not-found error when the project was never analyzed.
func (s *Service) LatestAnalysis(ctx context.Context, projectID string) (*AnalysisReport, error) {
	if projectID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "query: project id is required")
	}

	key := s.cacheKey(projectID, "analysis", nil)
	var report AnalysisReport
	err := s.cached(ctx, key, analysisTTL, &report, func(ctx context.Context) (interface{}, error) {
		return s.loadAnalysis(ctx, projectID)
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *Service) loadAnalysis(ctx context.Context, projectID string) (*AnalysisReport, error) {
	run, err := s.analyses.LatestRun(ctx, projectID)
	if err != nil {
		return nil, err
	}
	clusters, err := s.analyses.Clusters(ctx, projectID)
	if err != nil {
		return nil, err
	}
	gaps, err := s.analyses.Gaps(ctx, projectID, nil)
	if err != nil {
		return nil, err
	}
	centrality, err := s.analyses.Centrality(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &AnalysisReport{Run: run, Clusters: clusters, Gaps: gaps, Centrality: centrality}, nil
}

// UpdateGapStatus applies a user-driven gap lifecycle transition and drops
// the project's cached analysis reads.
func (s *Service) UpdateGapStatus(ctx context.Context, projectID, gapID string, status analysis.GapStatus) error {
	if projectID == "" || gapID == "" {
		return errors.New(errors.ErrCodeValidation, "query: project and gap ids are required")
	}
	if !status.Valid() {
		return errors.Newf(errors.ErrCodeGapStatusInvalid, "query: unknown gap status %q", status)
	}

	if err := s.analyses.UpdateGapStatus(ctx, projectID, gapID, status); err != nil {
		return err
	}
	if s.cache != nil {
		if _, err := s.cache.DeleteByPrefix(ctx, "query:"+projectID); err != nil {
			s.log.Warn("analysis cache invalidation failed",
				logging.String("project_id", projectID), logging.Err(err))
		}
	}
	return nil
}

// cached reads through the cache when one is configured, and calls the
// loader directly otherwise.  Cache transport errors degrade to a direct
// load; a loader error is the caller's error.
func (s *Service) cached(ctx context.Context, key string, ttl time.Duration, dest interface{}, loader func(ctx context.Context) (interface{}, error)) error {
	if s.cache == nil {
		return s.loadInto(ctx, dest, loader)
	}

	err := s.cache.Get(ctx, key, dest)
	if err == nil {
		s.recordCache(true)
		return nil
	}
	if !errors.IsCode(err, errors.ErrCodeNotFound) {
		s.log.Warn("cache unavailable, loading directly", logging.Err(err))
		return s.loadInto(ctx, dest, loader)
	}

	s.recordCache(false)
	// GetOrSet collapses concurrent loads of the same key.
	if err := s.cache.GetOrSet(ctx, key, dest, ttl, loader); err != nil {
		if errors.IsCode(err, errors.ErrCodeCacheError) {
			return s.loadInto(ctx, dest, loader)
		}
		return err
	}
	return nil
}

func (s *Service) loadInto(ctx context.Context, dest interface{}, loader func(ctx context.Context) (interface{}, error)) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "query: encoding result")
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "query: decoding result")
	}
	return nil
}

func (s *Service) recordCache(hit bool) {
	if s.metrics != nil {
		s.metrics.RecordCacheAccess("query", hit)
	}
}

// cacheKey builds "query:<project>:<op>:<param hash>"; hashing keeps keys
// bounded regardless of parameter size.
func (s *Service) cacheKey(projectID, op string, params map[string]interface{}) string {
	key := "query:" + projectID + ":" + op
	if len(params) == 0 {
		return key
	}
	data, err := json.Marshal(params)
	if err != nil {
		return key
	}
	sum := sha256.Sum256(data)
	return key + ":" + hex.EncodeToString(sum[:8])
}

func normalizeScore(score float64) float64 {
	if score <= 0 {
		return 0
	}
	return score / (score + 1)
}
