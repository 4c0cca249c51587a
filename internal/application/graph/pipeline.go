// Package graph orchestrates the construction pipeline: resolve raw
// mentions into canonical entities, persist them, link cross-document
// identities, build relationship edges, refresh the search indexes, and
// announce the rewrite.  It owns the per-project single-writer lock; the
// engine packages underneath it stay free of storage and coordination
// concerns.
package graph

import (
	"context"
	"sort"
	"time"

	"github.com/athene-kg/athene/internal/domain/analysis"
	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/domain/relationship"
	"github.com/athene-kg/athene/internal/gapanalysis"
	"github.com/athene-kg/athene/internal/infrastructure/messaging/kafka"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/prometheus"
	"github.com/athene-kg/athene/internal/infrastructure/search/milvus"
	"github.com/athene-kg/athene/internal/infrastructure/search/opensearch"
	"github.com/athene-kg/athene/internal/relationships"
	"github.com/athene-kg/athene/internal/resolution"
	"github.com/athene-kg/athene/pkg/errors"
)

const (
	defaultLockTTL = 10 * time.Minute
	sourceService  = "athene-pipeline"
)

// Lease is a held pipeline lock.
type Lease interface {
	Release(ctx context.Context) error
	Extend(ctx context.Context, ttl time.Duration) (bool, error)
}

// Locker grants per-project pipeline leases.  Acquire fails fast with a
// lock-held error when another worker owns the project.
type Locker interface {
	Acquire(ctx context.Context, projectID string, ttl time.Duration) (Lease, error)
}

// EventPublisher announces pipeline completions.  *kafka.Producer
// satisfies it.
type EventPublisher interface {
	PublishEnvelope(ctx context.Context, topic string, env *kafka.JobEnvelope) error
}

// VectorIndex is the concept-embedding index surface the pipeline
// refreshes.  *milvus.Searcher satisfies it.
type VectorIndex interface {
	UpsertEmbeddings(ctx context.Context, vectors []milvus.ConceptVector) (int, error)
	DeleteByProject(ctx context.Context, projectID string) error
}

// NameIndex is the entity-name index surface the pipeline refreshes.
// *opensearch.Indexer satisfies it.
type NameIndex interface {
	IndexEntities(ctx context.Context, entities []*entity.Entity) (opensearch.BulkResult, error)
	DeleteByProject(ctx context.Context, projectID string) error
}

// CacheInvalidator drops a project's cached query results after a graph
// rewrite.  redis.Cache satisfies it.
type CacheInvalidator interface {
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// ResolveRequest is one construction pass over a batch of raw extracted
// mentions.
type ResolveRequest struct {
	ProjectID    string                      `json:"project_id"`
	Raws         []entity.Raw                `json:"entities"`
	Embeddings   map[string][]float32        `json:"embeddings,omitempty"`
	SupportLinks []relationships.SupportLink `json:"support_links,omitempty"`
}

// ResolveSummary reports what one construction pass changed.
type ResolveSummary struct {
	ProjectID         string              `json:"project_id"`
	Entities          int                 `json:"entities"`
	Relationships     int                 `json:"relationships"`
	CrossDocLinks     int                 `json:"cross_doc_links"`
	PrerequisiteEdges int                 `json:"prerequisite_edges"`
	Resolution        resolution.Stats    `json:"resolution"`
	RelationshipStats relationships.Stats `json:"relationship_stats"`
	Duration          time.Duration       `json:"duration"`
}

// Deps wires the pipeline service.  Prereq, Events, Vectors, Names, Cache,
// and Metrics are optional: a nil collaborator disables that side effect,
// never the pipeline itself.
type Deps struct {
	Resolver      *resolution.Resolver
	Linker        *resolution.CrossDocLinker
	Builder       *relationships.Builder
	Prereq        *relationships.PrerequisiteInferrer
	Detector      *gapanalysis.Detector
	Entities      entity.Repository
	Relationships relationship.Repository
	Analyses      analysis.Repository
	Locks         Locker
	Events        EventPublisher
	Vectors       VectorIndex
	Names         NameIndex
	Cache         CacheInvalidator
	Metrics       *prometheus.AppMetrics
	LockTTL       time.Duration
	Logger        logging.Logger
}

// PipelineService runs the resolve and analyze pipelines, one project at a
// time per operation, guarded by the distributed lock.
type PipelineService struct {
	deps    Deps
	lockTTL time.Duration
	log     logging.Logger
}

// NewPipelineService validates the required collaborators and builds the
// service.
func NewPipelineService(d Deps) (*PipelineService, error) {
	switch {
	case d.Resolver == nil:
		return nil, errors.New(errors.ErrCodeValidation, "pipeline: resolver is required")
	case d.Linker == nil:
		return nil, errors.New(errors.ErrCodeValidation, "pipeline: cross-document linker is required")
	case d.Builder == nil:
		return nil, errors.New(errors.ErrCodeValidation, "pipeline: relationship builder is required")
	case d.Detector == nil:
		return nil, errors.New(errors.ErrCodeValidation, "pipeline: gap detector is required")
	case d.Entities == nil:
		return nil, errors.New(errors.ErrCodeValidation, "pipeline: entity repository is required")
	case d.Relationships == nil:
		return nil, errors.New(errors.ErrCodeValidation, "pipeline: relationship repository is required")
	case d.Analyses == nil:
		return nil, errors.New(errors.ErrCodeValidation, "pipeline: analysis repository is required")
	case d.Locks == nil:
		return nil, errors.New(errors.ErrCodeValidation, "pipeline: lock manager is required")
	}
	ttl := d.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	log := d.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &PipelineService{deps: d, lockTTL: ttl, log: log.Named("pipeline")}, nil
}

// ResolveProject runs the full construction pass for one project: resolve,
// persist, cross-document link, build edges, persist edges, refresh
// indexes, invalidate caches, announce.  Holding the project lock for the
// whole pass keeps entity and edge writes from interleaving with a
// concurrent run.
func (s *PipelineService) ResolveProject(ctx context.Context, req ResolveRequest) (*ResolveSummary, error) {
	if req.ProjectID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "pipeline: project id is required")
	}
	if len(req.Raws) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "pipeline: no entities to resolve")
	}

	lease, err := s.deps.Locks.Acquire(ctx, req.ProjectID, s.lockTTL)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeJobLockHeld) {
			return nil, errors.Wrap(err, errors.ErrCodeResolutionLocked, "pipeline: project is being resolved by another worker")
		}
		return nil, err
	}
	defer s.release(lease, req.ProjectID)

	started := time.Now()

	resolved, stats, err := s.deps.Resolver.Resolve(ctx, req.ProjectID, req.Raws, req.Embeddings)
	if err != nil {
		s.recordResolution("failed", started, 0)
		return nil, err
	}

	if err := s.deps.Entities.UpsertBatch(ctx, resolved); err != nil {
		s.recordResolution("failed", started, 0)
		return nil, errors.Wrap(err, errors.ErrCodeResolutionFailed, "pipeline: persisting resolved entities")
	}

	links, err := s.deps.Linker.Link(ctx, req.ProjectID)
	if err != nil {
		s.recordResolution("failed", started, 0)
		return nil, err
	}

	rels, relStats := s.deps.Builder.BuildAll(req.ProjectID, buildInput(resolved, req.SupportLinks))

	prereqEdges := 0
	if s.deps.Prereq != nil {
		extra := s.deps.Prereq.Infer(ctx, req.ProjectID, conceptsByID(resolved), rels)
		prereqEdges = len(extra)
		rels = append(rels, extra...)
	}

	if len(rels) > 0 {
		if err := s.deps.Relationships.UpsertBatch(ctx, rels); err != nil {
			s.recordResolution("failed", started, 0)
			return nil, errors.Wrap(err, errors.ErrCodeRelationshipBatchWrite, "pipeline: persisting relationships")
		}
	}

	s.refreshIndexes(ctx, req.ProjectID, resolved)
	s.invalidateQueries(ctx, req.ProjectID)

	merges := stats.AutoMerged + stats.Confirmed + links
	s.recordResolution("completed", started, merges)

	s.publishEvent(ctx, kafka.TopicGraphUpdated, kafka.EventTypeGraphUpdated, req.ProjectID, kafka.GraphUpdatedEvent{
		ProjectID:         req.ProjectID,
		EntitiesUpserted:  len(resolved),
		RelationshipCount: len(rels),
		MergesApplied:     merges,
		CompletedAt:       time.Now().UTC(),
	})

	summary := &ResolveSummary{
		ProjectID:         req.ProjectID,
		Entities:          len(resolved),
		Relationships:     len(rels),
		CrossDocLinks:     links,
		PrerequisiteEdges: prereqEdges,
		Resolution:        stats,
		RelationshipStats: relStats,
		Duration:          time.Since(started),
	}
	s.log.Info("construction pass completed",
		logging.String("project_id", req.ProjectID),
		logging.Int("entities", summary.Entities),
		logging.Int("relationships", summary.Relationships),
		logging.Int("cross_doc_links", links),
		logging.Duration("duration", summary.Duration))
	return summary, nil
}

// AnalyzeProject loads the project's concept subgraph, runs gap analysis,
// and persists the run with replace-prior semantics.  Insufficient data is
// a valid completed run, not an error.  clusterCount zero lets the
// detector pick k.
func (s *PipelineService) AnalyzeProject(ctx context.Context, projectID string, clusterCount int) (*gapanalysis.Result, error) {
	if projectID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "pipeline: project id is required")
	}

	lease, err := s.deps.Locks.Acquire(ctx, projectID, s.lockTTL)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeJobLockHeld) {
			return nil, errors.Wrap(err, errors.ErrCodeResolutionLocked, "pipeline: project is locked by another worker")
		}
		return nil, err
	}
	defer s.release(lease, projectID)

	started := time.Now()

	concepts, err := s.deps.Entities.GetByProject(ctx, projectID, []entity.Type{entity.TypeConcept})
	if err != nil {
		s.recordAnalysis("failed", started, nil)
		return nil, errors.Wrap(err, errors.ErrCodeAnalysisFailed, "pipeline: loading concepts")
	}
	rels, err := s.deps.Relationships.GetByProject(ctx, projectID, nil)
	if err != nil {
		s.recordAnalysis("failed", started, nil)
		return nil, errors.Wrap(err, errors.ErrCodeAnalysisFailed, "pipeline: loading relationships")
	}

	result := s.deps.Detector.AnalyzeWithClusterCount(ctx, projectID, concepts, rels, clusterCount)

	if err := s.deps.Analyses.SaveRun(ctx, &result.Run, result.Clusters, result.Gaps, centralitySlice(result.Centrality)); err != nil {
		s.recordAnalysis("failed", started, nil)
		return nil, errors.Wrap(err, errors.ErrCodeAnalysisFailed, "pipeline: persisting analysis run")
	}

	if result.Run.Status == analysis.RunCompleted {
		if err := s.deps.Entities.UpdateClusterAssignments(ctx, projectID, result.Assignments); err != nil {
			// The run row is already durable; stale cluster ids on nodes
			// are repaired by the next run.
			s.log.Warn("updating cluster assignments failed",
				logging.String("project_id", projectID), logging.Err(err))
		}
	}

	s.invalidateQueries(ctx, projectID)
	s.recordAnalysis(string(result.Run.Status), started, result)

	s.publishEvent(ctx, kafka.TopicAnalysisCompleted, kafka.EventTypeAnalysisCompleted, projectID, kafka.AnalysisCompletedEvent{
		ProjectID:    projectID,
		RunID:        result.Run.ID,
		Status:       string(result.Run.Status),
		ClusterCount: result.Run.ClusterCount,
		GapCount:     result.Run.GapCount,
		CompletedAt:  time.Now().UTC(),
	})

	s.log.Info("analysis run completed",
		logging.String("project_id", projectID),
		logging.String("status", string(result.Run.Status)),
		logging.Int("clusters", result.Run.ClusterCount),
		logging.Int("gaps", result.Run.GapCount))
	return result, nil
}

// refreshIndexes pushes the pass's entities into the optional search
// indexes.  Index failures degrade search freshness, not graph
// correctness, so they log and continue.
func (s *PipelineService) refreshIndexes(ctx context.Context, projectID string, resolved []*entity.Entity) {
	if s.deps.Vectors != nil {
		vectors := make([]milvus.ConceptVector, 0, len(resolved))
		for _, e := range resolved {
			if len(e.Embedding) == 0 {
				continue
			}
			vectors = append(vectors, milvus.ConceptVector{
				EntityID:  e.ID,
				ProjectID: e.ProjectID,
				Embedding: e.Embedding,
			})
		}
		if _, err := s.deps.Vectors.UpsertEmbeddings(ctx, vectors); err != nil {
			s.log.Warn("vector index refresh failed",
				logging.String("project_id", projectID), logging.Err(err))
		}
	}

	if s.deps.Names != nil {
		result, err := s.deps.Names.IndexEntities(ctx, resolved)
		if err != nil {
			s.log.Warn("name index refresh failed",
				logging.String("project_id", projectID), logging.Err(err))
		} else if result.Failed > 0 {
			s.log.Warn("name index refresh partially failed",
				logging.String("project_id", projectID),
				logging.Int("failed", result.Failed))
		}
	}
}

func (s *PipelineService) invalidateQueries(ctx context.Context, projectID string) {
	if s.deps.Cache == nil {
		return
	}
	if _, err := s.deps.Cache.DeleteByPrefix(ctx, "query:"+projectID); err != nil {
		s.log.Warn("query cache invalidation failed",
			logging.String("project_id", projectID), logging.Err(err))
	}
}

func (s *PipelineService) publishEvent(ctx context.Context, topic, eventType, projectID string, payload interface{}) {
	if s.deps.Events == nil {
		return
	}
	env, err := kafka.NewJobEnvelope(eventType, projectID, sourceService, payload)
	if err != nil {
		s.log.Warn("building completion event failed", logging.Err(err))
		return
	}
	if err := s.deps.Events.PublishEnvelope(ctx, topic, env); err != nil {
		s.log.Warn("publishing completion event failed",
			logging.String("topic", topic), logging.Err(err))
	}
}

func (s *PipelineService) release(lease Lease, projectID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lease.Release(ctx); err != nil {
		s.log.Warn("releasing pipeline lock failed",
			logging.String("project_id", projectID), logging.Err(err))
	}
}

func (s *PipelineService) recordResolution(status string, started time.Time, merges int) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordResolutionRun(status, time.Since(started), merges)
	}
}

func (s *PipelineService) recordAnalysis(status string, started time.Time, result *gapanalysis.Result) {
	if s.deps.Metrics == nil {
		return
	}
	clusters, gaps := 0, 0
	if result != nil {
		clusters, gaps = result.Run.ClusterCount, result.Run.GapCount
	}
	s.deps.Metrics.RecordAnalysisRun(status, time.Since(started), clusters, gaps)
}

// buildInput projects the resolved entities into the relationship
// builder's shape: entities bucketed by type, and the document → type →
// entity-id incidence map recovered from source document ids.
func buildInput(resolved []*entity.Entity, links []relationships.SupportLink) relationships.Input {
	byType := make(map[entity.Type][]*entity.Entity)
	docs := make(map[string]map[entity.Type][]string)
	for _, e := range resolved {
		byType[e.Type] = append(byType[e.Type], e)
		for _, docID := range e.SourceDocumentIDs {
			perType, ok := docs[docID]
			if !ok {
				perType = make(map[entity.Type][]string)
				docs[docID] = perType
			}
			perType[e.Type] = append(perType[e.Type], e.ID)
		}
	}
	return relationships.Input{
		EntitiesByType:   byType,
		DocumentEntities: docs,
		SupportLinks:     links,
	}
}

func conceptsByID(resolved []*entity.Entity) map[string]*entity.Entity {
	concepts := make(map[string]*entity.Entity)
	for _, e := range resolved {
		if e.Type == entity.TypeConcept {
			concepts[e.ID] = e
		}
	}
	return concepts
}

func centralitySlice(byID map[string]*analysis.CentralityMetrics) []*analysis.CentralityMetrics {
	out := make([]*analysis.CentralityMetrics, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}
