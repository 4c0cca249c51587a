package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/athene-kg/athene/internal/application/graph"
	"github.com/athene-kg/athene/internal/domain/analysis"
	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/gapanalysis"
	"github.com/athene-kg/athene/internal/infrastructure/messaging/kafka"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/relationships"
	"github.com/athene-kg/athene/pkg/errors"
)

// Pipeline is the write-side surface the graph handler drives.
type Pipeline interface {
	ResolveProject(ctx context.Context, req graph.ResolveRequest) (*graph.ResolveSummary, error)
	AnalyzeProject(ctx context.Context, projectID string, clusterCount int) (*gapanalysis.Result, error)
}

// JobPublisher submits pipeline jobs for asynchronous execution by a
// worker.  A nil publisher disables async mode.
type JobPublisher interface {
	PublishEnvelope(ctx context.Context, topic string, env *kafka.JobEnvelope) error
}

// JobAccepted is the 202 body for an async job submission.
type JobAccepted struct {
	JobID     string `json:"job_id"`
	JobType   string `json:"job_type"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
}

// GraphHandler exposes the construction pipeline over HTTP.
type GraphHandler struct {
	pipeline Pipeline
	jobs     JobPublisher
	log      logging.Logger
}

func NewGraphHandler(pipeline Pipeline, jobs JobPublisher, log logging.Logger) *GraphHandler {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &GraphHandler{pipeline: pipeline, jobs: jobs, log: log.Named("http.graph")}
}

type resolveRequestBody struct {
	Entities     []entity.Raw                `json:"entities"`
	Embeddings   map[string][]float32        `json:"embeddings,omitempty"`
	SupportLinks []relationships.SupportLink `json:"support_links,omitempty"`
	DocumentIDs  []string                    `json:"document_ids,omitempty"`
	RequestedBy  string                      `json:"requested_by,omitempty"`
}

// Resolve runs entity resolution and relationship building for a project.
// With ?async=true the job is queued for a worker and the call returns 202;
// otherwise the pipeline runs inline and returns the pass summary.
//
// POST /api/v1/projects/:projectID/resolve
func (h *GraphHandler) Resolve(c *gin.Context) {
	projectID := c.Param("projectID")
	if projectID == "" {
		respondValidation(c, "project id is required")
		return
	}

	var body resolveRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, errors.Wrap(err, errors.ErrCodeValidation, "decoding resolve request"))
		return
	}

	if len(body.Entities) == 0 {
		respondValidation(c, "entities are required")
		return
	}

	if asyncRequested(c) {
		h.submitJob(c, kafka.TopicResolveJobs, kafka.JobTypeResolve, projectID, kafka.ResolveJobPayload{
			ProjectID:    projectID,
			Entities:     body.Entities,
			Embeddings:   body.Embeddings,
			SupportLinks: body.SupportLinks,
			DocumentIDs:  body.DocumentIDs,
			RequestedBy:  body.RequestedBy,
			RequestedAt:  time.Now().UTC(),
		})
		return
	}

	summary, err := h.pipeline.ResolveProject(c.Request.Context(), graph.ResolveRequest{
		ProjectID:    projectID,
		Raws:         body.Entities,
		Embeddings:   body.Embeddings,
		SupportLinks: body.SupportLinks,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, summary)
}

// analyzeResponse flattens a gap-analysis result for the wire.
type analyzeResponse struct {
	Run      analysis.Run               `json:"run"`
	Clusters []*analysis.ConceptCluster `json:"clusters"`
	Gaps     []*analysis.StructuralGap  `json:"gaps"`
	Summary  string                     `json:"summary,omitempty"`
}

// Analyze runs structural gap analysis for a project.  Like Resolve it
// supports ?async=true for queued execution.  ?clusters=N forces the
// cluster count; zero or absent lets the detector pick.
//
// POST /api/v1/projects/:projectID/analyze
func (h *GraphHandler) Analyze(c *gin.Context) {
	projectID := c.Param("projectID")
	if projectID == "" {
		respondValidation(c, "project id is required")
		return
	}
	clusters := queryInt(c, "clusters", 0)

	if asyncRequested(c) {
		h.submitJob(c, kafka.TopicAnalyzeJobs, kafka.JobTypeAnalyze, projectID, kafka.AnalyzeJobPayload{
			ProjectID:    projectID,
			ClusterCount: clusters,
			RequestedAt:  time.Now().UTC(),
		})
		return
	}

	result, err := h.pipeline.AnalyzeProject(c.Request.Context(), projectID, clusters)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, analyzeResponse{
		Run:      result.Run,
		Clusters: result.Clusters,
		Gaps:     result.Gaps,
		Summary:  result.Summary,
	})
}

func asyncRequested(c *gin.Context) bool {
	return c.Query("async") == "true"
}

func (h *GraphHandler) submitJob(c *gin.Context, topic, jobType, projectID string, payload interface{}) {
	if h.jobs == nil {
		respondError(c, errors.New(errors.ErrCodeStoreUnavailable, "async execution is not configured"))
		return
	}
	env, err := kafka.NewJobEnvelope(jobType, projectID, "apiserver", payload)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.jobs.PublishEnvelope(c.Request.Context(), topic, env); err != nil {
		h.log.Error("publishing job", logging.String("topic", topic), logging.Err(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, JobAccepted{
		JobID:     env.JobID,
		JobType:   jobType,
		ProjectID: projectID,
		Status:    "queued",
	})
}
