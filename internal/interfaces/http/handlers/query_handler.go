package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/athene-kg/athene/internal/application/query"
	"github.com/athene-kg/athene/internal/domain/analysis"
	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/domain/relationship"
	"github.com/athene-kg/athene/internal/graphquery"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/pkg/errors"
)

// QueryService is the read-side surface the query handler drives.
type QueryService interface {
	Search(ctx context.Context, projectID, text string, types []entity.Type, limit int, minConfidence float64) (*graphquery.SearchResult, error)
	Similar(ctx context.Context, projectID, entityID string, limit int) (*graphquery.SearchResult, error)
	Traverse(ctx context.Context, projectID string, startIDs []string, maxHops int, relTypes []relationship.Type, limit int, minConfidence float64) (*graphquery.TraversalResult, error)
	Subgraph(ctx context.Context, projectID, nodeID string, depth, maxNodes int) (*graphquery.TraversalResult, error)
	GapCandidates(ctx context.Context, projectID string, maxPapers int) (*graphquery.GapCandidatesResult, error)
	Stats(ctx context.Context, projectID string) (*graphquery.StatsResult, error)
	LatestAnalysis(ctx context.Context, projectID string) (*query.AnalysisReport, error)
	UpdateGapStatus(ctx context.Context, projectID, gapID string, status analysis.GapStatus) error
}

// QueryHandler exposes graph queries and analysis reads over HTTP.
type QueryHandler struct {
	queries QueryService
	log     logging.Logger
}

func NewQueryHandler(queries QueryService, log logging.Logger) *QueryHandler {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &QueryHandler{queries: queries, log: log.Named("http.query")}
}

// Search finds entities by name.
//
// GET /api/v1/projects/:projectID/entities/search?q=...&types=CONCEPT,METHOD&limit=20&min_confidence=0.5
func (h *QueryHandler) Search(c *gin.Context) {
	projectID := c.Param("projectID")
	text := c.Query("q")
	if text == "" {
		respondValidation(c, "query parameter q is required")
		return
	}

	result, err := h.queries.Search(c.Request.Context(), projectID, text,
		parseTypes(c.Query("types")), queryInt(c, "limit", 0), queryFloat(c, "min_confidence", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// Similar lists the entities nearest to one entity in embedding space.
//
// GET /api/v1/projects/:projectID/entities/similar/:entityID?limit=10
func (h *QueryHandler) Similar(c *gin.Context) {
	result, err := h.queries.Similar(c.Request.Context(),
		c.Param("projectID"), c.Param("entityID"), queryInt(c, "limit", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

type traverseRequestBody struct {
	StartIDs          []string `json:"start_ids"`
	MaxHops           int      `json:"max_hops,omitempty"`
	RelationshipTypes []string `json:"relationship_types,omitempty"`
	Limit             int      `json:"limit,omitempty"`
	MinConfidence     float64  `json:"min_confidence,omitempty"`
}

// Traverse walks the graph outward from a set of start nodes.
//
// POST /api/v1/projects/:projectID/graph/traverse
func (h *QueryHandler) Traverse(c *gin.Context) {
	projectID := c.Param("projectID")

	var body traverseRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, errors.Wrap(err, errors.ErrCodeValidation, "decoding traverse request"))
		return
	}

	relTypes := make([]relationship.Type, 0, len(body.RelationshipTypes))
	for _, t := range body.RelationshipTypes {
		relTypes = append(relTypes, relationship.Type(t))
	}

	result, err := h.queries.Traverse(c.Request.Context(), projectID, body.StartIDs, body.MaxHops, relTypes, body.Limit, body.MinConfidence)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// Subgraph extracts the neighborhood around a single node.
//
// GET /api/v1/projects/:projectID/graph/subgraph/:nodeID?depth=2&max_nodes=100
func (h *QueryHandler) Subgraph(c *gin.Context) {
	projectID := c.Param("projectID")
	nodeID := c.Param("nodeID")

	result, err := h.queries.Subgraph(c.Request.Context(), projectID, nodeID, queryInt(c, "depth", 0), queryInt(c, "max_nodes", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// Stats reports node and edge counts by type.
//
// GET /api/v1/projects/:projectID/graph/stats
func (h *QueryHandler) Stats(c *gin.Context) {
	result, err := h.queries.Stats(c.Request.Context(), c.Param("projectID"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// GapCandidates lists weakly-connected concept pairs worth investigating.
//
// GET /api/v1/projects/:projectID/gaps/candidates?max_papers=2
func (h *QueryHandler) GapCandidates(c *gin.Context) {
	projectID := c.Param("projectID")

	result, err := h.queries.GapCandidates(c.Request.Context(), projectID, queryInt(c, "max_papers", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// LatestAnalysis returns the most recent gap-analysis run with its
// clusters, gaps, and centrality metrics.
//
// GET /api/v1/projects/:projectID/analysis/latest
func (h *QueryHandler) LatestAnalysis(c *gin.Context) {
	projectID := c.Param("projectID")

	report, err := h.queries.LatestAnalysis(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, report)
}

type gapStatusBody struct {
	Status string `json:"status"`
}

// UpdateGapStatus moves a detected gap through its review lifecycle.
//
// PATCH /api/v1/projects/:projectID/gaps/:gapID/status
func (h *QueryHandler) UpdateGapStatus(c *gin.Context) {
	projectID := c.Param("projectID")
	gapID := c.Param("gapID")

	var body gapStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, errors.Wrap(err, errors.ErrCodeValidation, "decoding gap status request"))
		return
	}

	if err := h.queries.UpdateGapStatus(c.Request.Context(), projectID, gapID, analysis.GapStatus(body.Status)); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"gap_id": gapID, "status": body.Status})
}

func parseTypes(raw string) []entity.Type {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	types := make([]entity.Type, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			types = append(types, entity.ParseType(p))
		}
	}
	return types
}
