package graphquery

import (
	"context"

	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/domain/relationship"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
)

// StatsResult summarizes a project's graph: node counts per entity type
// and edge counts per relationship type.
type StatsResult struct {
	Status     Status                    `json:"status"`
	Reason     string                    `json:"reason,omitempty"`
	ProjectID  string                    `json:"project_id"`
	NodeCounts map[entity.Type]int       `json:"node_counts"`
	EdgeCounts map[relationship.Type]int `json:"edge_counts"`
	TotalNodes int                       `json:"total_nodes"`
	TotalEdges int                       `json:"total_edges"`
}

// ProjectStats aggregates node and edge counts by type.  Both counts come
// from single-aggregate queries, so this stays cheap even on large graphs.
func (s *Service) ProjectStats(ctx context.Context, projectID string) *StatsResult {
	nodes, err := s.entities.CountByType(ctx, projectID)
	if err != nil {
		s.log.Error("node count query failed",
			logging.String("project_id", projectID), logging.Err(err))
		return &StatsResult{Status: StatusError, Reason: "graph storage unavailable", ProjectID: projectID}
	}
	edges, err := s.rels.CountByType(ctx, projectID)
	if err != nil {
		s.log.Error("edge count query failed",
			logging.String("project_id", projectID), logging.Err(err))
		return &StatsResult{Status: StatusError, Reason: "graph storage unavailable", ProjectID: projectID}
	}

	result := &StatsResult{
		Status:     StatusOK,
		ProjectID:  projectID,
		NodeCounts: nodes,
		EdgeCounts: edges,
	}
	for _, n := range nodes {
		result.TotalNodes += n
	}
	for _, n := range edges {
		result.TotalEdges += n
	}
	return result
}
