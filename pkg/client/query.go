package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/athene-kg/athene/pkg/types/kg"
)

// QueryClient drives the read-side endpoints.
type QueryClient struct {
	client *Client
}

// SearchEntities finds entities by name, optionally filtered by type.  A
// positive minConfidence drops matches below it.
func (q *QueryClient) SearchEntities(ctx context.Context, projectID, query string, types []kg.EntityType, limit int, minConfidence float64) (*kg.SearchResult, error) {
	if projectID == "" || query == "" {
		return nil, fmt.Errorf("athene: projectID and query are required")
	}

	params := url.Values{}
	params.Set("q", query)
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		params.Set("types", strings.Join(names, ","))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if minConfidence > 0 {
		params.Set("min_confidence", strconv.FormatFloat(minConfidence, 'f', -1, 64))
	}

	var result kg.SearchResult
	path := fmt.Sprintf("/api/v1/projects/%s/entities/search?%s", url.PathEscape(projectID), params.Encode())
	if err := q.client.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SimilarEntities lists the entities nearest to one entity in embedding
// space.  Requires the server's vector index to be enabled.
func (q *QueryClient) SimilarEntities(ctx context.Context, projectID, entityID string, limit int) (*kg.SearchResult, error) {
	if projectID == "" || entityID == "" {
		return nil, fmt.Errorf("athene: projectID and entityID are required")
	}

	path := fmt.Sprintf("/api/v1/projects/%s/entities/similar/%s",
		url.PathEscape(projectID), url.PathEscape(entityID))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var result kg.SearchResult
	if err := q.client.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Traverse expands the graph outward from a set of start nodes.
func (q *QueryClient) Traverse(ctx context.Context, projectID string, req kg.TraverseRequest) (*kg.TraversalResult, error) {
	if projectID == "" {
		return nil, fmt.Errorf("athene: projectID is required")
	}
	var result kg.TraversalResult
	path := fmt.Sprintf("/api/v1/projects/%s/graph/traverse", url.PathEscape(projectID))
	if err := q.client.post(ctx, path, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Subgraph extracts the neighborhood around one node.
func (q *QueryClient) Subgraph(ctx context.Context, projectID, nodeID string, depth, maxNodes int) (*kg.TraversalResult, error) {
	if projectID == "" || nodeID == "" {
		return nil, fmt.Errorf("athene: projectID and nodeID are required")
	}

	params := url.Values{}
	if depth > 0 {
		params.Set("depth", strconv.Itoa(depth))
	}
	if maxNodes > 0 {
		params.Set("max_nodes", strconv.Itoa(maxNodes))
	}

	var result kg.TraversalResult
	path := fmt.Sprintf("/api/v1/projects/%s/graph/subgraph/%s", url.PathEscape(projectID), url.PathEscape(nodeID))
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}
	if err := q.client.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GapCandidates lists under-discussed concepts worth investigating.
func (q *QueryClient) GapCandidates(ctx context.Context, projectID string, maxPapers int) (*kg.GapCandidatesResult, error) {
	if projectID == "" {
		return nil, fmt.Errorf("athene: projectID is required")
	}

	path := fmt.Sprintf("/api/v1/projects/%s/gaps/candidates", url.PathEscape(projectID))
	if maxPapers > 0 {
		path += "?max_papers=" + strconv.Itoa(maxPapers)
	}

	var result kg.GapCandidatesResult
	if err := q.client.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stats reports node and edge counts by type.
func (q *QueryClient) Stats(ctx context.Context, projectID string) (*kg.GraphStats, error) {
	if projectID == "" {
		return nil, fmt.Errorf("athene: projectID is required")
	}
	var stats kg.GraphStats
	path := fmt.Sprintf("/api/v1/projects/%s/graph/stats", url.PathEscape(projectID))
	if err := q.client.get(ctx, path, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// LatestAnalysis fetches the most recent gap-analysis report.
func (q *QueryClient) LatestAnalysis(ctx context.Context, projectID string) (*kg.AnalysisReport, error) {
	if projectID == "" {
		return nil, fmt.Errorf("athene: projectID is required")
	}
	var report kg.AnalysisReport
	path := fmt.Sprintf("/api/v1/projects/%s/analysis/latest", url.PathEscape(projectID))
	if err := q.client.get(ctx, path, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// UpdateGapStatus moves a gap through its review lifecycle.
func (q *QueryClient) UpdateGapStatus(ctx context.Context, projectID, gapID string, status kg.GapStatus) error {
	if projectID == "" || gapID == "" {
		return fmt.Errorf("athene: projectID and gapID are required")
	}
	if !status.Valid() {
		return fmt.Errorf("athene: invalid gap status %q", status)
	}
	path := fmt.Sprintf("/api/v1/projects/%s/gaps/%s/status", url.PathEscape(projectID), url.PathEscape(gapID))
	return q.client.patch(ctx, path, kg.GapStatusUpdate{Status: status}, nil)
}
