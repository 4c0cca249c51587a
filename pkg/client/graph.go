package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/athene-kg/athene/pkg/types/kg"
)

// GraphClient drives the construction pipeline endpoints.
type GraphClient struct {
	client *Client
}

// Resolve runs a synchronous construction pass and returns its summary.
func (g *GraphClient) Resolve(ctx context.Context, projectID string, req kg.ResolveRequest) (*kg.ResolveSummary, error) {
	if projectID == "" {
		return nil, fmt.Errorf("athene: projectID is required")
	}
	var summary kg.ResolveSummary
	path := fmt.Sprintf("/api/v1/projects/%s/resolve", url.PathEscape(projectID))
	if err := g.client.post(ctx, path, req, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ResolveAsync queues a construction pass for a worker and returns the
// accepted job.
func (g *GraphClient) ResolveAsync(ctx context.Context, projectID string, req kg.ResolveRequest) (*kg.JobAccepted, error) {
	if projectID == "" {
		return nil, fmt.Errorf("athene: projectID is required")
	}
	var job kg.JobAccepted
	path := fmt.Sprintf("/api/v1/projects/%s/resolve?async=true", url.PathEscape(projectID))
	if err := g.client.post(ctx, path, req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Analyze runs synchronous gap analysis and returns the report.
// clusterCount zero lets the analyzer pick the count from graph size.
func (g *GraphClient) Analyze(ctx context.Context, projectID string, clusterCount int) (*kg.AnalysisReport, error) {
	if projectID == "" {
		return nil, fmt.Errorf("athene: projectID is required")
	}
	var report kg.AnalysisReport
	path := fmt.Sprintf("/api/v1/projects/%s/analyze", url.PathEscape(projectID))
	if clusterCount > 0 {
		path += fmt.Sprintf("?clusters=%d", clusterCount)
	}
	if err := g.client.post(ctx, path, struct{}{}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// AnalyzeAsync queues gap analysis for a worker.  clusterCount zero lets
// the analyzer pick the count from graph size.
func (g *GraphClient) AnalyzeAsync(ctx context.Context, projectID string, clusterCount int) (*kg.JobAccepted, error) {
	if projectID == "" {
		return nil, fmt.Errorf("athene: projectID is required")
	}
	var job kg.JobAccepted
	path := fmt.Sprintf("/api/v1/projects/%s/analyze?async=true", url.PathEscape(projectID))
	if clusterCount > 0 {
		path += fmt.Sprintf("&clusters=%d", clusterCount)
	}
	if err := g.client.post(ctx, path, struct{}{}, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
