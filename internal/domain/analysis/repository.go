package analysis

import "context"

// Repository is the persistence contract for analysis results, backed by
// postgres.  SaveRun is transactional: the new run's clusters, gaps, and
// centrality rows replace the project's previous run atomically, so readers
// never observe a mix of two runs.
type Repository interface {
	// SaveRun persists a completed run and its artifacts, replacing any
	// prior run for the same project.
	SaveRun(ctx context.Context, run *Run, clusters []*ConceptCluster, gaps []*StructuralGap, centrality []*CentralityMetrics) error

	// LatestRun returns the most recent run for a project, or a not-found
	// error when the project has never been analyzed.
	LatestRun(ctx context.Context, projectID string) (*Run, error)

	// Clusters returns the clusters of the project's latest run.
	Clusters(ctx context.Context, projectID string) ([]*ConceptCluster, error)

	// Gaps returns the latest run's gaps, optionally filtered by status.
	Gaps(ctx context.Context, projectID string, statuses []GapStatus) ([]*StructuralGap, error)

	// UpdateGapStatus applies a user-driven lifecycle transition.  The
	// implementation must load the gap and enforce GapStatus.CanTransition.
	UpdateGapStatus(ctx context.Context, projectID, gapID string, status GapStatus) error

	// Centrality returns the latest run's centrality metrics.
	Centrality(ctx context.Context, projectID string) ([]*CentralityMetrics, error)
}
