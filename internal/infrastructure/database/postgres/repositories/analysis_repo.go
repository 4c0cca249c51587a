// Package repositories provides the PostgreSQL-backed implementation of the
// analysis repository contract.  Analysis artifacts are replaced wholesale
// per run inside one transaction, so readers never observe a mix of runs.
package repositories

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/athene-kg/athene/internal/domain/analysis"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/pkg/errors"
)

// DB is the pgx surface the repository needs.  *pgxpool.Pool satisfies it;
// tests substitute fakes.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// latestRunSubquery selects the project's most recent run id; artifact reads
// are always scoped to it.
const latestRunSubquery = `SELECT id FROM analysis_runs WHERE project_id = $1 ORDER BY started_at DESC LIMIT 1`

type analysisRepo struct {
	db  DB
	log logging.Logger
}

// NewAnalysisRepository returns the postgres implementation of
// analysis.Repository.
func NewAnalysisRepository(db DB, log logging.Logger) analysis.Repository {
	return &analysisRepo{db: db, log: log}
}

func (r *analysisRepo) SaveRun(ctx context.Context, run *analysis.Run, clusters []*analysis.ConceptCluster, gaps []*analysis.StructuralGap, centrality []*analysis.CentralityMetrics) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "beginning save-run transaction")
	}
	defer tx.Rollback(ctx)

	// A run replaces the project's previous run; the cascade removes its
	// clusters, gaps, and centrality rows.
	if _, err := tx.Exec(ctx,
		`DELETE FROM analysis_runs WHERE project_id = $1`, run.ProjectID); err != nil {
		return errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "clearing prior run")
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO analysis_runs
			(id, project_id, started_at, finished_at, concept_count, cluster_count, gap_count, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.ProjectID, run.StartedAt, run.FinishedAt,
		run.ConceptCount, run.ClusterCount, run.GapCount, string(run.Status), run.Reason,
	); err != nil {
		return errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "inserting run record")
	}

	for _, c := range clusters {
		if _, err := tx.Exec(ctx, `
			INSERT INTO concept_clusters
				(run_id, cluster_id, project_id, name, color, concept_ids, keywords, centroid)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.RunID, c.ID, c.ProjectID, c.Name, c.Color, c.ConceptIDs, c.Keywords, c.Centroid,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "inserting cluster")
		}
	}

	for _, g := range gaps {
		edgesJSON, err := json.Marshal(g.PotentialEdges)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "marshaling potential edges")
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO structural_gaps
				(id, run_id, project_id, cluster_a_id, cluster_b_id, gap_strength,
				 concept_a_ids, concept_b_ids, bridge_concepts, potential_edges,
				 suggested_questions, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			g.ID, g.RunID, g.ProjectID, g.ClusterAID, g.ClusterBID, g.GapStrength,
			g.ConceptAIDs, g.ConceptBIDs, g.BridgeConcepts, edgesJSON,
			g.SuggestedQuestions, string(g.Status),
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "inserting gap")
		}
	}

	for _, m := range centrality {
		if _, err := tx.Exec(ctx, `
			INSERT INTO centrality_metrics
				(run_id, project_id, entity_id, degree, betweenness, pagerank)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			run.ID, run.ProjectID, m.EntityID, m.Degree, m.Betweenness, m.PageRank,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "inserting centrality row")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "committing save-run transaction")
	}

	r.log.Info("saved analysis run",
		logging.String("run_id", run.ID),
		logging.String("project_id", run.ProjectID),
		logging.Int("clusters", len(clusters)),
		logging.Int("gaps", len(gaps)))
	return nil
}

func (r *analysisRepo) LatestRun(ctx context.Context, projectID string) (*analysis.Run, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, project_id, started_at, finished_at, concept_count, cluster_count, gap_count, status, reason
		FROM analysis_runs
		WHERE project_id = $1
		ORDER BY started_at DESC
		LIMIT 1`, projectID)

	var run analysis.Run
	var status string
	err := row.Scan(&run.ID, &run.ProjectID, &run.StartedAt, &run.FinishedAt,
		&run.ConceptCount, &run.ClusterCount, &run.GapCount, &status, &run.Reason)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Newf(errors.ErrCodeProjectNotFound, "project %s has no analysis runs", projectID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "reading latest run")
	}
	run.Status = analysis.RunStatus(status)
	return &run, nil
}

func (r *analysisRepo) Clusters(ctx context.Context, projectID string) ([]*analysis.ConceptCluster, error) {
	rows, err := r.db.Query(ctx, `
		SELECT c.run_id, c.cluster_id, c.project_id, c.name, c.color, c.concept_ids, c.keywords, c.centroid
		FROM concept_clusters c
		WHERE c.run_id = (`+latestRunSubquery+`)
		ORDER BY c.cluster_id`, projectID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "reading clusters")
	}
	defer rows.Close()

	var clusters []*analysis.ConceptCluster
	for rows.Next() {
		var c analysis.ConceptCluster
		if err := rows.Scan(&c.RunID, &c.ID, &c.ProjectID, &c.Name, &c.Color,
			&c.ConceptIDs, &c.Keywords, &c.Centroid); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "scanning cluster")
		}
		clusters = append(clusters, &c)
	}
	return clusters, rows.Err()
}

func (r *analysisRepo) Gaps(ctx context.Context, projectID string, statuses []analysis.GapStatus) ([]*analysis.StructuralGap, error) {
	statusFilter := make([]string, 0, len(statuses))
	for _, s := range statuses {
		statusFilter = append(statusFilter, string(s))
	}

	rows, err := r.db.Query(ctx, `
		SELECT g.id, g.run_id, g.project_id, g.cluster_a_id, g.cluster_b_id, g.gap_strength,
			g.concept_a_ids, g.concept_b_ids, g.bridge_concepts, g.potential_edges,
			g.suggested_questions, g.status
		FROM structural_gaps g
		WHERE g.run_id = (`+latestRunSubquery+`)
			AND (cardinality($2::text[]) = 0 OR g.status = ANY($2))
		ORDER BY g.gap_strength ASC`, projectID, statusFilter)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "reading gaps")
	}
	defer rows.Close()

	var gaps []*analysis.StructuralGap
	for rows.Next() {
		var g analysis.StructuralGap
		var status string
		var edgesJSON []byte
		if err := rows.Scan(&g.ID, &g.RunID, &g.ProjectID, &g.ClusterAID, &g.ClusterBID,
			&g.GapStrength, &g.ConceptAIDs, &g.ConceptBIDs, &g.BridgeConcepts,
			&edgesJSON, &g.SuggestedQuestions, &status); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "scanning gap")
		}
		if len(edgesJSON) > 0 {
			if err := json.Unmarshal(edgesJSON, &g.PotentialEdges); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeSerialization, "unmarshaling potential edges")
			}
		}
		g.Status = analysis.GapStatus(status)
		gaps = append(gaps, &g)
	}
	return gaps, rows.Err()
}

func (r *analysisRepo) UpdateGapStatus(ctx context.Context, projectID, gapID string, status analysis.GapStatus) error {
	if !status.Valid() {
		return errors.Newf(errors.ErrCodeGapStatusInvalid, "unknown gap status %q", status)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "beginning gap-status transaction")
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `
		SELECT status FROM structural_gaps
		WHERE id = $1 AND project_id = $2
		FOR UPDATE`, gapID, projectID).Scan(&current)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.Newf(errors.ErrCodeGapNotFound, "gap %s not found in project %s", gapID, projectID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "reading gap status")
	}

	if !analysis.GapStatus(current).CanTransition(status) {
		return errors.Newf(errors.ErrCodeGapStatusInvalid,
			"gap %s cannot transition %s → %s", gapID, current, status)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE structural_gaps SET status = $1
		WHERE id = $2 AND project_id = $3`, string(status), gapID, projectID); err != nil {
		return errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "updating gap status")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "committing gap-status transaction")
	}
	return nil
}

func (r *analysisRepo) Centrality(ctx context.Context, projectID string) ([]*analysis.CentralityMetrics, error) {
	rows, err := r.db.Query(ctx, `
		SELECT m.entity_id, m.degree, m.betweenness, m.pagerank
		FROM centrality_metrics m
		WHERE m.run_id = (`+latestRunSubquery+`)
		ORDER BY m.pagerank DESC`, projectID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "reading centrality metrics")
	}
	defer rows.Close()

	var metrics []*analysis.CentralityMetrics
	for rows.Next() {
		var m analysis.CentralityMetrics
		if err := rows.Scan(&m.EntityID, &m.Degree, &m.Betweenness, &m.PageRank); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeAnalysisStoreFailed, "scanning centrality row")
		}
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}
