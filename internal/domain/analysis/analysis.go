// Package analysis implements the gap-analysis bounded context: concept
// clusters, structural gaps and their status lifecycle, centrality metrics,
// and analysis run records.  Results are ephemeral per run — persisting a new
// run replaces the prior clustering for the project.
package analysis

import (
	"time"

	"github.com/athene-kg/athene/pkg/errors"
)

// ConceptCluster is one k-means cluster of concept embeddings, produced by a
// gap analysis run.
type ConceptCluster struct {
	ID         int       `json:"id"`
	ProjectID  string    `json:"project_id"`
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	Color      string    `json:"color"`
	ConceptIDs []string  `json:"concept_ids"`
	Keywords   []string  `json:"keywords"`
	Centroid   []float32 `json:"centroid"`
}

// Size returns the number of member concepts.
func (c *ConceptCluster) Size() int { return len(c.ConceptIDs) }

// GapStatus is the lifecycle state of a structural gap.  Transitions happen
// only under external user action; the engine itself only ever creates gaps
// in StatusDetected.
type GapStatus string

const (
	StatusDetected  GapStatus = "detected"
	StatusExplored  GapStatus = "explored"
	StatusBridged   GapStatus = "bridged"
	StatusDismissed GapStatus = "dismissed"
)

// Valid reports whether s is a known gap status.
func (s GapStatus) Valid() bool {
	switch s {
	case StatusDetected, StatusExplored, StatusBridged, StatusDismissed:
		return true
	}
	return false
}

// gapTransitions encodes the allowed status graph:
// detected → explored → bridged, with dismissal possible from any
// non-terminal state.
var gapTransitions = map[GapStatus][]GapStatus{
	StatusDetected:  {StatusExplored, StatusBridged, StatusDismissed},
	StatusExplored:  {StatusBridged, StatusDismissed},
	StatusBridged:   {},
	StatusDismissed: {},
}

// CanTransition reports whether a gap in status s may move to next.
func (s GapStatus) CanTransition(next GapStatus) bool {
	for _, allowed := range gapTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MaxReportableGapStrength is the exclusive upper bound on connectivity ratio
// for a cluster pair to be reported as a gap: pairs with 30% or more of their
// possible cross-links present are considered connected enough.
const MaxReportableGapStrength = 0.3

// StructuralGap is a pair of well-formed but weakly-connected concept
// clusters.  GapStrength is the inter-cluster connectivity ratio: 0 means
// fully disconnected (the strongest possible gap).
type StructuralGap struct {
	ID                 string          `json:"id"`
	ProjectID          string          `json:"project_id"`
	RunID              string          `json:"run_id"`
	ClusterAID         int             `json:"cluster_a_id"`
	ClusterBID         int             `json:"cluster_b_id"`
	GapStrength        float64         `json:"gap_strength"`
	ConceptAIDs        []string        `json:"concept_a_ids"`
	ConceptBIDs        []string        `json:"concept_b_ids"`
	BridgeConcepts     []string        `json:"bridge_concepts"`
	PotentialEdges     []PotentialEdge `json:"potential_edges"`
	SuggestedQuestions []string        `json:"suggested_questions"`
	Status             GapStatus       `json:"status"`
}

// Transition moves the gap to the given status, enforcing the lifecycle.
func (g *StructuralGap) Transition(next GapStatus) error {
	if !next.Valid() {
		return errors.Newf(errors.ErrCodeGapStatusInvalid, "unknown gap status %q", next)
	}
	if !g.Status.CanTransition(next) {
		return errors.Newf(errors.ErrCodeGapStatusInvalid,
			"gap %s cannot transition %s → %s", g.ID, g.Status, next)
	}
	g.Status = next
	return nil
}

// PotentialEdge is a "ghost" edge: a cross-cluster concept pair with high
// semantic similarity but no edge in the relationship set.  Ghost edges exist
// for visualization only and are never persisted as real relationships.
type PotentialEdge struct {
	SourceID   string  `json:"source_id"`
	TargetID   string  `json:"target_id"`
	Similarity float64 `json:"similarity"`
	GapID      string  `json:"gap_id"`
}

// CentralityMetrics holds the per-node centrality scores recomputed in full
// on each analysis run.  All three values are normalized into [0,1].
//
// Betweenness is a local bridging proxy — for each node, the fraction of its
// neighbor pairs that are not directly connected to each other — not true
// shortest-path betweenness.  Bridge-candidate ranking downstream was tuned
// against this approximation; do not replace it with the exact metric.
type CentralityMetrics struct {
	EntityID    string  `json:"entity_id"`
	Degree      float64 `json:"degree"`
	Betweenness float64 `json:"betweenness"`
	PageRank    float64 `json:"pagerank"`
}

// RunStatus is the terminal state of an analysis run record.
type RunStatus string

const (
	RunCompleted    RunStatus = "completed"
	RunInsufficient RunStatus = "insufficient_data"
	RunFailed       RunStatus = "failed"
)

// Run records one gap analysis execution for a project.
type Run struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	ConceptCount int       `json:"concept_count"`
	ClusterCount int       `json:"cluster_count"`
	GapCount     int       `json:"gap_count"`
	Status       RunStatus `json:"status"`
	Reason       string    `json:"reason,omitempty"`
}
