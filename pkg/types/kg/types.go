// Package kg holds the wire types the HTTP API exchanges with clients.
// They mirror the server's JSON output; SDK users never import internal
// packages.
package kg

import (
	"strings"
	"time"
)

// EntityType classifies a graph node.
type EntityType string

const (
	EntityConcept EntityType = "CONCEPT"
	EntityMethod  EntityType = "METHOD"
	EntityFinding EntityType = "FINDING"
	EntityProblem EntityType = "PROBLEM"
	EntityPaper   EntityType = "PAPER"
	EntityAuthor  EntityType = "AUTHOR"
)

// RelationshipType classifies a graph edge.
type RelationshipType string

const (
	RelRelatedTo      RelationshipType = "RELATED_TO"
	RelCoOccursWith   RelationshipType = "CO_OCCURS_WITH"
	RelSameAs         RelationshipType = "SAME_AS"
	RelAppliesTo      RelationshipType = "APPLIES_TO"
	RelAddresses      RelationshipType = "ADDRESSES"
	RelSupports       RelationshipType = "SUPPORTS"
	RelContradicts    RelationshipType = "CONTRADICTS"
	RelPrerequisiteOf RelationshipType = "PREREQUISITE_OF"
)

// GapStatus is the review lifecycle of a detected structural gap.
type GapStatus string

const (
	GapDetected  GapStatus = "detected"
	GapExplored  GapStatus = "explored"
	GapBridged   GapStatus = "bridged"
	GapDismissed GapStatus = "dismissed"
)

// Entity is a resolved canonical node.
type Entity struct {
	ID                string                 `json:"id"`
	ProjectID         string                 `json:"project_id"`
	Type              EntityType             `json:"entity_type"`
	CanonicalName     string                 `json:"canonical_name"`
	ContextBucket     string                 `json:"context_bucket,omitempty"`
	Confidence        float64                `json:"confidence"`
	Aliases           []string               `json:"aliases,omitempty"`
	SourceDocumentIDs []string               `json:"source_document_ids,omitempty"`
	Properties        map[string]interface{} `json:"properties,omitempty"`
}

// RawEntity is one extracted mention submitted for resolution.
type RawEntity struct {
	Text             string                 `json:"text"`
	Type             EntityType             `json:"entity_type"`
	Definition       string                 `json:"definition,omitempty"`
	Description      string                 `json:"description,omitempty"`
	Confidence       float64                `json:"confidence"`
	SourceDocumentID string                 `json:"source_document_id"`
	Properties       map[string]interface{} `json:"properties,omitempty"`
}

// SupportLink records that a finding supports or contradicts a concept.
type SupportLink struct {
	FindingID  string  `json:"finding_id"`
	ConceptID  string  `json:"concept_id"`
	Supports   bool    `json:"supports"`
	Confidence float64 `json:"confidence"`
}

// ResolveRequest is the body of POST /projects/{id}/resolve.
type ResolveRequest struct {
	Entities     []RawEntity          `json:"entities,omitempty"`
	Embeddings   map[string][]float32 `json:"embeddings,omitempty"`
	SupportLinks []SupportLink        `json:"support_links,omitempty"`
	DocumentIDs  []string             `json:"document_ids,omitempty"`
	RequestedBy  string               `json:"requested_by,omitempty"`
}

// ResolveSummary reports what one synchronous construction pass changed.
type ResolveSummary struct {
	ProjectID         string `json:"project_id"`
	Entities          int    `json:"entities"`
	Relationships     int    `json:"relationships"`
	CrossDocLinks     int    `json:"cross_doc_links"`
	PrerequisiteEdges int    `json:"prerequisite_edges"`
}

// JobAccepted is the 202 body for an asynchronous submission.
type JobAccepted struct {
	JobID     string `json:"job_id"`
	JobType   string `json:"job_type"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
}

// ScoredEntity is a search match with its relevance score.
type ScoredEntity struct {
	Entity *Entity `json:"entity"`
	Score  float64 `json:"score"`
}

// SearchResult is the body of GET /projects/{id}/entities/search.
type SearchResult struct {
	Status  string         `json:"status"`
	Reason  string         `json:"reason,omitempty"`
	Matches []ScoredEntity `json:"matches"`
}

// TraverseRequest is the body of POST /projects/{id}/graph/traverse.
type TraverseRequest struct {
	StartIDs          []string           `json:"start_ids"`
	MaxHops           int                `json:"max_hops,omitempty"`
	RelationshipTypes []RelationshipType `json:"relationship_types,omitempty"`
	Limit             int                `json:"limit,omitempty"`
	MinConfidence     float64            `json:"min_confidence,omitempty"`
}

// TraversalNode is one visited node with its minimum distance from the
// start set.  Entity fields are flattened alongside hop_distance on the
// wire.
type TraversalNode struct {
	Entity
	HopDistance int `json:"hop_distance"`
}

// Relationship is one edge of the graph.
type Relationship struct {
	ID         string                 `json:"id"`
	ProjectID  string                 `json:"project_id"`
	SourceID   string                 `json:"source_id"`
	TargetID   string                 `json:"target_id"`
	Type       RelationshipType       `json:"relationship_type"`
	Weight     float64                `json:"weight"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// TraversalResult is the body of the traverse and subgraph endpoints.
// Paths maps every visited node id to its minimum hop distance.
type TraversalResult struct {
	Status string          `json:"status"`
	Reason string          `json:"reason,omitempty"`
	Nodes  []TraversalNode `json:"nodes"`
	Edges  []Relationship  `json:"edges"`
	Paths  map[string]int  `json:"paths,omitempty"`
}

// AnalysisRun is one gap-analysis execution record.
type AnalysisRun struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	ConceptCount int       `json:"concept_count"`
	ClusterCount int       `json:"cluster_count"`
	GapCount     int       `json:"gap_count"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
}

// ConceptCluster is one thematic group of concepts.
type ConceptCluster struct {
	ID         int      `json:"id"`
	ProjectID  string   `json:"project_id"`
	RunID      string   `json:"run_id"`
	Name       string   `json:"name"`
	Color      string   `json:"color,omitempty"`
	ConceptIDs []string `json:"concept_ids"`
	Keywords   []string `json:"keywords,omitempty"`
}

// StructuralGap is a weakly-connected cluster pair worth investigating.
type StructuralGap struct {
	ID                 string    `json:"id"`
	ProjectID          string    `json:"project_id"`
	RunID              string    `json:"run_id"`
	ClusterAID         int       `json:"cluster_a_id"`
	ClusterBID         int       `json:"cluster_b_id"`
	GapStrength        float64   `json:"gap_strength"`
	BridgeConcepts     []string  `json:"bridge_concepts,omitempty"`
	SuggestedQuestions []string  `json:"suggested_questions,omitempty"`
	Status             GapStatus `json:"status"`
}

// CentralityMetrics are per-concept structural importance scores.
type CentralityMetrics struct {
	EntityID    string  `json:"entity_id"`
	Degree      float64 `json:"degree"`
	Betweenness float64 `json:"betweenness"`
	PageRank    float64 `json:"pagerank"`
}

// AnalysisReport is the body of GET /projects/{id}/analysis/latest.
type AnalysisReport struct {
	Run        *AnalysisRun        `json:"run"`
	Clusters   []ConceptCluster    `json:"clusters"`
	Gaps       []StructuralGap     `json:"gaps"`
	Centrality []CentralityMetrics `json:"centrality,omitempty"`
}

// Mention summarises how widely a concept is discussed.
type Mention struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PaperCount int    `json:"paper_count"`
}

// GapCandidatesResult is the body of GET /projects/{id}/gaps/candidates:
// concepts mentioned by few papers, cheap precursors to full gap analysis.
type GapCandidatesResult struct {
	Status   string    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	Concepts []Mention `json:"concepts"`
}

// GraphStats is the body of GET /projects/{id}/graph/stats: node and
// edge counts broken down by type.
type GraphStats struct {
	Status     string                   `json:"status"`
	Reason     string                   `json:"reason,omitempty"`
	ProjectID  string                   `json:"project_id"`
	NodeCounts map[EntityType]int       `json:"node_counts"`
	EdgeCounts map[RelationshipType]int `json:"edge_counts"`
	TotalNodes int                      `json:"total_nodes"`
	TotalEdges int                      `json:"total_edges"`
}

// GapStatusUpdate is the body of PATCH /projects/{id}/gaps/{gap}/status.
type GapStatusUpdate struct {
	Status GapStatus `json:"status"`
}

// UnmarshalText accepts any casing of the type name; the server spells
// node types in title case.
func (t *EntityType) UnmarshalText(text []byte) error {
	s := string(text)
	for _, known := range []EntityType{EntityConcept, EntityMethod, EntityFinding, EntityProblem, EntityPaper, EntityAuthor} {
		if strings.EqualFold(s, string(known)) {
			*t = known
			return nil
		}
	}
	*t = EntityType(s)
	return nil
}

// Valid reports whether t is a recognised entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityConcept, EntityMethod, EntityFinding, EntityProblem, EntityPaper, EntityAuthor:
		return true
	}
	return false
}

// Valid reports whether s is a recognised gap status.
func (s GapStatus) Valid() bool {
	switch s {
	case GapDetected, GapExplored, GapBridged, GapDismissed:
		return true
	}
	return false
}
