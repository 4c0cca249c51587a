// Package relationship implements the typed-edge bounded context of the
// knowledge graph: edge types, endpoint-order canonicalization for
// bidirectional types, and the repository contract the graph store must
// satisfy.
package relationship

import (
	"strings"

	"github.com/athene-kg/athene/pkg/errors"
)

// Type enumerates the relationship types the builder emits.
type Type string

const (
	// TypeRelatedTo links two concepts whose embeddings are semantically
	// close.  Bidirectional.
	TypeRelatedTo Type = "RELATED_TO"

	// TypeCoOccursWith links two concepts mentioned together in multiple
	// documents.  Bidirectional.
	TypeCoOccursWith Type = "CO_OCCURS_WITH"

	// TypeSameAs links entities with identical canonical names extracted
	// from different source documents.  Bidirectional.
	TypeSameAs Type = "SAME_AS"

	// TypeAppliesTo links a method to a concept it is applied to.
	TypeAppliesTo Type = "APPLIES_TO"

	// TypeAddresses links a problem to a concept it concerns.
	TypeAddresses Type = "ADDRESSES"

	// TypeSupports links a finding to a concept it provides evidence for.
	TypeSupports Type = "SUPPORTS"

	// TypeContradicts links a finding to a concept it undermines.
	TypeContradicts Type = "CONTRADICTS"

	// TypePrerequisiteOf links a foundational concept to one that builds on
	// it.  Produced only by LLM-assisted prerequisite inference.
	TypePrerequisiteOf Type = "PREREQUISITE_OF"
)

// Valid reports whether t is a known relationship type.
func (t Type) Valid() bool {
	switch t {
	case TypeRelatedTo, TypeCoOccursWith, TypeSameAs, TypeAppliesTo,
		TypeAddresses, TypeSupports, TypeContradicts, TypePrerequisiteOf:
		return true
	}
	return false
}

// Bidirectional reports whether edges of this type are undirected.
// Bidirectional edges are stored with sorted endpoint order so at most one
// edge exists per unordered pair per type, regardless of extraction order.
func (t Type) Bidirectional() bool {
	switch t {
	case TypeRelatedTo, TypeCoOccursWith, TypeSameAs:
		return true
	}
	return false
}

// Relationship is a typed, weighted edge between two resolved entities.
// Edges are created by the relationship builder (or the cross-document
// identity pass) and never mutated afterwards except for weight and property
// refresh on a re-run.
type Relationship struct {
	ID         string                 `json:"id"`
	ProjectID  string                 `json:"project_id"`
	SourceID   string                 `json:"source_id"`
	TargetID   string                 `json:"target_id"`
	Type       Type                   `json:"relationship_type"`
	Weight     float64                `json:"weight"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// New constructs a relationship, canonicalizing endpoint order for
// bidirectional types and clamping weight into [0,1].
func New(projectID, sourceID, targetID string, t Type, weight float64) *Relationship {
	if t.Bidirectional() && strings.Compare(sourceID, targetID) > 0 {
		sourceID, targetID = targetID, sourceID
	}
	if weight < 0 {
		weight = 0
	} else if weight > 1 {
		weight = 1
	}
	return &Relationship{
		ProjectID: projectID,
		SourceID:  sourceID,
		TargetID:  targetID,
		Type:      t,
		Weight:    weight,
	}
}

// Validate checks the edge's structural invariants.
func (r *Relationship) Validate() error {
	if !r.Type.Valid() {
		return errors.Newf(errors.ErrCodeRelationshipType, "unknown relationship type %q", r.Type)
	}
	if r.SourceID == "" || r.TargetID == "" {
		return errors.New(errors.ErrCodeRelationshipInvalid, "relationship endpoints must not be empty")
	}
	if r.SourceID == r.TargetID {
		return errors.New(errors.ErrCodeRelationshipInvalid, "relationship must not be a self-loop")
	}
	if r.Weight < 0 || r.Weight > 1 {
		return errors.Newf(errors.ErrCodeRelationshipInvalid, "relationship weight %f outside [0,1]", r.Weight)
	}
	return nil
}

// Key returns the dedup key "<source>|<type>|<target>" with endpoints in
// canonical order for bidirectional types, so (A,B) and (B,A) collapse.
func (r *Relationship) Key() string {
	s, t := r.SourceID, r.TargetID
	if r.Type.Bidirectional() && strings.Compare(s, t) > 0 {
		s, t = t, s
	}
	return s + "|" + string(r.Type) + "|" + t
}

// Touches reports whether the edge is incident to the given entity id.
func (r *Relationship) Touches(id string) bool {
	return r.SourceID == id || r.TargetID == id
}

// Other returns the opposite endpoint of id, or "" when the edge does not
// touch id.
func (r *Relationship) Other(id string) string {
	switch id {
	case r.SourceID:
		return r.TargetID
	case r.TargetID:
		return r.SourceID
	}
	return ""
}
