// Package entity implements the resolved-entity bounded context: the node
// types of the concept-centric knowledge graph, their invariants, and the
// repository contract the graph store must satisfy.  Business rules about
// what an entity is live here; persistence lives in
// internal/infrastructure/database/neo4j.
package entity

import (
	"sort"
	"strings"
	"time"

	"github.com/athene-kg/athene/pkg/errors"
)

// Type enumerates the node types extracted from academic literature.
type Type string

const (
	TypeConcept Type = "Concept"
	TypeMethod  Type = "Method"
	TypeFinding Type = "Finding"
	TypeProblem Type = "Problem"
	TypePaper   Type = "Paper"
	TypeAuthor  Type = "Author"
)

// AllTypes lists every valid entity type in stable order.
func AllTypes() []Type {
	return []Type{TypeConcept, TypeMethod, TypeFinding, TypeProblem, TypePaper, TypeAuthor}
}

// ParseType maps a wire type name to its canonical form, ignoring case.
// Unknown names pass through unchanged so Validate can report them.
func ParseType(s string) Type {
	for _, t := range AllTypes() {
		if strings.EqualFold(s, string(t)) {
			return t
		}
	}
	return Type(s)
}

// UnmarshalText accepts any casing of the known type names; the extraction
// API and the client SDK spell them in upper case.
func (t *Type) UnmarshalText(text []byte) error {
	*t = ParseType(string(text))
	return nil
}

// Valid reports whether t is a known entity type.
func (t Type) Valid() bool {
	switch t {
	case TypeConcept, TypeMethod, TypeFinding, TypeProblem, TypePaper, TypeAuthor:
		return true
	}
	return false
}

// BucketGeneric is the context bucket assigned to names that are not known
// homonyms, or whose surrounding text matched no domain keyword list.
const BucketGeneric = "generic"

// Raw is an entity as produced by the external extraction model: one surface
// mention in one source document.  Raw values are immutable inputs to
// resolution and are never persisted as-is.
type Raw struct {
	Text             string                 `json:"text"`
	Type             Type                   `json:"entity_type"`
	Definition       string                 `json:"definition,omitempty"`
	Description      string                 `json:"description,omitempty"`
	Confidence       float64                `json:"confidence"`
	SourceDocumentID string                 `json:"source_document_id"`
	Properties       map[string]interface{} `json:"properties,omitempty"`
}

// ContextText returns the bag of surrounding text used for homonym
// disambiguation: definition, description, and any string-valued properties.
func (r Raw) ContextText() string {
	var sb strings.Builder
	sb.WriteString(r.Definition)
	sb.WriteByte(' ')
	sb.WriteString(r.Description)
	for _, v := range r.Properties {
		if s, ok := v.(string); ok {
			sb.WriteByte(' ')
			sb.WriteString(s)
		}
	}
	return sb.String()
}

// Entity is a resolved, deduplicated node of the knowledge graph.
//
// Invariants:
//   - CanonicalName is unique per (ProjectID, Type, ContextBucket) after a
//     resolution run.
//   - ID, once assigned, never changes meaning: merges reassign membership
//     (aliases, sources) onto the surviving node, not the identity itself.
//   - Confidence is the maximum across all merged raw mentions.
type Entity struct {
	ID                string                 `json:"id"`
	ProjectID         string                 `json:"project_id"`
	Type              Type                   `json:"entity_type"`
	CanonicalName     string                 `json:"canonical_name"`
	ContextBucket     string                 `json:"context_bucket"`
	Confidence        float64                `json:"confidence"`
	Aliases           []string               `json:"aliases"`
	SourceDocumentIDs []string               `json:"source_document_ids"`
	Embedding         []float32              `json:"embedding,omitempty"`
	ClusterID         *int                   `json:"cluster_id,omitempty"`
	Properties        map[string]interface{} `json:"properties,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Validate checks the entity's structural invariants.
func (e *Entity) Validate() error {
	if strings.TrimSpace(e.CanonicalName) == "" {
		return errors.New(errors.ErrCodeEmptyEntityName, "entity canonical name must not be empty")
	}
	if !e.Type.Valid() {
		return errors.Newf(errors.ErrCodeValidation, "unknown entity type %q", e.Type)
	}
	if e.ProjectID == "" {
		return errors.New(errors.ErrCodeValidation, "entity project id must not be empty")
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return errors.Newf(errors.ErrCodeValidation, "entity confidence %f outside [0,1]", e.Confidence)
	}
	return nil
}

// AddAlias records an alternative surface form.  Aliases behave as a set;
// insertion keeps them sorted for deterministic output.
func (e *Entity) AddAlias(alias string) {
	alias = strings.TrimSpace(alias)
	if alias == "" || alias == e.CanonicalName {
		return
	}
	e.Aliases = insertSorted(e.Aliases, alias)
}

// AddSourceDocument records a document the entity was extracted from.
// Document ids behave as a set.
func (e *Entity) AddSourceDocument(docID string) {
	if docID == "" {
		return
	}
	e.SourceDocumentIDs = insertSorted(e.SourceDocumentIDs, docID)
}

// HasEmbedding reports whether an embedding vector has been attached by the
// external embedding step.
func (e *Entity) HasEmbedding() bool {
	return len(e.Embedding) > 0
}

// insertSorted inserts s into a sorted slice if absent.
func insertSorted(xs []string, s string) []string {
	i := sort.SearchStrings(xs, s)
	if i < len(xs) && xs[i] == s {
		return xs
	}
	xs = append(xs, "")
	copy(xs[i+1:], xs[i:])
	xs[i] = s
	return xs
}

// GroupKey identifies a canonical-name group for the cross-document identity
// pass: entities of the same type with the same canonical name.
type GroupKey struct {
	Type          Type
	CanonicalName string
}

// Scored pairs an entity with a search relevance score in [0,1].
type Scored struct {
	Entity *Entity `json:"entity"`
	Score  float64 `json:"score"`
}

// Mention summarises how widely a concept is discussed, for the cheap
// under-discussed-concept heuristic that complements clustering-based gap
// detection.
type Mention struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PaperCount int    `json:"paper_count"`
}
