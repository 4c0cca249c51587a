package relationship

import "context"

// Repository is the persistence contract for relationships.  Writes are
// idempotent: upserting a (source, target, type) key that already
// exists refreshes weight and properties instead of failing or duplicating,
// so co-occurrence edges generated per-document-pair at scale can be batched
// and safely retried.
type Repository interface {
	// UpsertBatch writes edges with conflict-on-(source,target,type)
	// merge semantics, using the store's multi-row insert primitive.
	UpsertBatch(ctx context.Context, rels []*Relationship) error

	// GetByProject returns all edges of the given types in a project.
	// An empty types slice means all types.
	GetByProject(ctx context.Context, projectID string, types []Type) ([]*Relationship, error)

	// EnsureSameAs creates a SAME_AS edge between two entities if one does
	// not already exist.  Returns true when a new edge was created.
	EnsureSameAs(ctx context.Context, projectID, aID, bID string) (bool, error)

	// Neighbors returns every edge incident to any of the given node ids,
	// optionally restricted to the given types.  This is the BFS frontier
	// expansion primitive used by graph traversal.
	Neighbors(ctx context.Context, projectID string, nodeIDs []string, types []Type) ([]*Relationship, error)

	// CountByType returns the number of edges per relationship type in a
	// project.  Types with no edges are absent from the map.
	CountByType(ctx context.Context, projectID string) (map[Type]int, error)
}
