package entity

import "context"

// Repository is the persistence contract for resolved entities.  The graph
// store implementation (neo4j) must provide idempotent, conflict-absorbing
// writes: upserting an entity whose (project, type, bucket, canonical name)
// key already exists refreshes its merged fields instead of duplicating the
// node, so safe retries and partial reruns never create duplicate data.
type Repository interface {
	// UpsertBatch writes entities with conflict-on-key merge semantics.
	UpsertBatch(ctx context.Context, entities []*Entity) error

	// GetByProject returns all entities of the given types in a project.
	// An empty types slice means all types.
	GetByProject(ctx context.Context, projectID string, types []Type) ([]*Entity, error)

	// GetByIDs returns the entities with the given ids; unknown ids are
	// silently omitted from the result.
	GetByIDs(ctx context.Context, projectID string, ids []string) ([]*Entity, error)

	// GroupsByName groups the project's persisted entities by
	// (type, canonical name), for the cross-document identity pass.  Only
	// groups with two or more members are returned.
	GroupsByName(ctx context.Context, projectID string) (map[GroupKey][]*Entity, error)

	// SearchByName performs fuzzy full-text matching over entity names and
	// aliases, ranked by similarity score descending.
	SearchByName(ctx context.Context, projectID, query string, types []Type, limit int) ([]Scored, error)

	// UnderDiscussed returns concepts mentioned by at most maxPapers source
	// documents, ordered by paper count ascending.
	UnderDiscussed(ctx context.Context, projectID string, maxPapers int) ([]Mention, error)

	// UpdateClusterAssignments attaches cluster ids produced by a gap
	// analysis run.  Concepts absent from the map keep their previous
	// assignment cleared (a run replaces prior clustering).
	UpdateClusterAssignments(ctx context.Context, projectID string, assignments map[string]int) error

	// CountByType returns the number of nodes per entity type in a
	// project.  Types with no nodes are absent from the map.
	CountByType(ctx context.Context, projectID string) (map[Type]int, error)
}
