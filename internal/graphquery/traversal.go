// Package graphquery implements the read-side analytics surface over the
// persisted knowledge graph: multi-hop breadth-first traversal, bounded
// subgraph extraction, fuzzy entity search, the under-discussed-concept
// heuristic, and low-trust result filtering.
//
// Storage failures never propagate as errors past this boundary: every
// result carries a status, and callers must treat empty-with-status-error
// as "no data", not as a confirmed empty graph.
package graphquery

import (
	"context"
	"sort"

	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/domain/relationship"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
)

// Status reports whether a query result is trustworthy.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Traversal bounds.
const (
	MinHops = 1
	MaxHops = 5

	MinSubgraphDepth = 1
	MaxSubgraphDepth = 3

	defaultTraversalLimit = 100
	defaultSubgraphNodes  = 50
)

// TraversalNode is an entity annotated with its minimum hop distance from
// any start node.
type TraversalNode struct {
	*entity.Entity
	HopDistance int `json:"hop_distance"`
}

// TraversalResult is the outcome of a multi-hop expansion.  Paths maps
// every visited node id to its minimum hop distance, including start nodes
// at distance 0.
type TraversalResult struct {
	Status Status                       `json:"status"`
	Reason string                       `json:"reason,omitempty"`
	Nodes  []TraversalNode              `json:"nodes"`
	Edges  []*relationship.Relationship `json:"edges"`
	Paths  map[string]int               `json:"paths"`
}

// Service answers graph queries against the persisted store.
type Service struct {
	entities entity.Repository
	rels     relationship.Repository
	log      logging.Logger
}

func NewService(entities entity.Repository, rels relationship.Repository, log logging.Logger) *Service {
	return &Service{entities: entities, rels: rels, log: log.Named("graphquery")}
}

// MultiHopTraversal expands breadth-first from all start ids
// simultaneously.  Each node's hop distance is the minimum distance from
// any start id; expansion halts per branch at maxHops and globally once
// limit distinct nodes are found.  First-seen hop distance wins, consistent
// with BFS order.
func (s *Service) MultiHopTraversal(ctx context.Context, projectID string, startIDs []string, maxHops int, relTypes []relationship.Type, limit int) *TraversalResult {
	maxHops = clamp(maxHops, MinHops, MaxHops)
	if limit <= 0 {
		limit = defaultTraversalLimit
	}
	return s.traverse(ctx, projectID, startIDs, maxHops, relTypes, limit)
}

// GetSubgraph extracts the neighborhood of one node with the same BFS
// discipline as MultiHopTraversal.
func (s *Service) GetSubgraph(ctx context.Context, projectID, nodeID string, depth, maxNodes int) *TraversalResult {
	depth = clamp(depth, MinSubgraphDepth, MaxSubgraphDepth)
	if maxNodes <= 0 {
		maxNodes = defaultSubgraphNodes
	}
	return s.traverse(ctx, projectID, []string{nodeID}, depth, nil, maxNodes)
}

func (s *Service) traverse(ctx context.Context, projectID string, startIDs []string, maxHops int, relTypes []relationship.Type, limit int) *TraversalResult {
	visited := make(map[string]int)
	var frontier []string
	for _, id := range startIDs {
		if id == "" {
			continue
		}
		if _, ok := visited[id]; !ok {
			visited[id] = 0
			frontier = append(frontier, id)
		}
	}
	if len(frontier) == 0 {
		return &TraversalResult{Status: StatusOK, Paths: map[string]int{}}
	}
	sort.Strings(frontier)

	seenEdges := make(map[string]*relationship.Relationship)
	for hop := 1; hop <= maxHops && len(frontier) > 0 && len(visited) < limit; hop++ {
		edges, err := s.rels.Neighbors(ctx, projectID, frontier, relTypes)
		if err != nil {
			s.log.Error("traversal frontier expansion failed",
				logging.String("project_id", projectID),
				logging.Int("hop", hop),
				logging.Err(err))
			return &TraversalResult{
				Status: StatusError,
				Reason: "graph storage unavailable",
				Paths:  map[string]int{},
			}
		}

		// Deterministic expansion order regardless of store ordering.
		sort.Slice(edges, func(i, j int) bool { return edges[i].Key() < edges[j].Key() })

		var next []string
		for _, e := range edges {
			seenEdges[e.Key()] = e
			for _, endpoint := range []string{e.SourceID, e.TargetID} {
				if _, ok := visited[endpoint]; ok {
					continue
				}
				if len(visited) >= limit {
					break
				}
				visited[endpoint] = hop
				next = append(next, endpoint)
			}
		}
		frontier = next
	}

	return s.materializeTraversal(ctx, projectID, visited, seenEdges)
}

// materializeTraversal loads entity data for the visited set and keeps only
// edges with both endpoints visited.
func (s *Service) materializeTraversal(ctx context.Context, projectID string, visited map[string]int, seenEdges map[string]*relationship.Relationship) *TraversalResult {
	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	loaded, err := s.entities.GetByIDs(ctx, projectID, ids)
	if err != nil {
		s.log.Error("traversal node load failed",
			logging.String("project_id", projectID), logging.Err(err))
		return &TraversalResult{
			Status: StatusError,
			Reason: "graph storage unavailable",
			Paths:  map[string]int{},
		}
	}

	nodes := make([]TraversalNode, 0, len(loaded))
	for _, e := range loaded {
		nodes = append(nodes, TraversalNode{Entity: e, HopDistance: visited[e.ID]})
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].HopDistance != nodes[j].HopDistance {
			return nodes[i].HopDistance < nodes[j].HopDistance
		}
		return nodes[i].ID < nodes[j].ID
	})

	var edges []*relationship.Relationship
	keys := make([]string, 0, len(seenEdges))
	for k := range seenEdges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e := seenEdges[k]
		if _, okA := visited[e.SourceID]; !okA {
			continue
		}
		if _, okB := visited[e.TargetID]; !okB {
			continue
		}
		edges = append(edges, e)
	}

	paths := make(map[string]int, len(visited))
	for id, hop := range visited {
		paths[id] = hop
	}
	return &TraversalResult{Status: StatusOK, Nodes: nodes, Edges: edges, Paths: paths}
}

// FilterLowTrust drops nodes whose confidence signal falls below
// minConfidence, along with their incident edges and path entries.  Start
// nodes survive regardless so the caller's anchors stay in the result.  A
// zero minimum filters nothing.
func (r *TraversalResult) FilterLowTrust(minConfidence float64) {
	if minConfidence <= 0 {
		return
	}
	dropped := make(map[string]bool)
	nodes := r.Nodes[:0]
	for _, n := range r.Nodes {
		if n.HopDistance > 0 {
			if conf, ok := entityConfidence(n.Entity); ok && conf < minConfidence {
				dropped[n.ID] = true
				continue
			}
		}
		nodes = append(nodes, n)
	}
	if len(dropped) == 0 {
		return
	}
	r.Nodes = nodes

	edges := r.Edges[:0]
	for _, e := range r.Edges {
		if dropped[e.SourceID] || dropped[e.TargetID] {
			continue
		}
		edges = append(edges, e)
	}
	r.Edges = edges

	for id := range dropped {
		delete(r.Paths, id)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
