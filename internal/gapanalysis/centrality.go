package gapanalysis

import (
	"github.com/athene-kg/athene/internal/domain/analysis"
)

// edgePair is the minimal edge view centrality needs.
type edgePair struct {
	a, b string
}

const (
	pageRankIterations = 20
	pageRankDamping    = 0.85
)

// computeCentrality computes degree, PageRank, and the local betweenness
// proxy for every node, each normalized into [0,1] by the maximum observed
// value.
//
// Betweenness here is deliberately a local bridging heuristic: for each
// node, the fraction of its neighbor pairs that are not directly connected
// to each other.  Bridge ranking depends on this exact behavior.
func computeCentrality(nodeIDs []string, edges []edgePair) map[string]*analysis.CentralityMetrics {
	adjacency := make(map[string]map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		adjacency[id] = make(map[string]bool)
	}
	for _, e := range edges {
		if e.a == e.b {
			continue
		}
		if _, ok := adjacency[e.a]; !ok {
			continue
		}
		if _, ok := adjacency[e.b]; !ok {
			continue
		}
		adjacency[e.a][e.b] = true
		adjacency[e.b][e.a] = true
	}

	out := make(map[string]*analysis.CentralityMetrics, len(nodeIDs))
	for _, id := range nodeIDs {
		out[id] = &analysis.CentralityMetrics{EntityID: id}
	}

	// Degree, normalized by the maximum.
	maxDegree := 0
	for _, id := range nodeIDs {
		if d := len(adjacency[id]); d > maxDegree {
			maxDegree = d
		}
	}
	if maxDegree > 0 {
		for _, id := range nodeIDs {
			out[id].Degree = float64(len(adjacency[id])) / float64(maxDegree)
		}
	}

	// PageRank: 20 fixed-point iterations, damping 0.85, over the
	// undirected adjacency (each edge contributes both directions).
	n := len(nodeIDs)
	if n > 0 {
		pr := make(map[string]float64, n)
		for _, id := range nodeIDs {
			pr[id] = 1.0 / float64(n)
		}
		base := (1 - pageRankDamping) / float64(n)
		for iter := 0; iter < pageRankIterations; iter++ {
			next := make(map[string]float64, n)
			for _, id := range nodeIDs {
				next[id] = base
			}
			for _, id := range nodeIDs {
				deg := len(adjacency[id])
				if deg == 0 {
					continue
				}
				share := pageRankDamping * pr[id] / float64(deg)
				for nb := range adjacency[id] {
					next[nb] += share
				}
			}
			pr = next
		}
		maxPR := 0.0
		for _, v := range pr {
			if v > maxPR {
				maxPR = v
			}
		}
		if maxPR > 0 {
			for _, id := range nodeIDs {
				out[id].PageRank = pr[id] / maxPR
			}
		}
	}

	// Local betweenness proxy.
	for _, id := range nodeIDs {
		out[id].Betweenness = bridgingFraction(adjacency, id)
	}

	return out
}

// bridgingFraction returns the fraction of the node's neighbor pairs with no
// direct edge between them.  Nodes with fewer than two neighbors bridge
// nothing and score 0.
func bridgingFraction(adjacency map[string]map[string]bool, id string) float64 {
	neighbors := make([]string, 0, len(adjacency[id]))
	for nb := range adjacency[id] {
		neighbors = append(neighbors, nb)
	}
	if len(neighbors) < 2 {
		return 0
	}
	pairs, disconnected := 0, 0
	for i := 0; i < len(neighbors); i++ {
		for j := i + 1; j < len(neighbors); j++ {
			pairs++
			if !adjacency[neighbors[i]][neighbors[j]] {
				disconnected++
			}
		}
	}
	return float64(disconnected) / float64(pairs)
}
