package gapanalysis

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/athene-kg/athene/internal/domain/analysis"
	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/domain/relationship"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/llm"
	"github.com/athene-kg/athene/internal/vectors"
)

// Config tunes gap detection.
type Config struct {
	// ClusterCount forces a fixed k; 0 selects k via the elbow heuristic.
	ClusterCount int `mapstructure:"cluster_count"`

	// MinClusters and MaxClusters bound the elbow search.
	MinClusters int `mapstructure:"min_clusters"`
	MaxClusters int `mapstructure:"max_clusters"`

	// KMeansIterations bounds each k-means run.
	KMeansIterations int `mapstructure:"kmeans_iterations"`

	// Seed makes clustering reproducible.
	Seed int64 `mapstructure:"seed"`

	// PotentialEdgeThreshold is the minimum cosine similarity for a ghost
	// edge.
	PotentialEdgeThreshold float64 `mapstructure:"potential_edge_threshold"`

	// MaxPotentialEdges bounds ghost edges per gap.
	MaxPotentialEdges int `mapstructure:"max_potential_edges"`

	// TopGapEdges bounds how many of the strongest gaps get ghost-edge
	// computation; weaker gaps keep bridges and questions but skip the
	// all-pairs similarity scan.
	TopGapEdges int `mapstructure:"top_gap_edges"`

	// MaxBridges bounds bridge candidates per gap.
	MaxBridges int `mapstructure:"max_bridges"`

	// ClusterKeywords bounds the keywords kept per cluster.
	ClusterKeywords int `mapstructure:"cluster_keywords"`

	// QuestionTimeout bounds each generator call for research question
	// suggestion.
	QuestionTimeout time.Duration `mapstructure:"question_timeout"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinClusters:            3,
		MaxClusters:            10,
		KMeansIterations:       50,
		Seed:                   1,
		PotentialEdgeThreshold: 0.3,
		MaxPotentialEdges:      5,
		MaxBridges:             5,
		ClusterKeywords:        5,
		QuestionTimeout:        30 * time.Second,
	}
}

// clusterPalette colors clusters for visualization, cycling when there are
// more clusters than colors.
var clusterPalette = []string{
	"#4E79A7", "#F28E2B", "#E15759", "#76B7B2", "#59A14F",
	"#EDC948", "#B07AA1", "#FF9DA7", "#9C755F", "#BAB0AC",
}

// minClusterableConcepts is the smallest embedded-concept count for which
// clustering is meaningful.
const minClusterableConcepts = 3

// Result is everything one analysis run produced.
type Result struct {
	Run         analysis.Run
	Clusters    []*analysis.ConceptCluster
	Gaps        []*analysis.StructuralGap
	Centrality  map[string]*analysis.CentralityMetrics
	Assignments map[string]int // concept id → cluster id
	Summary     string
}

// Detector runs gap analysis.  It performs no storage I/O; the caller loads
// concepts and relationships and persists the result.
type Detector struct {
	cfg Config
	gen llm.Generator
	log logging.Logger
}

// NewDetector constructs a Detector.  Pass llm.NopGenerator{} to use the
// template fallback for research question suggestion.
func NewDetector(cfg Config, gen llm.Generator, log logging.Logger) *Detector {
	if cfg.MinClusters == 0 {
		cfg.MinClusters = 3
	}
	if cfg.MaxClusters == 0 {
		cfg.MaxClusters = 10
	}
	if cfg.KMeansIterations == 0 {
		cfg.KMeansIterations = 50
	}
	if cfg.PotentialEdgeThreshold == 0 {
		cfg.PotentialEdgeThreshold = 0.3
	}
	if cfg.MaxPotentialEdges == 0 {
		cfg.MaxPotentialEdges = 5
	}
	if cfg.TopGapEdges == 0 {
		cfg.TopGapEdges = 10
	}
	if cfg.MaxBridges == 0 {
		cfg.MaxBridges = 5
	}
	if cfg.ClusterKeywords == 0 {
		cfg.ClusterKeywords = 5
	}
	if cfg.QuestionTimeout == 0 {
		cfg.QuestionTimeout = 30 * time.Second
	}
	if gen == nil {
		gen = llm.NopGenerator{}
	}
	return &Detector{cfg: cfg, gen: gen, log: log.Named("gapdetector")}
}

// Analyze clusters the project's concepts, scores structural gaps between
// clusters, computes centrality, and decorates each gap with bridge
// candidates, ghost edges, and suggested research questions.
//
// Data insufficiency (fewer than three concepts with embeddings) is not an
// error: the result carries an insufficient_data run with a reason and
// empty analytics.
func (d *Detector) Analyze(ctx context.Context, projectID string, concepts []*entity.Entity, rels []*relationship.Relationship) *Result {
	return d.AnalyzeWithClusterCount(ctx, projectID, concepts, rels, 0)
}

// AnalyzeWithClusterCount forces the cluster count for one run.  Zero
// falls back to the configured count, then the elbow heuristic.
func (d *Detector) AnalyzeWithClusterCount(ctx context.Context, projectID string, concepts []*entity.Entity, rels []*relationship.Relationship, clusterCount int) *Result {
	run := analysis.Run{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		StartedAt:    time.Now().UTC(),
		ConceptCount: len(concepts),
	}

	embedded := make([]*entity.Entity, 0, len(concepts))
	for _, c := range concepts {
		if c.HasEmbedding() {
			embedded = append(embedded, c)
		}
	}
	sort.Slice(embedded, func(i, j int) bool { return embedded[i].ID < embedded[j].ID })

	if len(embedded) < minClusterableConcepts {
		run.Status = analysis.RunInsufficient
		run.Reason = fmt.Sprintf("%d concepts with embeddings, need at least %d",
			len(embedded), minClusterableConcepts)
		run.FinishedAt = time.Now().UTC()
		d.log.Info("gap analysis skipped",
			logging.String("project_id", projectID),
			logging.String("reason", run.Reason))
		return &Result{Run: run, Summary: run.Reason}
	}

	points := make([][]float32, len(embedded))
	for i, c := range embedded {
		points[i] = c.Embedding
	}

	rng := rand.New(rand.NewSource(d.cfg.Seed))
	k := clusterCount
	if k == 0 {
		k = d.cfg.ClusterCount
	}
	if k == 0 {
		k = selectK(points, d.cfg.MinClusters, d.cfg.MaxClusters, d.cfg.KMeansIterations, rng)
	}
	if k > len(points) {
		k = len(points)
	}
	km := runKMeans(points, k, d.cfg.KMeansIterations, rng)

	clusters, assignments := d.buildClusters(projectID, run.ID, embedded, km)

	edges := conceptEdges(concepts, rels)
	nodeIDs := make([]string, len(concepts))
	for i, c := range concepts {
		nodeIDs[i] = c.ID
	}
	sort.Strings(nodeIDs)
	centrality := computeCentrality(nodeIDs, edges)

	gaps := d.scoreGaps(projectID, run.ID, clusters, edges)
	byID := make(map[string]*entity.Entity, len(concepts))
	for _, c := range concepts {
		byID[c.ID] = c
	}
	for i, gap := range gaps {
		gap.BridgeConcepts = d.rankBridges(gap, embedded, assignments, byID, centrality)
		// Ghost edges only for the strongest gaps; gaps are already
		// ordered strongest first.
		if i < d.cfg.TopGapEdges {
			gap.PotentialEdges = d.potentialEdges(gap, byID, edges)
		}
		gap.SuggestedQuestions = d.suggestQuestions(ctx, gap, byID)
	}

	run.ClusterCount = len(clusters)
	run.GapCount = len(gaps)
	run.Status = analysis.RunCompleted
	run.FinishedAt = time.Now().UTC()

	summary := fmt.Sprintf("%d concepts in %d clusters, %d structural gaps",
		len(embedded), len(clusters), len(gaps))
	d.log.Info("gap analysis complete",
		logging.String("project_id", projectID),
		logging.String("run_id", run.ID),
		logging.Int("clusters", len(clusters)),
		logging.Int("gaps", len(gaps)))

	return &Result{
		Run:         run,
		Clusters:    clusters,
		Gaps:        gaps,
		Centrality:  centrality,
		Assignments: assignments,
		Summary:     summary,
	}
}

// buildClusters materializes clusters from the k-means result: member
// lists, frequency-ranked keywords, a display name from the top keywords,
// and a palette color.
func (d *Detector) buildClusters(projectID, runID string, embedded []*entity.Entity, km kmeansResult) ([]*analysis.ConceptCluster, map[string]int) {
	members := make(map[int][]*entity.Entity)
	for i, c := range embedded {
		members[km.assignments[i]] = append(members[km.assignments[i]], c)
	}

	ids := make([]int, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	assignments := make(map[string]int, len(embedded))
	clusters := make([]*analysis.ConceptCluster, 0, len(ids))
	for _, id := range ids {
		group := members[id]
		conceptIDs := make([]string, len(group))
		for i, c := range group {
			conceptIDs[i] = c.ID
			assignments[c.ID] = id
		}
		keywords := topKeywords(group, d.cfg.ClusterKeywords)
		name := strings.Join(firstN(keywords, 2), " / ")
		if name == "" {
			name = fmt.Sprintf("cluster %d", id)
		}
		clusters = append(clusters, &analysis.ConceptCluster{
			ID:         id,
			ProjectID:  projectID,
			RunID:      runID,
			Name:       name,
			Color:      clusterPalette[id%len(clusterPalette)],
			ConceptIDs: conceptIDs,
			Keywords:   keywords,
			Centroid:   km.centroids[id],
		})
	}
	return clusters, assignments
}

// scoreGaps computes the inter-cluster connectivity ratio for every
// unordered cluster pair and keeps pairs below the reporting bound, sorted
// by strength ascending (strongest gap first).
func (d *Detector) scoreGaps(projectID, runID string, clusters []*analysis.ConceptCluster, edges []edgePair) []*analysis.StructuralGap {
	edgeSet := make(map[string]bool, len(edges))
	for _, e := range edges {
		edgeSet[pairKey(e.a, e.b)] = true
	}

	var gaps []*analysis.StructuralGap
	for i := 0; i < len(clusters); i++ {
		for j := i + 1; j < len(clusters); j++ {
			a, b := clusters[i], clusters[j]
			if a.Size() == 0 || b.Size() == 0 {
				continue
			}
			cross := 0
			for _, ca := range a.ConceptIDs {
				for _, cb := range b.ConceptIDs {
					if edgeSet[pairKey(ca, cb)] {
						cross++
					}
				}
			}
			ratio := float64(cross) / float64(a.Size()*b.Size())
			if ratio >= analysis.MaxReportableGapStrength {
				continue
			}
			gaps = append(gaps, &analysis.StructuralGap{
				ID:          uuid.NewString(),
				ProjectID:   projectID,
				RunID:       runID,
				ClusterAID:  a.ID,
				ClusterBID:  b.ID,
				GapStrength: ratio,
				ConceptAIDs: append([]string(nil), a.ConceptIDs...),
				ConceptBIDs: append([]string(nil), b.ConceptIDs...),
				Status:      analysis.StatusDetected,
			})
		}
	}
	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].GapStrength != gaps[j].GapStrength {
			return gaps[i].GapStrength < gaps[j].GapStrength
		}
		if gaps[i].ClusterAID != gaps[j].ClusterAID {
			return gaps[i].ClusterAID < gaps[j].ClusterAID
		}
		return gaps[i].ClusterBID < gaps[j].ClusterBID
	})
	return gaps
}

// rankBridges scores every embedded concept outside both clusters as
// sqrt(avgSimA · avgSimB) · (1 + betweenness) and returns the top
// candidates.
func (d *Detector) rankBridges(gap *analysis.StructuralGap, embedded []*entity.Entity, assignments map[string]int, byID map[string]*entity.Entity, centrality map[string]*analysis.CentralityMetrics) []string {
	inGap := make(map[string]bool, len(gap.ConceptAIDs)+len(gap.ConceptBIDs))
	for _, id := range gap.ConceptAIDs {
		inGap[id] = true
	}
	for _, id := range gap.ConceptBIDs {
		inGap[id] = true
	}

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored
	for _, c := range embedded {
		if inGap[c.ID] {
			continue
		}
		simA := avgSimilarity(c, gap.ConceptAIDs, byID)
		simB := avgSimilarity(c, gap.ConceptBIDs, byID)
		if simA <= 0 || simB <= 0 {
			continue
		}
		betweenness := 0.0
		if m, ok := centrality[c.ID]; ok {
			betweenness = m.Betweenness
		}
		candidates = append(candidates, scored{
			id:    c.ID,
			score: math.Sqrt(simA*simB) * (1 + betweenness),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > d.cfg.MaxBridges {
		candidates = candidates[:d.cfg.MaxBridges]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

// potentialEdges computes ghost edges for a gap: cross-cluster concept
// pairs with cosine similarity at or above the threshold and no real edge,
// top N by similarity.
func (d *Detector) potentialEdges(gap *analysis.StructuralGap, byID map[string]*entity.Entity, edges []edgePair) []analysis.PotentialEdge {
	edgeSet := make(map[string]bool, len(edges))
	for _, e := range edges {
		edgeSet[pairKey(e.a, e.b)] = true
	}

	var out []analysis.PotentialEdge
	for _, aID := range gap.ConceptAIDs {
		a := byID[aID]
		if a == nil || !a.HasEmbedding() {
			continue
		}
		for _, bID := range gap.ConceptBIDs {
			b := byID[bID]
			if b == nil || !b.HasEmbedding() {
				continue
			}
			if edgeSet[pairKey(aID, bID)] {
				continue
			}
			sim := vectors.Cosine(a.Embedding, b.Embedding)
			if sim < d.cfg.PotentialEdgeThreshold {
				continue
			}
			out = append(out, analysis.PotentialEdge{
				SourceID:   aID,
				TargetID:   bID,
				Similarity: sim,
				GapID:      gap.ID,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].TargetID < out[j].TargetID
	})
	if len(out) > d.cfg.MaxPotentialEdges {
		out = out[:d.cfg.MaxPotentialEdges]
	}
	return out
}

const questionPromptFormat = `Two groups of research concepts are weakly connected in the literature.
Group A: %s
Group B: %s
Suggest 3 to 5 research questions that could bridge these groups.
Answer with one question per line, no numbering.`

// suggestQuestions asks the generator for bridging research questions,
// falling back to a fixed template when generation is unavailable or
// fails.
func (d *Detector) suggestQuestions(ctx context.Context, gap *analysis.StructuralGap, byID map[string]*entity.Entity) []string {
	namesA := conceptNames(gap.ConceptAIDs, byID, 3)
	namesB := conceptNames(gap.ConceptBIDs, byID, 3)
	if len(namesA) == 0 || len(namesB) == 0 {
		return nil
	}

	prompt := fmt.Sprintf(questionPromptFormat,
		strings.Join(namesA, ", "), strings.Join(namesB, ", "))

	genCtx, cancel := context.WithTimeout(ctx, d.cfg.QuestionTimeout)
	text, err := d.gen.Generate(genCtx, prompt)
	cancel()
	if err == nil {
		if questions := parseQuestions(text); len(questions) > 0 {
			return questions
		}
	} else if err != llm.ErrNoGenerator {
		d.log.Warn("research question generation failed", logging.Err(err))
	}

	return []string{
		fmt.Sprintf("How might %s relate to %s?", namesA[0], namesB[0]),
		fmt.Sprintf("Could methods from research on %s apply to %s?",
			strings.Join(namesA, ", "), strings.Join(namesB, ", ")),
		fmt.Sprintf("What shared mechanisms connect %s and %s?", namesA[0], namesB[0]),
	}
}

// parseQuestions keeps non-empty question-like lines, at most five.
func parseQuestions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "0123456789.-) "))
		if line == "" || !strings.Contains(line, "?") {
			continue
		}
		out = append(out, line)
		if len(out) == 5 {
			break
		}
	}
	return out
}

// conceptEdges projects the relationship set onto concept-to-concept edge
// pairs for connectivity counting and centrality.
func conceptEdges(concepts []*entity.Entity, rels []*relationship.Relationship) []edgePair {
	known := make(map[string]bool, len(concepts))
	for _, c := range concepts {
		known[c.ID] = true
	}
	var out []edgePair
	for _, r := range rels {
		if !known[r.SourceID] || !known[r.TargetID] || r.SourceID == r.TargetID {
			continue
		}
		out = append(out, edgePair{a: r.SourceID, b: r.TargetID})
	}
	return out
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// avgSimilarity is the mean cosine similarity between a concept and a
// cluster's embedded members, clamped at 0.
func avgSimilarity(c *entity.Entity, memberIDs []string, byID map[string]*entity.Entity) float64 {
	sum, count := 0.0, 0
	for _, id := range memberIDs {
		m := byID[id]
		if m == nil || !m.HasEmbedding() {
			continue
		}
		sum += vectors.Cosine(c.Embedding, m.Embedding)
		count++
	}
	if count == 0 {
		return 0
	}
	avg := sum / float64(count)
	if avg < 0 {
		return 0
	}
	return avg
}

// conceptNames resolves up to limit canonical names for display.
func conceptNames(ids []string, byID map[string]*entity.Entity, limit int) []string {
	out := make([]string, 0, limit)
	for _, id := range ids {
		if c := byID[id]; c != nil {
			out = append(out, c.CanonicalName)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// topKeywords ranks the tokens of member canonical names by frequency.
func topKeywords(group []*entity.Entity, limit int) []string {
	counts := make(map[string]int)
	for _, c := range group {
		for _, tok := range strings.Fields(c.CanonicalName) {
			if len(tok) < 3 {
				continue
			}
			counts[tok]++
		}
	}
	tokens := make([]string, 0, len(counts))
	for tok := range counts {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if counts[tokens[i]] != counts[tokens[j]] {
			return counts[tokens[i]] > counts[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})
	if len(tokens) > limit {
		tokens = tokens[:limit]
	}
	return tokens
}

func firstN(xs []string, n int) []string {
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}
