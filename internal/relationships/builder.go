// Package relationships implements the relationship builder: it turns
// resolved entities plus per-document mention lists into typed, weighted,
// deduplicated edge candidates for the knowledge graph.
package relationships

import (
	"sort"

	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/domain/relationship"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/vectors"
)

// Config tunes edge emission thresholds.
type Config struct {
	// SemanticThreshold is the minimum embedding cosine similarity for a
	// RELATED_TO edge between two concepts.
	SemanticThreshold float64 `mapstructure:"semantic_threshold"`

	// CoOccurrenceThreshold is the minimum number of shared documents for
	// a CO_OCCURS_WITH edge.
	CoOccurrenceThreshold int `mapstructure:"co_occurrence_threshold"`

	// AppliesToThreshold is the minimum method+concept shared-document
	// count for an APPLIES_TO edge.
	AppliesToThreshold int `mapstructure:"applies_to_threshold"`

	// AddressesThreshold is the minimum problem+concept shared-document
	// count for an ADDRESSES edge.
	AddressesThreshold int `mapstructure:"addresses_threshold"`

	// MaxSupportingDocs bounds the document ids recorded on a
	// co-occurrence edge's properties.
	MaxSupportingDocs int `mapstructure:"max_supporting_docs"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SemanticThreshold:     0.7,
		CoOccurrenceThreshold: 2,
		AppliesToThreshold:    2,
		AddressesThreshold:    1,
		MaxSupportingDocs:     10,
	}
}

// SupportLink is an extractor-provided evidence link between a finding and
// a concept.  Supports=false means the finding contradicts the concept.
type SupportLink struct {
	FindingID  string  `json:"finding_id"`
	ConceptID  string  `json:"concept_id"`
	Supports   bool    `json:"supports"`
	Confidence float64 `json:"confidence"`
}

// Input is everything one build pass consumes.  DocumentEntities maps
// document id → entity type → resolved entity ids mentioned in that
// document.
type Input struct {
	EntitiesByType   map[entity.Type][]*entity.Entity
	DocumentEntities map[string]map[entity.Type][]string
	SupportLinks     []SupportLink
}

// Stats summarises one build pass.
type Stats struct {
	SemanticEdges     int `json:"semantic_edges"`
	CoOccurrenceEdges int `json:"co_occurrence_edges"`
	AppliesToEdges    int `json:"applies_to_edges"`
	AddressesEdges    int `json:"addresses_edges"`
	SupportEdges      int `json:"support_edges"`
	ContradictEdges   int `json:"contradict_edges"`
	Deduplicated      int `json:"deduplicated"`
	Total             int `json:"total"`
}

// Builder produces relationship candidates.  It performs no I/O; the caller
// persists the result through relationship.Repository.UpsertBatch.
type Builder struct {
	cfg Config
	log logging.Logger
}

func NewBuilder(cfg Config, log logging.Logger) *Builder {
	if cfg.SemanticThreshold == 0 {
		cfg.SemanticThreshold = 0.7
	}
	if cfg.CoOccurrenceThreshold == 0 {
		cfg.CoOccurrenceThreshold = 2
	}
	if cfg.AppliesToThreshold == 0 {
		cfg.AppliesToThreshold = 2
	}
	if cfg.AddressesThreshold == 0 {
		cfg.AddressesThreshold = 1
	}
	if cfg.MaxSupportingDocs == 0 {
		cfg.MaxSupportingDocs = 10
	}
	return &Builder{cfg: cfg, log: log.Named("relbuilder")}
}

// BuildAll runs every edge generator and deduplicates the union.  Output
// order is deterministic (sorted by dedup key).
func (b *Builder) BuildAll(projectID string, in Input) ([]*relationship.Relationship, Stats) {
	var stats Stats
	var candidates []*relationship.Relationship

	semantic := b.semanticEdges(projectID, in.EntitiesByType[entity.TypeConcept])
	stats.SemanticEdges = len(semantic)
	candidates = append(candidates, semantic...)

	cooc := b.coOccurrenceEdges(projectID, in.DocumentEntities)
	stats.CoOccurrenceEdges = len(cooc)
	candidates = append(candidates, cooc...)

	applies := b.crossTypeEdges(projectID, in.DocumentEntities, entity.TypeMethod,
		relationship.TypeAppliesTo, b.cfg.AppliesToThreshold)
	stats.AppliesToEdges = len(applies)
	candidates = append(candidates, applies...)

	addresses := b.crossTypeEdges(projectID, in.DocumentEntities, entity.TypeProblem,
		relationship.TypeAddresses, b.cfg.AddressesThreshold)
	stats.AddressesEdges = len(addresses)
	candidates = append(candidates, addresses...)

	support := b.supportEdges(projectID, in.SupportLinks, &stats)
	candidates = append(candidates, support...)

	deduped := dedupe(candidates, &stats)
	stats.Total = len(deduped)

	b.log.Info("relationship build complete",
		logging.String("project_id", projectID),
		logging.Int("semantic", stats.SemanticEdges),
		logging.Int("co_occurrence", stats.CoOccurrenceEdges),
		logging.Int("cross_type", stats.AppliesToEdges+stats.AddressesEdges),
		logging.Int("evidence", stats.SupportEdges+stats.ContradictEdges),
		logging.Int("deduplicated", stats.Deduplicated),
		logging.Int("total", stats.Total))
	return deduped, stats
}

// semanticEdges emits RELATED_TO for every concept pair whose embedding
// cosine similarity meets the threshold.  Concepts without embeddings do
// not participate.
func (b *Builder) semanticEdges(projectID string, concepts []*entity.Entity) []*relationship.Relationship {
	embedded := make([]*entity.Entity, 0, len(concepts))
	for _, c := range concepts {
		if c.HasEmbedding() {
			embedded = append(embedded, c)
		}
	}
	sort.Slice(embedded, func(i, j int) bool { return embedded[i].ID < embedded[j].ID })

	var out []*relationship.Relationship
	for i := 0; i < len(embedded); i++ {
		for j := i + 1; j < len(embedded); j++ {
			sim := vectors.Cosine(embedded[i].Embedding, embedded[j].Embedding)
			if sim < b.cfg.SemanticThreshold {
				continue
			}
			out = append(out, relationship.New(projectID,
				embedded[i].ID, embedded[j].ID, relationship.TypeRelatedTo, sim))
		}
	}
	return out
}

// coOccurrenceEdges counts, per unordered concept pair, the documents that
// mention both, and emits CO_OCCURS_WITH when the count meets the
// threshold.  Weight is min(1, count/10); up to MaxSupportingDocs document
// ids are recorded as provenance.
func (b *Builder) coOccurrenceEdges(projectID string, docs map[string]map[entity.Type][]string) []*relationship.Relationship {
	type pairKey struct{ a, b string }
	counts := make(map[pairKey]int)
	supporting := make(map[pairKey][]string)

	docIDs := make([]string, 0, len(docs))
	for id := range docs {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)

	for _, docID := range docIDs {
		concepts := uniqueSorted(docs[docID][entity.TypeConcept])
		for i := 0; i < len(concepts); i++ {
			for j := i + 1; j < len(concepts); j++ {
				k := pairKey{a: concepts[i], b: concepts[j]}
				counts[k]++
				if len(supporting[k]) < b.cfg.MaxSupportingDocs {
					supporting[k] = append(supporting[k], docID)
				}
			}
		}
	}

	var out []*relationship.Relationship
	for k, count := range counts {
		if count < b.cfg.CoOccurrenceThreshold {
			continue
		}
		weight := float64(count) / 10
		if weight > 1 {
			weight = 1
		}
		rel := relationship.New(projectID, k.a, k.b, relationship.TypeCoOccursWith, weight)
		rel.Properties = map[string]interface{}{
			"co_occurrence_count":  count,
			"supporting_documents": supporting[k],
		}
		out = append(out, rel)
	}
	return out
}

// crossTypeEdges emits directed edges from entities of srcType to concepts
// they share documents with, once the shared-document count meets the
// threshold.  Weight is min(1, count/5).
func (b *Builder) crossTypeEdges(projectID string, docs map[string]map[entity.Type][]string, srcType entity.Type, relType relationship.Type, threshold int) []*relationship.Relationship {
	type pairKey struct{ src, dst string }
	counts := make(map[pairKey]int)

	for _, byType := range docs {
		sources := uniqueSorted(byType[srcType])
		concepts := uniqueSorted(byType[entity.TypeConcept])
		for _, s := range sources {
			for _, c := range concepts {
				if s == c {
					continue
				}
				counts[pairKey{src: s, dst: c}]++
			}
		}
	}

	var out []*relationship.Relationship
	for k, count := range counts {
		if count < threshold {
			continue
		}
		weight := float64(count) / 5
		if weight > 1 {
			weight = 1
		}
		out = append(out, relationship.New(projectID, k.src, k.dst, relType, weight))
	}
	return out
}

// supportEdges maps extractor-provided evidence links directly to
// SUPPORTS/CONTRADICTS edges; weight carries the extractor's confidence.
func (b *Builder) supportEdges(projectID string, links []SupportLink, stats *Stats) []*relationship.Relationship {
	var out []*relationship.Relationship
	for _, l := range links {
		if l.FindingID == "" || l.ConceptID == "" || l.FindingID == l.ConceptID {
			continue
		}
		t := relationship.TypeSupports
		if !l.Supports {
			t = relationship.TypeContradicts
		}
		conf := l.Confidence
		if conf <= 0 {
			conf = 0.5
		}
		out = append(out, relationship.New(projectID, l.FindingID, l.ConceptID, t, conf))
		if l.Supports {
			stats.SupportEdges++
		} else {
			stats.ContradictEdges++
		}
	}
	return out
}

// dedupe collapses candidates sharing a canonical key, keeping the
// highest-weight candidate.  Bidirectional keys are endpoint-sorted by
// Relationship.Key, so (A,B) and (B,A) collapse.
func dedupe(candidates []*relationship.Relationship, stats *Stats) []*relationship.Relationship {
	best := make(map[string]*relationship.Relationship, len(candidates))
	for _, c := range candidates {
		key := c.Key()
		cur, ok := best[key]
		if !ok {
			best[key] = c
			continue
		}
		stats.Deduplicated++
		if c.Weight > cur.Weight {
			best[key] = c
		}
	}

	keys := make([]string, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*relationship.Relationship, len(keys))
	for i, k := range keys {
		out[i] = best[k]
	}
	return out
}

// uniqueSorted returns the sorted distinct values of ids.
func uniqueSorted(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
