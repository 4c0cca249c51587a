package relationships

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/domain/relationship"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/llm"
)

// PrereqConfig tunes prerequisite inference.
type PrereqConfig struct {
	// StrongEdgeThreshold is the minimum weight of an existing semantic or
	// co-occurrence edge for its concept pair to be considered.
	StrongEdgeThreshold float64 `mapstructure:"strong_edge_threshold"`

	// BatchSize bounds pairs per generator call.
	BatchSize int `mapstructure:"batch_size"`

	// MaxPairs caps total pairs considered per run.
	MaxPairs int `mapstructure:"max_pairs"`

	// Timeout bounds each generator call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultPrereqConfig returns production defaults.
func DefaultPrereqConfig() PrereqConfig {
	return PrereqConfig{
		StrongEdgeThreshold: 0.8,
		BatchSize:           20,
		MaxPairs:            40,
		Timeout:             30 * time.Second,
	}
}

// PrerequisiteInferrer asks the text generator which concept of a strongly
// linked pair is foundational to the other and emits PREREQUISITE_OF edges
// from the foundational concept.  Entirely best-effort: without a
// generator, or on any generation or parse failure, it emits nothing.
type PrerequisiteInferrer struct {
	cfg PrereqConfig
	gen llm.Generator
	log logging.Logger
}

func NewPrerequisiteInferrer(cfg PrereqConfig, gen llm.Generator, log logging.Logger) *PrerequisiteInferrer {
	if cfg.StrongEdgeThreshold == 0 {
		cfg.StrongEdgeThreshold = 0.8
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxPairs == 0 {
		cfg.MaxPairs = 40
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if gen == nil {
		gen = llm.NopGenerator{}
	}
	return &PrerequisiteInferrer{cfg: cfg, gen: gen, log: log.Named("prereq")}
}

type prereqPair struct {
	aID, bID     string
	aName, bName string
	weight       float64
}

// prereqVerdict is the per-pair shape the generator is asked to return.
type prereqVerdict struct {
	Pair         int    `json:"pair"`
	Prerequisite string `json:"prerequisite"` // "a", "b", or "none"
}

const prereqPromptHeader = `You are analyzing concept pairs from academic literature.
For each numbered pair, decide whether one concept is a prerequisite
(foundational knowledge required to understand) of the other.
Answer with a JSON array only, one object per pair:
[{"pair": 0, "prerequisite": "a"}, {"pair": 1, "prerequisite": "none"}]
"a" means concept A is the prerequisite of B, "b" the reverse, "none" neither.

Pairs:
`

// Infer returns PREREQUISITE_OF edges for concept pairs already linked by a
// strong RELATED_TO or CO_OCCURS_WITH edge.  concepts maps entity id to the
// resolved concept.
func (p *PrerequisiteInferrer) Infer(ctx context.Context, projectID string, concepts map[string]*entity.Entity, edges []*relationship.Relationship) []*relationship.Relationship {
	pairs := p.collectPairs(concepts, edges)
	if len(pairs) == 0 {
		return nil
	}

	var out []*relationship.Relationship
	for start := 0; start < len(pairs); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch := pairs[start:end]

		batchCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		text, err := p.gen.Generate(batchCtx, buildPrereqPrompt(batch))
		cancel()
		if err != nil {
			if err != llm.ErrNoGenerator {
				p.log.Warn("prerequisite inference batch skipped", logging.Err(err))
			}
			return out
		}

		verdicts, err := parsePrereqVerdicts(text)
		if err != nil {
			p.log.Warn("unparseable prerequisite response", logging.Err(err))
			continue
		}
		for _, v := range verdicts {
			if v.Pair < 0 || v.Pair >= len(batch) {
				continue
			}
			pair := batch[v.Pair]
			switch strings.ToLower(v.Prerequisite) {
			case "a":
				out = append(out, relationship.New(projectID, pair.aID, pair.bID, relationship.TypePrerequisiteOf, pair.weight))
			case "b":
				out = append(out, relationship.New(projectID, pair.bID, pair.aID, relationship.TypePrerequisiteOf, pair.weight))
			}
		}
	}
	if len(out) > 0 {
		p.log.Info("prerequisite inference complete",
			logging.String("project_id", projectID),
			logging.Int("pairs_considered", len(pairs)),
			logging.Int("edges", len(out)))
	}
	return out
}

// collectPairs selects concept pairs linked by a strong semantic or
// co-occurrence edge, deduplicated and capped, in deterministic order.
func (p *PrerequisiteInferrer) collectPairs(concepts map[string]*entity.Entity, edges []*relationship.Relationship) []prereqPair {
	seen := make(map[string]bool)
	var pairs []prereqPair
	for _, e := range edges {
		if e.Type != relationship.TypeRelatedTo && e.Type != relationship.TypeCoOccursWith {
			continue
		}
		if e.Weight < p.cfg.StrongEdgeThreshold {
			continue
		}
		a, okA := concepts[e.SourceID]
		b, okB := concepts[e.TargetID]
		if !okA || !okB {
			continue
		}
		key := e.SourceID + "|" + e.TargetID
		if e.SourceID > e.TargetID {
			key = e.TargetID + "|" + e.SourceID
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		pairs = append(pairs, prereqPair{
			aID: e.SourceID, bID: e.TargetID,
			aName: a.CanonicalName, bName: b.CanonicalName,
			weight: e.Weight,
		})
	}
	sortPairs(pairs)
	if len(pairs) > p.cfg.MaxPairs {
		pairs = pairs[:p.cfg.MaxPairs]
	}
	return pairs
}

// sortPairs orders by weight descending, then endpoint ids, so the cap
// keeps the strongest pairs.
func sortPairs(pairs []prereqPair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].weight != pairs[j].weight {
			return pairs[i].weight > pairs[j].weight
		}
		if pairs[i].aID != pairs[j].aID {
			return pairs[i].aID < pairs[j].aID
		}
		return pairs[i].bID < pairs[j].bID
	})
}

func buildPrereqPrompt(batch []prereqPair) string {
	var sb strings.Builder
	sb.WriteString(prereqPromptHeader)
	for i, pair := range batch {
		sb.WriteString(strconv.Itoa(i))
		sb.WriteString(`. A: "` + pair.aName + `"  B: "` + pair.bName + `"`)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// parsePrereqVerdicts extracts the first JSON array from the generator's
// response, tolerating surrounding prose.
func parsePrereqVerdicts(text string) ([]prereqVerdict, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var out []prereqVerdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, err
	}
	return out, nil
}
