package resolution

import (
	"strings"

	"github.com/athene-kg/athene/internal/domain/entity"
)

// HomonymTable maps a canonical name known to be ambiguous across research
// domains to per-domain keyword lists.  Bucketing partitions such names
// before candidate generation so that, e.g., "sat" from a logic paper never
// merges with "sat" from an education-testing paper.
type HomonymTable map[string]map[string][]string

// DefaultHomonyms covers the ambiguous terms observed most often in
// cross-disciplinary corpora.  Callers may extend or replace the table via
// Config.Homonyms.
func DefaultHomonyms() HomonymTable {
	return HomonymTable{
		"sat": {
			"logic":     {"boolean", "satisfiability", "solver", "clause", "np-complete", "formula"},
			"education": {"test", "score", "student", "college", "admission", "exam"},
		},
		"attention": {
			"ml":        {"transformer", "head", "query", "key", "value", "self-attention", "encoder"},
			"cognition": {"cognitive", "visual", "stimulus", "perception", "working memory"},
		},
		"transformer": {
			"ml":          {"attention", "encoder", "decoder", "pretrained", "language model"},
			"engineering": {"voltage", "electrical", "winding", "power", "grid"},
		},
		"regression": {
			"statistics": {"linear", "coefficient", "predictor", "least squares", "variable"},
			"psychology": {"behavior", "developmental", "therapy", "defense"},
		},
	}
}

// bucketer assigns context buckets to canonicalized names using bag-of-text
// keyword scoring.  Names absent from the table always bucket to
// entity.BucketGeneric.
type bucketer struct {
	table HomonymTable
}

func newBucketer(table HomonymTable) *bucketer {
	if table == nil {
		table = HomonymTable{}
	}
	return &bucketer{table: table}
}

// bucket scores the raw mention's surrounding text against each domain's
// keyword list and returns the best-scoring bucket, or BucketGeneric when
// the name is unambiguous or no keywords match.
func (b *bucketer) bucket(canonical string, raw entity.Raw) string {
	domains, ok := b.table[canonical]
	if !ok {
		return entity.BucketGeneric
	}

	text := strings.ToLower(raw.ContextText())
	best, bestScore := entity.BucketGeneric, 0
	for domain, keywords := range domains {
		score := 0
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		// Strictly-greater keeps the choice deterministic under map
		// iteration by breaking score ties alphabetically.
		if score > bestScore || (score == bestScore && score > 0 && domain < best) {
			best, bestScore = domain, score
		}
	}
	return best
}
