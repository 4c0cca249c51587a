package resolution

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/llm"
	"github.com/athene-kg/athene/internal/vectors"
)

// Config tunes the resolution pipeline.
type Config struct {
	// AutoMergeThreshold: pairs scoring at or above merge unconditionally.
	AutoMergeThreshold float64 `mapstructure:"auto_merge_threshold"`

	// ReviewThreshold: pairs scoring in [ReviewThreshold, AutoMergeThreshold)
	// are escalated to the verifier; below it they never merge.
	ReviewThreshold float64 `mapstructure:"review_threshold"`

	// VerifierBatchSize bounds pairs per verifier call.
	VerifierBatchSize int `mapstructure:"verifier_batch_size"`

	// VerifierMaxPairs caps total escalations per run; the highest-scoring
	// pairs win the budget.
	VerifierMaxPairs int `mapstructure:"verifier_max_pairs"`

	// VerifierTimeout bounds each verifier call.  A timed-out batch is
	// unconfirmed, not an error.
	VerifierTimeout time.Duration `mapstructure:"verifier_timeout"`

	// EmbedTimeout bounds the name-embedding call that backfills vectors
	// for groups the caller supplied none for.
	EmbedTimeout time.Duration `mapstructure:"embed_timeout"`

	// Synonyms is the caller-supplied normalized-name → canonical-name
	// disambiguation table.
	Synonyms map[string]string `mapstructure:"synonyms"`

	// Homonyms overrides the default context-bucketing table when non-nil.
	Homonyms HomonymTable `mapstructure:"-"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		AutoMergeThreshold: 0.95,
		ReviewThreshold:    0.82,
		VerifierBatchSize:  20,
		VerifierMaxPairs:   40,
		VerifierTimeout:    30 * time.Second,
		EmbedTimeout:       30 * time.Second,
	}
}

// Stats summarises one resolution run.
type Stats struct {
	RawCount         int `json:"raw_count"`
	Dropped          int `json:"dropped"`
	ResolvedCount    int `json:"resolved_count"`
	CandidatePairs   int `json:"candidate_pairs"`
	AutoMerged       int `json:"auto_merged"`
	Escalated        int `json:"escalated"`
	Confirmed        int `json:"confirmed"`
	FailedBatches    int `json:"failed_batches"`
	EmbeddedNames    int `json:"embedded_names"`
	AcronymsLearned  int `json:"acronyms_learned"`
	BucketedHomonyms int `json:"bucketed_homonyms"`
}

// Resolver deduplicates raw extracted entities.  It is stateless across
// runs; all pass-local accumulation lives in the run object so concurrent
// runs on different projects are independent.
type Resolver struct {
	cfg      Config
	verifier llm.Verifier
	embedder llm.Embedder
	log      logging.Logger
}

// NewResolver constructs a Resolver.  Pass llm.NopVerifier{} and
// llm.NopEmbedder{} for the deterministic no-LLM configuration.
func NewResolver(cfg Config, verifier llm.Verifier, embedder llm.Embedder, log logging.Logger) *Resolver {
	if cfg.AutoMergeThreshold == 0 {
		cfg.AutoMergeThreshold = 0.95
	}
	if cfg.ReviewThreshold == 0 {
		cfg.ReviewThreshold = 0.82
	}
	if cfg.VerifierBatchSize == 0 {
		cfg.VerifierBatchSize = 20
	}
	if cfg.VerifierMaxPairs == 0 {
		cfg.VerifierMaxPairs = 40
	}
	if cfg.VerifierTimeout == 0 {
		cfg.VerifierTimeout = 30 * time.Second
	}
	if cfg.EmbedTimeout == 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if verifier == nil {
		verifier = llm.NopVerifier{}
	}
	if embedder == nil {
		embedder = llm.NopEmbedder{}
	}
	return &Resolver{cfg: cfg, verifier: verifier, embedder: embedder, log: log.Named("resolver")}
}

// groupKey partitions mention groups: candidates are only generated within
// one (entity type, context bucket) partition, and only mentions with the
// same canonical name pre-aggregate into one group.
type groupKey struct {
	typ    entity.Type
	bucket string
	name   string
}

// mentionGroup accumulates all raw mentions that canonicalized to the same
// group key during this pass.  This is the explicit per-run replacement for
// a shared dedup cache: it is built single-threaded per run and merged into
// entities only at materialization time.
type mentionGroup struct {
	key       groupKey
	support   int
	maxConf   float64
	aliases   map[string]bool
	docs      map[string]bool
	props     map[string]interface{}
	embedding []float32
}

// Resolve deduplicates raws into resolved entities for one project.
// embeddings, when supplied, maps raw or canonical names to vectors and
// enables embedding-similarity candidates alongside string similarity.
// Names still lacking a vector are embedded through the configured
// embedder; an embedding failure degrades that run to string similarity.
//
// Candidate generation, clustering, and merge materialization run strictly
// in that order; the caller must not start a second run for the same
// project until this one returns.
func (r *Resolver) Resolve(ctx context.Context, projectID string, raws []entity.Raw, embeddings map[string][]float32) ([]*entity.Entity, Stats, error) {
	stats := Stats{RawCount: len(raws)}
	canon := NewCanonicalizer(r.cfg.Synonyms)
	homonyms := r.cfg.Homonyms
	if homonyms == nil {
		homonyms = DefaultHomonyms()
	}
	buckets := newBucketer(homonyms)

	// Pass 1: canonicalize and aggregate mentions.
	groups := make(map[groupKey]*mentionGroup)
	for _, raw := range raws {
		name := canon.Canonicalize(raw.Text)
		if name == "" || !raw.Type.Valid() {
			stats.Dropped++
			continue
		}
		bucket := buckets.bucket(name, raw)
		if bucket != entity.BucketGeneric {
			stats.BucketedHomonyms++
		}
		key := groupKey{typ: raw.Type, bucket: bucket, name: name}
		g, ok := groups[key]
		if !ok {
			g = &mentionGroup{
				key:     key,
				aliases: make(map[string]bool),
				docs:    make(map[string]bool),
				props:   make(map[string]interface{}),
			}
			groups[key] = g
		}
		g.support++
		if raw.Confidence > g.maxConf {
			g.maxConf = raw.Confidence
		}
		g.aliases[raw.Text] = true
		if raw.SourceDocumentID != "" {
			g.docs[raw.SourceDocumentID] = true
		}
		for k, v := range raw.Properties {
			if _, exists := g.props[k]; !exists {
				g.props[k] = v
			}
		}
		if g.embedding == nil {
			if vec, ok := lookupEmbedding(embeddings, raw.Text, name); ok {
				g.embedding = vec
			}
		}
	}
	stats.AcronymsLearned = len(canon.LearnedAcronyms())

	// Acronym mappings may have been learned after their short form was
	// already grouped; fold such groups into their expansions now.
	r.foldLateAcronyms(canon, groups)

	// Deterministic group ordering: dense indices for the union-find arena.
	ordered := make([]*mentionGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].key.less(ordered[j].key) })
	index := make(map[groupKey]int, len(ordered))
	for i, g := range ordered {
		index[g.key] = i
	}

	// Groups the caller supplied no vector for get one from the embedder,
	// so embedding-similarity candidates cover them too.
	r.fillMissingEmbeddings(ctx, ordered, &stats)

	// Pass 2: candidate generation within each (type, bucket) partition.
	candidates := r.generateCandidates(ordered)
	stats.CandidatePairs = len(candidates)

	// Pass 3: split into auto-merges and verifier escalations.
	uf := newUnionFind(len(ordered))
	var review []scoredPair
	for _, c := range candidates {
		if c.score >= r.cfg.AutoMergeThreshold {
			uf.union(c.a, c.b)
			stats.AutoMerged++
		} else {
			review = append(review, c)
		}
	}
	r.escalate(ctx, ordered, review, uf, &stats)

	// Pass 4: merge materialization, one entity per component.
	out := make([]*entity.Entity, 0, len(ordered))
	now := time.Now().UTC()
	for _, comp := range uf.components() {
		members := make([]*mentionGroup, len(comp))
		for i, idx := range comp {
			members[i] = ordered[idx]
		}
		out = append(out, materialize(projectID, members, now))
	}
	stats.ResolvedCount = len(out)

	r.log.Info("resolution run complete",
		logging.String("project_id", projectID),
		logging.Int("raw", stats.RawCount),
		logging.Int("resolved", stats.ResolvedCount),
		logging.Int("auto_merged", stats.AutoMerged),
		logging.Int("escalated", stats.Escalated),
		logging.Int("confirmed", stats.Confirmed),
		logging.Int("dropped", stats.Dropped))
	return out, stats, nil
}

func (k groupKey) less(o groupKey) bool {
	if k.typ != o.typ {
		return k.typ < o.typ
	}
	if k.bucket != o.bucket {
		return k.bucket < o.bucket
	}
	return k.name < o.name
}

// lookupEmbedding resolves a vector by raw surface text first, canonical
// name second.
func lookupEmbedding(embeddings map[string][]float32, rawText, canonical string) ([]float32, bool) {
	if embeddings == nil {
		return nil, false
	}
	if v, ok := embeddings[rawText]; ok && len(v) > 0 {
		return v, true
	}
	if v, ok := embeddings[canonical]; ok && len(v) > 0 {
		return v, true
	}
	return nil, false
}

// foldLateAcronyms merges groups whose name is a learned acronym into the
// group of the expansion, preserving support, aliases, and provenance.
func (r *Resolver) foldLateAcronyms(canon *Canonicalizer, groups map[groupKey]*mentionGroup) {
	acronyms := canon.LearnedAcronyms()
	if len(acronyms) == 0 {
		return
	}
	// Collect the fold list before touching the map; folding renames and
	// inserts keys, which must not happen mid-range.
	type fold struct {
		from   groupKey
		target groupKey
	}
	var folds []fold
	for key := range groups {
		long, ok := acronyms[key.name]
		if !ok {
			continue
		}
		folds = append(folds, fold{
			from:   key,
			target: groupKey{typ: key.typ, bucket: key.bucket, name: long},
		})
	}
	for _, f := range folds {
		g := groups[f.from]
		delete(groups, f.from)
		dst, ok := groups[f.target]
		if !ok {
			// No group under the expansion yet: rename in place.
			g.key = f.target
			groups[f.target] = g
			continue
		}
		dst.absorb(g)
	}
}

// absorb folds other into g.
func (g *mentionGroup) absorb(other *mentionGroup) {
	g.support += other.support
	if other.maxConf > g.maxConf {
		g.maxConf = other.maxConf
	}
	for a := range other.aliases {
		g.aliases[a] = true
	}
	for d := range other.docs {
		g.docs[d] = true
	}
	for k, v := range other.props {
		if _, exists := g.props[k]; !exists {
			g.props[k] = v
		}
	}
	if g.embedding == nil {
		g.embedding = other.embedding
	}
}

// fillMissingEmbeddings backfills vectors for groups that arrived without
// one, embedding canonical names in a single bounded call.  Failure is not
// an error: the run continues on string similarity alone.
func (r *Resolver) fillMissingEmbeddings(ctx context.Context, ordered []*mentionGroup, stats *Stats) {
	var missing []*mentionGroup
	for _, g := range ordered {
		if len(g.embedding) == 0 {
			missing = append(missing, g)
		}
	}
	if len(missing) == 0 {
		return
	}

	names := make([]string, len(missing))
	for i, g := range missing {
		names[i] = g.key.name
	}
	embedCtx, cancel := context.WithTimeout(ctx, r.cfg.EmbedTimeout)
	vecs, err := r.embedder.Embed(embedCtx, names)
	cancel()
	if err != nil {
		r.log.Warn("name embedding failed, continuing on string similarity",
			logging.Int("names", len(names)), logging.Err(err))
		return
	}
	for i, g := range missing {
		if i < len(vecs) && len(vecs[i]) > 0 {
			g.embedding = vecs[i]
			stats.EmbeddedNames++
		}
	}
}

type scoredPair struct {
	a, b  int
	score float64
}

// generateCandidates scores all pairs within each (type, bucket) partition
// using the hybrid string similarity unioned with embedding cosine
// similarity, keeping the higher of the two scores per pair.
func (r *Resolver) generateCandidates(ordered []*mentionGroup) []scoredPair {
	var out []scoredPair
	for start := 0; start < len(ordered); {
		end := start + 1
		for end < len(ordered) &&
			ordered[end].key.typ == ordered[start].key.typ &&
			ordered[end].key.bucket == ordered[start].key.bucket {
			end++
		}
		for i := start; i < end; i++ {
			for j := i + 1; j < end; j++ {
				score := nameSimilarity(ordered[i].key.name, ordered[j].key.name)
				if ordered[i].embedding != nil && ordered[j].embedding != nil {
					if cos := vectors.Cosine(ordered[i].embedding, ordered[j].embedding); cos > score {
						score = cos
					}
				}
				if score >= r.cfg.ReviewThreshold {
					out = append(out, scoredPair{a: i, b: j, score: score})
				}
			}
		}
		start = end
	}
	return out
}

// escalate submits review-band pairs to the verifier in bounded batches.
// Failures and timeouts leave the batch unconfirmed: the conservative
// outcome is under-merging, never a false merge.
func (r *Resolver) escalate(ctx context.Context, ordered []*mentionGroup, review []scoredPair, uf *unionFind, stats *Stats) {
	if len(review) == 0 {
		return
	}
	// Highest-scoring pairs win the per-run escalation budget.
	sort.Slice(review, func(i, j int) bool {
		if review[i].score != review[j].score {
			return review[i].score > review[j].score
		}
		if review[i].a != review[j].a {
			return review[i].a < review[j].a
		}
		return review[i].b < review[j].b
	})
	if len(review) > r.cfg.VerifierMaxPairs {
		review = review[:r.cfg.VerifierMaxPairs]
	}
	stats.Escalated = len(review)

	for start := 0; start < len(review); start += r.cfg.VerifierBatchSize {
		end := start + r.cfg.VerifierBatchSize
		if end > len(review) {
			end = len(review)
		}
		batch := review[start:end]

		pairs := make([]llm.MergePair, len(batch))
		for i, p := range batch {
			pairs[i] = llm.MergePair{
				NameA:      ordered[p.a].key.name,
				NameB:      ordered[p.b].key.name,
				EntityType: string(ordered[p.a].key.typ),
				Score:      p.score,
			}
		}

		batchCtx, cancel := context.WithTimeout(ctx, r.cfg.VerifierTimeout)
		decisions, err := r.verifier.VerifyPairs(batchCtx, pairs)
		cancel()
		if err != nil {
			stats.FailedBatches++
			r.log.Warn("verifier batch unconfirmed",
				logging.Int("pairs", len(batch)), logging.Err(err))
			continue
		}
		for i, d := range decisions {
			if d.Same {
				uf.union(batch[i].a, batch[i].b)
				stats.Confirmed++
			}
		}
	}
}

// materialize builds one resolved entity from a merge component.
// Canonical name election: highest raw support, then highest confidence,
// then shortest name, then lexicographic — fully deterministic.
func materialize(projectID string, members []*mentionGroup, now time.Time) *entity.Entity {
	winner := members[0]
	for _, g := range members[1:] {
		if electedOver(g, winner) {
			winner = g
		}
	}

	e := &entity.Entity{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Type:          winner.key.typ,
		CanonicalName: winner.key.name,
		ContextBucket: winner.key.bucket,
		Embedding:     mergedEmbedding(members),
		Properties:    make(map[string]interface{}),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, g := range members {
		if g.maxConf > e.Confidence {
			e.Confidence = g.maxConf
		}
		for a := range g.aliases {
			e.AddAlias(a)
		}
		for d := range g.docs {
			e.AddSourceDocument(d)
		}
		for k, v := range g.props {
			if _, exists := e.Properties[k]; !exists {
				e.Properties[k] = v
			}
		}
	}
	return e
}

// mergedEmbedding places the merged entity at the centroid of its member
// vectors.  One vector passes through; none yields nil.
func mergedEmbedding(members []*mentionGroup) []float32 {
	vecs := make([][]float32, 0, len(members))
	for _, g := range members {
		if len(g.embedding) > 0 {
			vecs = append(vecs, g.embedding)
		}
	}
	switch len(vecs) {
	case 0:
		return nil
	case 1:
		return vecs[0]
	}
	return vectors.Mean(vecs)
}

// electedOver reports whether candidate g beats the current winner.
func electedOver(g, winner *mentionGroup) bool {
	if g.support != winner.support {
		return g.support > winner.support
	}
	if g.maxConf != winner.maxConf {
		return g.maxConf > winner.maxConf
	}
	if len(g.key.name) != len(winner.key.name) {
		return len(g.key.name) < len(winner.key.name)
	}
	return g.key.name < winner.key.name
}
