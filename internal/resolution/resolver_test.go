package resolution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/domain/relationship"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/llm"
)

func rawWithContext(text, contextText string) entity.Raw {
	return entity.Raw{
		Text:        text,
		Type:        entity.TypeConcept,
		Description: contextText,
		Confidence:  0.9,
	}
}

func conceptRaw(text, docID string) entity.Raw {
	return entity.Raw{
		Text:             text,
		Type:             entity.TypeConcept,
		Confidence:       0.9,
		SourceDocumentID: docID,
	}
}

func newTestResolver(v llm.Verifier) *Resolver {
	return NewResolver(DefaultConfig(), v, nil, logging.NewNopLogger())
}

func TestResolveMergesAcronymAndPluralVariants(t *testing.T) {
	raws := []entity.Raw{
		conceptRaw("G.C.N.", "doc-1"),
		conceptRaw("Graph Convolutional Network", "doc-2"),
		conceptRaw("graph convolutional networks", "doc-3"),
	}

	got, stats, err := newTestResolver(nil).Resolve(context.Background(), "proj-1", raws, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)

	e := got[0]
	assert.Equal(t, "graph convolutional network", e.CanonicalName)
	assert.Equal(t, entity.TypeConcept, e.Type)
	assert.ElementsMatch(t,
		[]string{"G.C.N.", "Graph Convolutional Network", "graph convolutional networks"},
		e.Aliases)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2", "doc-3"}, e.SourceDocumentIDs)

	assert.Equal(t, 3, stats.RawCount)
	assert.Equal(t, 1, stats.ResolvedCount)
	assert.Zero(t, stats.Dropped)
}

func TestResolveIsIdempotent(t *testing.T) {
	raws := []entity.Raw{
		conceptRaw("graph neural networks", "doc-1"),
		conceptRaw("Graph Neural Network", "doc-2"),
		conceptRaw("transfer learning", "doc-1"),
	}
	r := newTestResolver(nil)

	first, _, err := r.Resolve(context.Background(), "proj-1", raws, nil)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// Feed the resolved canonical names back through: nothing new merges
	// and the canonical names are unchanged.
	again := make([]entity.Raw, len(first))
	for i, e := range first {
		again[i] = entity.Raw{
			Text:       e.CanonicalName,
			Type:       e.Type,
			Confidence: e.Confidence,
		}
	}
	second, _, err := r.Resolve(context.Background(), "proj-1", again, nil)
	require.NoError(t, err)
	require.Len(t, second, len(first))

	names := func(es []*entity.Entity) []string {
		out := make([]string, len(es))
		for i, e := range es {
			out[i] = e.CanonicalName
		}
		return out
	}
	assert.ElementsMatch(t, names(first), names(second))
}

func TestResolveMonotonicReduction(t *testing.T) {
	raws := []entity.Raw{
		conceptRaw("attention mechanism", "doc-1"),
		conceptRaw("attention mechanisms", "doc-2"),
		conceptRaw("self attention", "doc-1"),
		conceptRaw("convolution", "doc-2"),
		conceptRaw("", "doc-3"), // dropped, not resolved
	}

	got, stats, err := newTestResolver(nil).Resolve(context.Background(), "proj-1", raws, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), stats.RawCount)
	assert.Equal(t, 1, stats.Dropped)
	assert.Equal(t, len(got), stats.ResolvedCount)
}

func TestResolveNeverMergesAcrossTypes(t *testing.T) {
	raws := []entity.Raw{
		{Text: "gradient descent", Type: entity.TypeConcept, Confidence: 0.9},
		{Text: "gradient descent", Type: entity.TypeMethod, Confidence: 0.9},
	}

	got, _, err := newTestResolver(nil).Resolve(context.Background(), "proj-1", raws, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestResolveNeverMergesAcrossBuckets(t *testing.T) {
	raws := []entity.Raw{
		rawWithContext("SAT", "boolean satisfiability solver clause"),
		rawWithContext("SAT", "college admission exam score student"),
	}

	got, stats, err := newTestResolver(nil).Resolve(context.Background(), "proj-1", raws, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	buckets := []string{got[0].ContextBucket, got[1].ContextBucket}
	assert.ElementsMatch(t, []string{"logic", "education"}, buckets)
	assert.Equal(t, 2, stats.BucketedHomonyms)
}

func TestResolveCanonicalNameElection(t *testing.T) {
	// "graph convolutional network" has two supporting mentions; the
	// acronym has one.  Support wins the election.
	raws := []entity.Raw{
		conceptRaw("gcn", "doc-1"),
		conceptRaw("graph convolutional network", "doc-2"),
		conceptRaw("graph convolutional network", "doc-3"),
	}

	got, _, err := newTestResolver(nil).Resolve(context.Background(), "proj-1", raws, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "graph convolutional network", got[0].CanonicalName)
}

func TestResolveKeepsMaxConfidence(t *testing.T) {
	raws := []entity.Raw{
		{Text: "dropout", Type: entity.TypeMethod, Confidence: 0.4},
		{Text: "Dropout", Type: entity.TypeMethod, Confidence: 0.95},
	}

	got, _, err := newTestResolver(nil).Resolve(context.Background(), "proj-1", raws, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.95, got[0].Confidence)
}

// recordingVerifier confirms every pair and records what it saw.
type recordingVerifier struct {
	calls [][]llm.MergePair
	err   error
	same  bool
}

func (v *recordingVerifier) VerifyPairs(_ context.Context, pairs []llm.MergePair) ([]llm.Decision, error) {
	v.calls = append(v.calls, pairs)
	if v.err != nil {
		return nil, v.err
	}
	out := make([]llm.Decision, len(pairs))
	for i := range out {
		out[i] = llm.Decision{Same: v.same, Confidence: 0.9}
	}
	return out, nil
}

// reviewBandPair scores in [0.82, 0.95): high token overlap, one extra
// trailing word, prefix-truncation bonus.
func reviewBandPair() []entity.Raw {
	return []entity.Raw{
		conceptRaw("masked language model pretraining", "doc-1"),
		conceptRaw("masked language model pretraining objective", "doc-2"),
	}
}

func TestResolveEscalatesReviewBandToVerifier(t *testing.T) {
	v := &recordingVerifier{same: true}

	got, stats, err := newTestResolver(v).Resolve(context.Background(), "proj-1", reviewBandPair(), nil)
	require.NoError(t, err)

	require.Equal(t, 1, stats.Escalated)
	require.NotEmpty(t, v.calls)
	assert.Equal(t, 1, stats.Confirmed)
	assert.Len(t, got, 1, "verifier-confirmed pair merges")
	assert.Zero(t, stats.AutoMerged)
}

func TestResolveVerifierFailureUnderMerges(t *testing.T) {
	v := &recordingVerifier{err: errors.New("backend down")}

	got, stats, err := newTestResolver(v).Resolve(context.Background(), "proj-1", reviewBandPair(), nil)
	require.NoError(t, err, "verifier failure must not fail the run")

	assert.Equal(t, 1, stats.Escalated)
	assert.Equal(t, 1, stats.FailedBatches)
	assert.Zero(t, stats.Confirmed)
	assert.Len(t, got, 2, "unconfirmed pairs stay separate")
}

func TestResolveNopVerifierKeepsReviewBandSeparate(t *testing.T) {
	got, stats, err := newTestResolver(llm.NopVerifier{}).Resolve(context.Background(), "proj-1", reviewBandPair(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Escalated)
	assert.Zero(t, stats.FailedBatches)
	assert.Len(t, got, 2)
}

func TestResolveVerifierBudgetCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VerifierMaxPairs = 3
	cfg.VerifierBatchSize = 2
	v := &recordingVerifier{same: false}
	r := NewResolver(cfg, v, nil, logging.NewNopLogger())

	// The base name pairs into the review band with each extended variant;
	// variant-to-variant pairs score below it.
	raws := []entity.Raw{
		conceptRaw("masked language model pretraining", "doc-1"),
		conceptRaw("masked language model pretraining objective", "doc-2"),
		conceptRaw("masked language model pretraining loss", "doc-3"),
		conceptRaw("masked language model pretraining task", "doc-4"),
		conceptRaw("masked language model pretraining strategy", "doc-5"),
	}

	_, stats, err := r.Resolve(context.Background(), "proj-1", raws, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Escalated, "budget caps escalations")
	require.Len(t, v.calls, 2)
	assert.Len(t, v.calls[0], 2)
	assert.Len(t, v.calls[1], 1)
}

func TestResolveEmbeddingCandidates(t *testing.T) {
	// Two names too dissimilar for string similarity; near-identical
	// embeddings push them over the auto-merge threshold.
	raws := []entity.Raw{
		conceptRaw("word vectors", "doc-1"),
		conceptRaw("distributed representations", "doc-2"),
	}
	embeddings := map[string][]float32{
		"word vectors":                {1, 0, 0.01},
		"distributed representations": {1, 0, 0.015},
	}

	got, _, err := newTestResolver(nil).Resolve(context.Background(), "proj-1", raws, embeddings)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Without embeddings the same pair stays apart.
	apart, _, err := newTestResolver(nil).Resolve(context.Background(), "proj-1", raws, nil)
	require.NoError(t, err)
	assert.Len(t, apart, 2)
}

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   [][]string
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls = append(e.calls, texts)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vectors[t]
	}
	return out, nil
}

func TestResolveEmbedderBackfillsMissingVectors(t *testing.T) {
	// No precomputed embeddings at all: the embedder supplies vectors for
	// the canonical names, enabling the embedding merge.
	raws := []entity.Raw{
		conceptRaw("word vectors", "doc-1"),
		conceptRaw("distributed representations", "doc-2"),
	}
	emb := &stubEmbedder{vectors: map[string][]float32{
		"word vectors":                {1, 0, 0.01},
		"distributed representations": {1, 0, 0.015},
	}}
	r := NewResolver(DefaultConfig(), nil, emb, logging.NewNopLogger())

	got, stats, err := r.Resolve(context.Background(), "proj-1", raws, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 2, stats.EmbeddedNames)
	require.Len(t, emb.calls, 1)
	assert.ElementsMatch(t,
		[]string{"word vectors", "distributed representations"}, emb.calls[0])
}

func TestResolveEmbedderOnlyBackfillsMissingVectors(t *testing.T) {
	// One name already has a caller-supplied vector; only the other is
	// sent to the embedder.
	raws := []entity.Raw{
		conceptRaw("word vectors", "doc-1"),
		conceptRaw("distributed representations", "doc-2"),
	}
	embeddings := map[string][]float32{
		"word vectors": {1, 0, 0.01},
	}
	emb := &stubEmbedder{vectors: map[string][]float32{
		"distributed representations": {1, 0, 0.015},
	}}
	r := NewResolver(DefaultConfig(), nil, emb, logging.NewNopLogger())

	got, stats, err := r.Resolve(context.Background(), "proj-1", raws, embeddings)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, stats.EmbeddedNames)
	require.Len(t, emb.calls, 1)
	assert.Equal(t, []string{"distributed representations"}, emb.calls[0])
}

func TestResolveEmbedderFailureDegradesToStringSimilarity(t *testing.T) {
	raws := []entity.Raw{
		conceptRaw("word vectors", "doc-1"),
		conceptRaw("distributed representations", "doc-2"),
	}
	emb := &stubEmbedder{err: errors.New("embedding backend down")}
	r := NewResolver(DefaultConfig(), nil, emb, logging.NewNopLogger())

	got, stats, err := r.Resolve(context.Background(), "proj-1", raws, nil)
	require.NoError(t, err, "embedding failure is not a run failure")
	assert.Len(t, got, 2)
	assert.Zero(t, stats.EmbeddedNames)
}

func TestResolveMergedEmbeddingIsCentroid(t *testing.T) {
	raws := []entity.Raw{
		conceptRaw("word vectors", "doc-1"),
		conceptRaw("distributed representations", "doc-2"),
	}
	embeddings := map[string][]float32{
		"word vectors":                {1, 0, 0.01},
		"distributed representations": {1, 0, 0.015},
	}

	got, _, err := newTestResolver(nil).Resolve(context.Background(), "proj-1", raws, embeddings)
	require.NoError(t, err)
	require.Len(t, got, 1)

	want := []float32{1, 0, 0.0125}
	require.Len(t, got[0].Embedding, len(want))
	for i, w := range want {
		assert.InDelta(t, w, got[0].Embedding[i], 1e-6)
	}
}

func TestResolveLateAcronymFolding(t *testing.T) {
	// The bare acronym appears before its defining mention; the learned
	// mapping still folds the early group into the expansion.
	raws := []entity.Raw{
		conceptRaw("LDA", "doc-1"),
		conceptRaw("Latent Dirichlet Allocation (LDA)", "doc-2"),
	}

	got, _, err := newTestResolver(nil).Resolve(context.Background(), "proj-1", raws, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "latent dirichlet allocation", got[0].CanonicalName)
	assert.Contains(t, got[0].Aliases, "LDA")
}

func TestResolveFoldsSeveralLateAcronymsInOnePass(t *testing.T) {
	// Two bare acronyms precede their defining mentions; both fold into
	// their expansions in the same resolution pass.
	raws := []entity.Raw{
		conceptRaw("GAN", "doc-1"),
		conceptRaw("VAE", "doc-1"),
		conceptRaw("Generative Adversarial Network (GAN)", "doc-2"),
		conceptRaw("Variational Auto Encoder (VAE)", "doc-3"),
	}

	got, stats, err := newTestResolver(nil).Resolve(context.Background(), "proj-1", raws, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byName := make(map[string]*entity.Entity, len(got))
	for _, e := range got {
		byName[e.CanonicalName] = e
	}
	gan, ok := byName["generative adversarial network"]
	require.True(t, ok)
	assert.Contains(t, gan.Aliases, "GAN")
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, gan.SourceDocumentIDs)

	vae, ok := byName["variational auto encoder"]
	require.True(t, ok)
	assert.Contains(t, vae.Aliases, "VAE")

	assert.Equal(t, 4, stats.RawCount)
	assert.Equal(t, 2, stats.ResolvedCount)
}

func TestResolveDropsInvalidRaws(t *testing.T) {
	raws := []entity.Raw{
		{Text: "   ", Type: entity.TypeConcept},
		{Text: "valid concept", Type: "Bogus"},
		conceptRaw("kept concept", "doc-1"),
	}

	got, stats, err := newTestResolver(nil).Resolve(context.Background(), "proj-1", raws, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 2, stats.Dropped)
}

// ──────────────────────────────────────────────
// Cross-document identity pass
// ──────────────────────────────────────────────

type mockEntityRepo struct{ mock.Mock }

func (m *mockEntityRepo) UpsertBatch(ctx context.Context, es []*entity.Entity) error {
	return m.Called(ctx, es).Error(0)
}
func (m *mockEntityRepo) GetByProject(ctx context.Context, projectID string, types []entity.Type) ([]*entity.Entity, error) {
	args := m.Called(ctx, projectID, types)
	es, _ := args.Get(0).([]*entity.Entity)
	return es, args.Error(1)
}
func (m *mockEntityRepo) GetByIDs(ctx context.Context, projectID string, ids []string) ([]*entity.Entity, error) {
	args := m.Called(ctx, projectID, ids)
	es, _ := args.Get(0).([]*entity.Entity)
	return es, args.Error(1)
}
func (m *mockEntityRepo) GroupsByName(ctx context.Context, projectID string) (map[entity.GroupKey][]*entity.Entity, error) {
	args := m.Called(ctx, projectID)
	gs, _ := args.Get(0).(map[entity.GroupKey][]*entity.Entity)
	return gs, args.Error(1)
}
func (m *mockEntityRepo) SearchByName(ctx context.Context, projectID, query string, types []entity.Type, limit int) ([]entity.Scored, error) {
	args := m.Called(ctx, projectID, query, types, limit)
	ss, _ := args.Get(0).([]entity.Scored)
	return ss, args.Error(1)
}
func (m *mockEntityRepo) UnderDiscussed(ctx context.Context, projectID string, maxPapers int) ([]entity.Mention, error) {
	args := m.Called(ctx, projectID, maxPapers)
	ms, _ := args.Get(0).([]entity.Mention)
	return ms, args.Error(1)
}
func (m *mockEntityRepo) UpdateClusterAssignments(ctx context.Context, projectID string, assignments map[string]int) error {
	return m.Called(ctx, projectID, assignments).Error(0)
}
func (m *mockEntityRepo) CountByType(ctx context.Context, projectID string) (map[entity.Type]int, error) {
	args := m.Called(ctx, projectID)
	cs, _ := args.Get(0).(map[entity.Type]int)
	return cs, args.Error(1)
}

type mockRelRepo struct{ mock.Mock }

func (m *mockRelRepo) UpsertBatch(ctx context.Context, rels []*relationship.Relationship) error {
	return m.Called(ctx, rels).Error(0)
}
func (m *mockRelRepo) GetByProject(ctx context.Context, projectID string, types []relationship.Type) ([]*relationship.Relationship, error) {
	args := m.Called(ctx, projectID, types)
	rs, _ := args.Get(0).([]*relationship.Relationship)
	return rs, args.Error(1)
}
func (m *mockRelRepo) EnsureSameAs(ctx context.Context, projectID, aID, bID string) (bool, error) {
	args := m.Called(ctx, projectID, aID, bID)
	return args.Bool(0), args.Error(1)
}
func (m *mockRelRepo) Neighbors(ctx context.Context, projectID string, nodeIDs []string, types []relationship.Type) ([]*relationship.Relationship, error) {
	args := m.Called(ctx, projectID, nodeIDs, types)
	rs, _ := args.Get(0).([]*relationship.Relationship)
	return rs, args.Error(1)
}
func (m *mockRelRepo) CountByType(ctx context.Context, projectID string) (map[relationship.Type]int, error) {
	args := m.Called(ctx, projectID)
	cs, _ := args.Get(0).(map[relationship.Type]int)
	return cs, args.Error(1)
}

func TestCrossDocLinkerCreatesSameAsEdges(t *testing.T) {
	entities := new(mockEntityRepo)
	rels := new(mockRelRepo)

	groups := map[entity.GroupKey][]*entity.Entity{
		{Type: entity.TypeConcept, CanonicalName: "graph neural network"}: {
			{ID: "e1", SourceDocumentIDs: []string{"doc-1"}},
			{ID: "e2", SourceDocumentIDs: []string{"doc-2"}},
		},
	}
	entities.On("GroupsByName", mock.Anything, "proj-1").Return(groups, nil)
	rels.On("EnsureSameAs", mock.Anything, "proj-1", "e1", "e2").Return(true, nil)

	linker := NewCrossDocLinker(entities, rels, logging.NewNopLogger())
	created, err := linker.Link(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	rels.AssertExpectations(t)
}

func TestCrossDocLinkerSkipsSharedOrigins(t *testing.T) {
	entities := new(mockEntityRepo)
	rels := new(mockRelRepo)

	groups := map[entity.GroupKey][]*entity.Entity{
		{Type: entity.TypeConcept, CanonicalName: "transfer learning"}: {
			{ID: "e1", SourceDocumentIDs: []string{"doc-1", "doc-2"}},
			{ID: "e2", SourceDocumentIDs: []string{"doc-2"}},
		},
	}
	entities.On("GroupsByName", mock.Anything, "proj-1").Return(groups, nil)

	linker := NewCrossDocLinker(entities, rels, logging.NewNopLogger())
	created, err := linker.Link(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Zero(t, created)
	rels.AssertNotCalled(t, "EnsureSameAs", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCrossDocLinkerIsIdempotent(t *testing.T) {
	entities := new(mockEntityRepo)
	rels := new(mockRelRepo)

	groups := map[entity.GroupKey][]*entity.Entity{
		{Type: entity.TypeConcept, CanonicalName: "attention"}: {
			{ID: "e1", SourceDocumentIDs: []string{"doc-1"}},
			{ID: "e2", SourceDocumentIDs: []string{"doc-2"}},
		},
	}
	entities.On("GroupsByName", mock.Anything, "proj-1").Return(groups, nil)
	// Edge already present: the store reports no creation.
	rels.On("EnsureSameAs", mock.Anything, "proj-1", "e1", "e2").Return(false, nil)

	linker := NewCrossDocLinker(entities, rels, logging.NewNopLogger())
	created, err := linker.Link(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Zero(t, created)
}
