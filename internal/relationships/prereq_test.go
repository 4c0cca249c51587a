package relationships

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/domain/relationship"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/llm"
)

type stubGenerator struct {
	response string
	err      error
	prompts  []string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

func prereqFixture() (map[string]*entity.Entity, []*relationship.Relationship) {
	concepts := map[string]*entity.Entity{
		"c1": {ID: "c1", CanonicalName: "linear algebra", Type: entity.TypeConcept},
		"c2": {ID: "c2", CanonicalName: "deep learning", Type: entity.TypeConcept},
	}
	edges := []*relationship.Relationship{
		relationship.New("proj-1", "c1", "c2", relationship.TypeRelatedTo, 0.9),
	}
	return concepts, edges
}

func TestInferEmitsPrerequisiteEdge(t *testing.T) {
	gen := &stubGenerator{response: `Here you go: [{"pair": 0, "prerequisite": "a"}]`}
	p := NewPrerequisiteInferrer(DefaultPrereqConfig(), gen, logging.NewNopLogger())
	concepts, edges := prereqFixture()

	got := p.Infer(context.Background(), "proj-1", concepts, edges)
	require.Len(t, got, 1)
	assert.Equal(t, relationship.TypePrerequisiteOf, got[0].Type)
	assert.Equal(t, "c1", got[0].SourceID, "foundational concept is the source")
	assert.Equal(t, "c2", got[0].TargetID)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "linear algebra")
	assert.Contains(t, gen.prompts[0], "deep learning")
}

func TestInferReverseDirection(t *testing.T) {
	gen := &stubGenerator{response: `[{"pair": 0, "prerequisite": "b"}]`}
	p := NewPrerequisiteInferrer(DefaultPrereqConfig(), gen, logging.NewNopLogger())
	concepts, edges := prereqFixture()

	got := p.Infer(context.Background(), "proj-1", concepts, edges)
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].SourceID)
	assert.Equal(t, "c1", got[0].TargetID)
}

func TestInferNoneVerdictEmitsNothing(t *testing.T) {
	gen := &stubGenerator{response: `[{"pair": 0, "prerequisite": "none"}]`}
	p := NewPrerequisiteInferrer(DefaultPrereqConfig(), gen, logging.NewNopLogger())
	concepts, edges := prereqFixture()

	assert.Empty(t, p.Infer(context.Background(), "proj-1", concepts, edges))
}

func TestInferSkipsWeakEdges(t *testing.T) {
	gen := &stubGenerator{response: `[]`}
	p := NewPrerequisiteInferrer(DefaultPrereqConfig(), gen, logging.NewNopLogger())
	concepts, _ := prereqFixture()
	weak := []*relationship.Relationship{
		relationship.New("proj-1", "c1", "c2", relationship.TypeRelatedTo, 0.5),
	}

	assert.Empty(t, p.Infer(context.Background(), "proj-1", concepts, weak))
	assert.Empty(t, gen.prompts, "nothing strong enough to ask about")
}

func TestInferWithoutGeneratorIsSilent(t *testing.T) {
	p := NewPrerequisiteInferrer(DefaultPrereqConfig(), llm.NopGenerator{}, logging.NewNopLogger())
	concepts, edges := prereqFixture()

	assert.Empty(t, p.Infer(context.Background(), "proj-1", concepts, edges))
}

func TestInferGeneratorFailureIsBestEffort(t *testing.T) {
	gen := &stubGenerator{err: errors.New("backend down")}
	p := NewPrerequisiteInferrer(DefaultPrereqConfig(), gen, logging.NewNopLogger())
	concepts, edges := prereqFixture()

	assert.Empty(t, p.Infer(context.Background(), "proj-1", concepts, edges))
}

func TestInferUnparseableResponseSkipsBatch(t *testing.T) {
	gen := &stubGenerator{response: "I cannot help with that."}
	p := NewPrerequisiteInferrer(DefaultPrereqConfig(), gen, logging.NewNopLogger())
	concepts, edges := prereqFixture()

	assert.Empty(t, p.Infer(context.Background(), "proj-1", concepts, edges))
}

func TestParsePrereqVerdicts(t *testing.T) {
	got, err := parsePrereqVerdicts(`noise [{"pair":1,"prerequisite":"b"}] trailing`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Pair)
	assert.Equal(t, "b", got[0].Prerequisite)

	_, err = parsePrereqVerdicts("no array here")
	assert.Error(t, err)
}
