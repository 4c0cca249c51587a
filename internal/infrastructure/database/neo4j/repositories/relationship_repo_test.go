package repositories

import (
	"context"
	"testing"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athene-kg/athene/internal/domain/relationship"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
)

func testRel(src, dst string, t relationship.Type, weight float64) *relationship.Relationship {
	r := relationship.New("proj-1", src, dst, t, weight)
	r.ID = src + "-" + dst
	return r
}

func relRecord(id, src, dst, relType string, weight float64) *neo4jdrv.Record {
	return record(
		"id", id,
		"project_id", "proj-1",
		"source_id", src,
		"target_id", dst,
		"relationship_type", relType,
		"weight", weight,
		"properties_json", `{"co_occurrence_count":2}`,
	)
}

func TestRelUpsertBatchGroupsByType(t *testing.T) {
	tx := &fakeTransaction{results: []*fakeResult{
		{summary: fakeSummary{}}, {summary: fakeSummary{}},
	}}
	repo := NewRelationshipRepository(&fakeExecutor{tx: tx}, logging.NewNopLogger())

	rels := []*relationship.Relationship{
		testRel("a", "b", relationship.TypeRelatedTo, 0.8),
		testRel("a", "c", relationship.TypeRelatedTo, 0.9),
		testRel("m", "a", relationship.TypeAppliesTo, 0.4),
	}
	require.NoError(t, repo.UpsertBatch(context.Background(), rels))

	// One statement per relationship type, type interpolated into the cypher.
	assert.Len(t, tx.calls, 2)
	assert.True(t, tx.calledWith("MERGE (a)-[r:RELATED_TO]->(b)"))
	assert.True(t, tx.calledWith("MERGE (a)-[r:APPLIES_TO]->(b)"))
}

func TestRelUpsertBatchRejectsInvalid(t *testing.T) {
	repo := NewRelationshipRepository(&fakeExecutor{tx: &fakeTransaction{}}, logging.NewNopLogger())

	bad := &relationship.Relationship{ProjectID: "proj-1", SourceID: "a", TargetID: "a",
		Type: relationship.TypeRelatedTo, Weight: 0.5}
	require.Error(t, repo.UpsertBatch(context.Background(), []*relationship.Relationship{bad}))
}

func TestRelGetByProject(t *testing.T) {
	tx := &fakeTransaction{results: []*fakeResult{
		{records: []*neo4jdrv.Record{relRecord("r1", "a", "b", "CO_OCCURS_WITH", 0.2)}},
	}}
	repo := NewRelationshipRepository(&fakeExecutor{tx: tx}, logging.NewNopLogger())

	got, err := repo.GetByProject(context.Background(), "proj-1", []relationship.Type{relationship.TypeCoOccursWith})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, relationship.TypeCoOccursWith, got[0].Type)
	assert.Equal(t, 0.2, got[0].Weight)
	assert.Equal(t, float64(2), got[0].Properties["co_occurrence_count"])
}

func TestEnsureSameAsCreated(t *testing.T) {
	summary := fakeSummary{counters: fakeCounters{relationshipsCreated: 1}}
	tx := &fakeTransaction{results: []*fakeResult{
		{records: []*neo4jdrv.Record{record("id", "r1")}, summary: summary},
	}}
	repo := NewRelationshipRepository(&fakeExecutor{tx: tx}, logging.NewNopLogger())

	created, err := repo.EnsureSameAs(context.Background(), "proj-1", "z-entity", "a-entity")
	require.NoError(t, err)
	assert.True(t, created)

	// Endpoints are sorted before the MERGE so (z,a) and (a,z) hit the same
	// edge.
	assert.Equal(t, "a-entity", tx.calls[0].params["a_id"])
	assert.Equal(t, "z-entity", tx.calls[0].params["b_id"])
}

func TestEnsureSameAsExisting(t *testing.T) {
	summary := fakeSummary{counters: fakeCounters{relationshipsCreated: 0}}
	tx := &fakeTransaction{results: []*fakeResult{
		{records: []*neo4jdrv.Record{record("id", "r1")}, summary: summary},
	}}
	repo := NewRelationshipRepository(&fakeExecutor{tx: tx}, logging.NewNopLogger())

	created, err := repo.EnsureSameAs(context.Background(), "proj-1", "a", "b")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnsureSameAsMissingEndpoint(t *testing.T) {
	tx := &fakeTransaction{results: []*fakeResult{{}}}
	repo := NewRelationshipRepository(&fakeExecutor{tx: tx}, logging.NewNopLogger())

	_, err := repo.EnsureSameAs(context.Background(), "proj-1", "a", "ghost")
	require.Error(t, err)
}

func TestNeighborsEmptyInputSkipsStore(t *testing.T) {
	tx := &fakeTransaction{}
	repo := NewRelationshipRepository(&fakeExecutor{tx: tx}, logging.NewNopLogger())

	got, err := repo.Neighbors(context.Background(), "proj-1", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, tx.calls)
}

func TestRelationshipCountByType(t *testing.T) {
	tx := &fakeTransaction{results: []*fakeResult{
		{records: []*neo4jdrv.Record{
			record("relationship_type", "RELATED_TO", "edges", int64(5)),
			record("relationship_type", "SAME_AS", "edges", int64(1)),
		}},
	}}
	repo := NewRelationshipRepository(&fakeExecutor{tx: tx}, logging.NewNopLogger())

	got, err := repo.CountByType(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, map[relationship.Type]int{
		relationship.TypeRelatedTo: 5,
		relationship.TypeSameAs:    1,
	}, got)
}

func TestNeighborsPassesIDsAndTypes(t *testing.T) {
	tx := &fakeTransaction{results: []*fakeResult{
		{records: []*neo4jdrv.Record{relRecord("r1", "a", "b", "RELATED_TO", 0.9)}},
	}}
	repo := NewRelationshipRepository(&fakeExecutor{tx: tx}, logging.NewNopLogger())

	got, err := repo.Neighbors(context.Background(), "proj-1", []string{"a"},
		[]relationship.Type{relationship.TypeRelatedTo})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []interface{}{"a"}, tx.calls[0].params["ids"])
	assert.Equal(t, []interface{}{"RELATED_TO"}, tx.calls[0].params["types"])
}
