package milvus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
)

func TestCollectionName_Prefix(t *testing.T) {
	mock := &mockSDK{}
	m := NewCollectionManager(newTestMilvusClient(mock), logging.NewNopLogger())
	assert.Equal(t, "athene_concepts", m.CollectionName())

	cfg := testMilvusConfig()
	cfg.CollectionPrefix = ""
	bare := NewCollectionManager(NewClientWithSDK(mock, cfg, logging.NewNopLogger()), logging.NewNopLogger())
	assert.Equal(t, "concepts", bare.CollectionName())
}

func TestEnsureCollection_CreatesSchemaIndexAndLoad(t *testing.T) {
	mock := &mockSDK{}
	m := NewCollectionManager(newTestMilvusClient(mock), logging.NewNopLogger())

	require.NoError(t, m.EnsureCollection(context.Background()))

	require.Len(t, mock.createdSchemas, 1)
	schema := mock.createdSchemas[0]
	assert.Equal(t, "athene_concepts", schema.CollectionName)
	require.Len(t, schema.Fields, 3)
	assert.Equal(t, fieldEntityID, schema.Fields[0].Name)
	assert.True(t, schema.Fields[0].PrimaryKey)
	assert.True(t, schema.Fields[1].IsPartitionKey)
	assert.Equal(t, "4", schema.Fields[2].TypeParams["dim"])

	assert.Equal(t, []string{fieldEmbedding}, mock.indexedFields)
	assert.Equal(t, []string{"athene_concepts"}, mock.loaded)
}

func TestEnsureCollection_SkipsCreateWhenPresent(t *testing.T) {
	mock := &mockSDK{
		hasFunc: func(ctx context.Context, name string) (bool, error) { return true, nil },
	}
	m := NewCollectionManager(newTestMilvusClient(mock), logging.NewNopLogger())

	require.NoError(t, m.EnsureCollection(context.Background()))
	assert.Empty(t, mock.createdSchemas)
	// Index and load are still ensured.
	assert.Equal(t, []string{fieldEmbedding}, mock.indexedFields)
	assert.Equal(t, []string{"athene_concepts"}, mock.loaded)
}

func TestEnsureCollection_RequiresDim(t *testing.T) {
	cfg := testMilvusConfig()
	cfg.EmbeddingDim = 0
	m := NewCollectionManager(NewClientWithSDK(&mockSDK{}, cfg, logging.NewNopLogger()), logging.NewNopLogger())
	assert.Error(t, m.EnsureCollection(context.Background()))
}

func TestEnsureCollection_UnsupportedIndexType(t *testing.T) {
	cfg := testMilvusConfig()
	cfg.IndexType = "ANNOY"
	m := NewCollectionManager(NewClientWithSDK(&mockSDK{}, cfg, logging.NewNopLogger()), logging.NewNopLogger())
	assert.Error(t, m.EnsureCollection(context.Background()))
}

func TestDropCollection(t *testing.T) {
	mock := &mockSDK{
		hasFunc: func(ctx context.Context, name string) (bool, error) { return true, nil },
	}
	m := NewCollectionManager(newTestMilvusClient(mock), logging.NewNopLogger())

	require.NoError(t, m.DropCollection(context.Background()))
	assert.Equal(t, []string{"athene_concepts"}, mock.dropped)
}

func TestDropCollection_Absent(t *testing.T) {
	mock := &mockSDK{}
	m := NewCollectionManager(newTestMilvusClient(mock), logging.NewNopLogger())

	require.NoError(t, m.DropCollection(context.Background()))
	assert.Empty(t, mock.dropped)
}
