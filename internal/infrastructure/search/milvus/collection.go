package milvus

import (
	"context"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/pkg/errors"
)

const (
	fieldEntityID  = "entity_id"
	fieldProjectID = "project_id"
	fieldEmbedding = "embedding"

	defaultCollection = "concepts"
	shardsNum         = 2
)

// CollectionManager owns the concept collection: one row per entity,
// carrying its project and embedding.
type CollectionManager struct {
	client *Client
	logger logging.Logger
}

// NewCollectionManager builds a manager on the shared client.
func NewCollectionManager(client *Client, logger logging.Logger) *CollectionManager {
	return &CollectionManager{client: client, logger: logger}
}

// CollectionName returns the prefixed collection name.
func (m *CollectionManager) CollectionName() string {
	name := defaultCollection
	if p := m.client.cfg.CollectionPrefix; p != "" {
		name = p + "_" + name
	}
	return name
}

// EnsureCollection creates the concept collection, its vector index, and
// loads it, skipping each step that already holds.  Partitioning by project
// happens through the partition-key field rather than explicit partitions.
func (m *CollectionManager) EnsureCollection(ctx context.Context) error {
	dim := m.client.cfg.EmbeddingDim
	if dim <= 0 {
		return errors.New(errors.ErrCodeValidation, "milvus embedding_dim required")
	}
	name := m.CollectionName()

	has, err := m.client.mc.HasCollection(ctx, name)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "checking collection")
	}
	if !has {
		schema := &entity.Schema{
			CollectionName: name,
			Description:    "concept embeddings, one row per resolved entity",
			Fields: []*entity.Field{
				{
					Name:       fieldEntityID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:           fieldProjectID,
					DataType:       entity.FieldTypeVarChar,
					IsPartitionKey: true,
					TypeParams:     map[string]string{"max_length": "64"},
				},
				{
					Name:       fieldEmbedding,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
				},
			},
		}
		if err := m.client.mc.CreateCollection(ctx, schema, shardsNum); err != nil {
			return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "creating concept collection")
		}
		m.logger.Info("concept collection created",
			logging.String("collection", name), logging.Int("dim", dim))
	}

	idx, err := m.buildIndex()
	if err != nil {
		return err
	}
	if err := m.client.mc.CreateIndex(ctx, name, fieldEmbedding, idx, false); err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "creating vector index")
	}
	if err := m.client.mc.LoadCollection(ctx, name, false); err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "loading concept collection")
	}
	return nil
}

// buildIndex maps the configured index type onto an SDK index.  Cosine is
// the only metric the resolution thresholds are calibrated for.
func (m *CollectionManager) buildIndex() (entity.Index, error) {
	hnswM := m.client.cfg.HNSWM
	if hnswM <= 0 {
		hnswM = 16
	}
	efConstruction := m.client.cfg.HNSWEfConstruction
	if efConstruction <= 0 {
		efConstruction = 200
	}

	switch m.client.cfg.IndexType {
	case "", "HNSW":
		idx, err := entity.NewIndexHNSW(entity.COSINE, hnswM, efConstruction)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, "building HNSW index")
		}
		return idx, nil
	case "IVF_FLAT":
		idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, "building IVF_FLAT index")
		}
		return idx, nil
	default:
		return nil, errors.Newf(errors.ErrCodeValidation, "unsupported milvus index type %q", m.client.cfg.IndexType)
	}
}

// DropCollection removes the collection.  Used by integration test teardown.
func (m *CollectionManager) DropCollection(ctx context.Context) error {
	name := m.CollectionName()
	has, err := m.client.mc.HasCollection(ctx, name)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "checking collection")
	}
	if !has {
		return nil
	}
	if err := m.client.mc.DropCollection(ctx, name); err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "dropping concept collection")
	}
	m.logger.Warn("concept collection dropped", logging.String("collection", name))
	return nil
}
