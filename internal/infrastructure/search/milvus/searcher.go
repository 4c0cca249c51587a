package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/pkg/errors"
)

const (
	upsertBatchSize = 1000
	searchEf        = 64
)

// ConceptVector is one entity's embedding for indexing.
type ConceptVector struct {
	EntityID  string
	ProjectID string
	Embedding []float32
}

// Hit is one similarity match.
type Hit struct {
	EntityID string
	Score    float32
}

// Searcher reads and writes the concept index.
type Searcher struct {
	client     *Client
	collection *CollectionManager
	logger     logging.Logger
}

// NewSearcher builds a searcher on the shared client.
func NewSearcher(c *Client, collection *CollectionManager, logger logging.Logger) *Searcher {
	return &Searcher{client: c, collection: collection, logger: logger}
}

// UpsertEmbeddings writes the vectors in batches, replacing prior rows with
// the same entity id.  Vectors without an embedding are skipped: resolution
// produces those when the embedding backend is disabled, and they carry no
// signal for the index.
func (s *Searcher) UpsertEmbeddings(ctx context.Context, vectors []ConceptVector) (int, error) {
	dim := s.client.cfg.EmbeddingDim
	rows := make([]ConceptVector, 0, len(vectors))
	for _, v := range vectors {
		if len(v.Embedding) == 0 {
			continue
		}
		if len(v.Embedding) != dim {
			return 0, errors.Newf(errors.ErrCodeValidation,
				"embedding for %s has dim %d, index expects %d", v.EntityID, len(v.Embedding), dim)
		}
		rows = append(rows, v)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	name := s.collection.CollectionName()
	for start := 0; start < len(rows); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		ids := make([]string, len(batch))
		projects := make([]string, len(batch))
		embeddings := make([][]float32, len(batch))
		for i, v := range batch {
			ids[i] = v.EntityID
			projects[i] = v.ProjectID
			embeddings[i] = v.Embedding
		}

		_, err := s.client.mc.Upsert(ctx, name, "",
			entity.NewColumnVarChar(fieldEntityID, ids),
			entity.NewColumnVarChar(fieldProjectID, projects),
			entity.NewColumnFloatVector(fieldEmbedding, dim, embeddings),
		)
		if err != nil {
			return start, errors.Wrap(err, errors.ErrCodeStoreUnavailable, "upserting concept embeddings")
		}
	}

	s.logger.Debug("concept embeddings upserted", logging.Int("count", len(rows)))
	return len(rows), nil
}

// SimilarConcepts returns the topK nearest entities to the query vector
// within one project, best first.  Scores are cosine similarities.
func (s *Searcher) SimilarConcepts(ctx context.Context, projectID string, vector []float32, topK int) ([]Hit, error) {
	if len(vector) != s.client.cfg.EmbeddingDim {
		return nil, errors.Newf(errors.ErrCodeValidation,
			"query vector has dim %d, index expects %d", len(vector), s.client.cfg.EmbeddingDim)
	}
	if topK <= 0 {
		topK = s.client.cfg.DefaultTopK
	}
	if topK <= 0 {
		topK = 10
	}

	sp, err := entity.NewIndexHNSWSearchParam(searchEf)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "building search params")
	}

	expr := fmt.Sprintf("%s == %q", fieldProjectID, projectID)
	results, err := s.client.mc.Search(ctx, s.collection.CollectionName(), nil, expr,
		[]string{fieldEntityID},
		[]entity.Vector{entity.FloatVector(vector)},
		fieldEmbedding, entity.COSINE, topK, sp,
		client.WithSearchQueryConsistencyLevel(entity.ClBounded),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSearchFailed, "searching concept index")
	}

	var hits []Hit
	for _, result := range results {
		idCol, ok := result.IDs.(*entity.ColumnVarChar)
		if !ok {
			return nil, errors.New(errors.ErrCodeSearchFailed, "unexpected id column type in search result")
		}
		for i, id := range idCol.Data() {
			if i >= len(result.Scores) {
				break
			}
			hits = append(hits, Hit{EntityID: id, Score: result.Scores[i]})
		}
	}
	return hits, nil
}

// DeleteByProject removes every row of one project, used when a project's
// graph is rebuilt from scratch.
func (s *Searcher) DeleteByProject(ctx context.Context, projectID string) error {
	expr := fmt.Sprintf("%s == %q", fieldProjectID, projectID)
	if err := s.client.mc.Delete(ctx, s.collection.CollectionName(), "", expr); err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "deleting project embeddings")
	}
	s.logger.Info("project embeddings deleted", logging.String("project_id", projectID))
	return nil
}
