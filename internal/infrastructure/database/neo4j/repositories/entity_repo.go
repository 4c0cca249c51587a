// Package repositories contains the neo4j-backed implementations of the
// domain repository contracts.  All cypher lives here; the domain packages
// know nothing about the graph store.
package repositories

import (
	"context"
	"strings"
	"time"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/athene-kg/athene/internal/domain/entity"
	driver "github.com/athene-kg/athene/internal/infrastructure/database/neo4j"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/pkg/errors"
)

// upsertBatchSize bounds the number of rows per UNWIND so a large resolution
// run does not produce one oversized transaction.
const upsertBatchSize = 500

type entityRepo struct {
	exec driver.Executor
	log  logging.Logger
}

// NewEntityRepository returns the neo4j implementation of entity.Repository.
func NewEntityRepository(exec driver.Executor, log logging.Logger) entity.Repository {
	return &entityRepo{exec: exec, log: log}
}

const upsertEntityCypher = `
UNWIND $rows AS row
MERGE (e:Entity {
	project_id: row.project_id,
	entity_type: row.entity_type,
	context_bucket: row.context_bucket,
	canonical_name: row.canonical_name
})
ON CREATE SET
	e.id = row.id,
	e.created_at = row.now
SET
	e.confidence = row.confidence,
	e.aliases = row.aliases,
	e.alias_text = row.alias_text,
	e.source_document_ids = row.source_document_ids,
	e.embedding = row.embedding,
	e.properties_json = row.properties_json,
	e.updated_at = row.now
RETURN count(e) AS written`

func (r *entityRepo) UpsertBatch(ctx context.Context, entities []*entity.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	for start := 0; start < len(entities); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(entities) {
			end = len(entities)
		}
		rows := make([]map[string]interface{}, 0, end-start)
		for _, e := range entities[start:end] {
			row, err := entityRow(e, now)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}

		_, err := r.exec.ExecuteWrite(ctx, func(tx driver.Transaction) (interface{}, error) {
			res, err := tx.Run(ctx, upsertEntityCypher, map[string]any{"rows": rows})
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeGraphWriteFailed, "upserting entity batch")
		}
	}

	r.log.Debug("upserted entities", logging.Int("count", len(entities)))
	return nil
}

const entityReturnClause = `
RETURN e.id AS id, e.project_id AS project_id, e.entity_type AS entity_type,
	e.canonical_name AS canonical_name, e.context_bucket AS context_bucket,
	e.confidence AS confidence, e.aliases AS aliases,
	e.source_document_ids AS source_document_ids, e.embedding AS embedding,
	e.cluster_id AS cluster_id, e.properties_json AS properties_json,
	e.created_at AS created_at, e.updated_at AS updated_at`

func (r *entityRepo) GetByProject(ctx context.Context, projectID string, types []entity.Type) ([]*entity.Entity, error) {
	cypher := `
MATCH (e:Entity {project_id: $project_id})
WHERE size($types) = 0 OR e.entity_type IN $types` + entityReturnClause + `
ORDER BY e.entity_type, e.canonical_name`

	res, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"project_id": projectID,
			"types":      typeStrings(types),
		})
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, result, recordToEntity)
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeGraphReadFailed, "listing project entities")
	}
	return res.([]*entity.Entity), nil
}

func (r *entityRepo) GetByIDs(ctx context.Context, projectID string, ids []string) ([]*entity.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cypher := `
MATCH (e:Entity {project_id: $project_id})
WHERE e.id IN $ids` + entityReturnClause

	res, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"project_id": projectID,
			"ids":        ids,
		})
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, result, recordToEntity)
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeGraphReadFailed, "fetching entities by id")
	}
	return res.([]*entity.Entity), nil
}

func (r *entityRepo) GroupsByName(ctx context.Context, projectID string) (map[entity.GroupKey][]*entity.Entity, error) {
	cypher := `
MATCH (e:Entity {project_id: $project_id})
WITH e.entity_type AS entity_type, e.canonical_name AS canonical_name, collect(e) AS members
WHERE size(members) >= 2
UNWIND members AS e` + entityReturnClause

	res, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"project_id": projectID})
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, result, recordToEntity)
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeGraphReadFailed, "grouping entities by name")
	}

	groups := make(map[entity.GroupKey][]*entity.Entity)
	for _, e := range res.([]*entity.Entity) {
		key := entity.GroupKey{Type: e.Type, CanonicalName: e.CanonicalName}
		groups[key] = append(groups[key], e)
	}
	return groups, nil
}

func (r *entityRepo) SearchByName(ctx context.Context, projectID, query string, types []entity.Type, limit int) ([]entity.Scored, error) {
	cypher := `
CALL db.index.fulltext.queryNodes('entity_names', $query) YIELD node AS e, score
WHERE e.project_id = $project_id AND (size($types) = 0 OR e.entity_type IN $types)
WITH e, score ORDER BY score DESC LIMIT $limit` + entityReturnClause + `, score`

	res, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"project_id": projectID,
			"query":      fulltextQuery(query),
			"types":      typeStrings(types),
			"limit":      limit,
		})
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, result, func(rec *neo4jdrv.Record) (entity.Scored, error) {
			e, err := recordToEntity(rec)
			if err != nil {
				return entity.Scored{}, err
			}
			score, _ := rec.Get("score")
			return entity.Scored{Entity: e, Score: normalizeScore(asFloat(score))}, nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTextIndexFailed, "searching entities by name")
	}
	return res.([]entity.Scored), nil
}

func (r *entityRepo) UnderDiscussed(ctx context.Context, projectID string, maxPapers int) ([]entity.Mention, error) {
	cypher := `
MATCH (e:Entity {project_id: $project_id, entity_type: 'Concept'})
WITH e, size(coalesce(e.source_document_ids, [])) AS papers
WHERE papers <= $max_papers
RETURN e.id AS id, e.canonical_name AS name, papers
ORDER BY papers ASC, name ASC`

	res, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"project_id": projectID,
			"max_papers": maxPapers,
		})
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, result, func(rec *neo4jdrv.Record) (entity.Mention, error) {
			id, _ := rec.Get("id")
			name, _ := rec.Get("name")
			papers, _ := rec.Get("papers")
			return entity.Mention{
				ID:         asString(id),
				Name:       asString(name),
				PaperCount: int(asInt64(papers)),
			}, nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeGraphReadFailed, "listing under-discussed concepts")
	}
	return res.([]entity.Mention), nil
}

func (r *entityRepo) UpdateClusterAssignments(ctx context.Context, projectID string, assignments map[string]int) error {
	rows := make([]map[string]interface{}, 0, len(assignments))
	for id, cluster := range assignments {
		rows = append(rows, map[string]interface{}{"id": id, "cluster_id": cluster})
	}

	// A run replaces prior clustering: clear first, then set.
	cypher := `
MATCH (e:Entity {project_id: $project_id, entity_type: 'Concept'})
REMOVE e.cluster_id
WITH count(e) AS cleared
UNWIND $rows AS row
MATCH (t:Entity {project_id: $project_id, id: row.id})
SET t.cluster_id = row.cluster_id
RETURN count(t) AS assigned`

	_, err := r.exec.ExecuteWrite(ctx, func(tx driver.Transaction) (interface{}, error) {
		res, err := tx.Run(ctx, cypher, map[string]any{
			"project_id": projectID,
			"rows":       rows,
		})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeGraphWriteFailed, "updating cluster assignments")
	}
	return nil
}

func (r *entityRepo) CountByType(ctx context.Context, projectID string) (map[entity.Type]int, error) {
	cypher := `
MATCH (e:Entity {project_id: $project_id})
RETURN e.entity_type AS entity_type, count(e) AS nodes`

	res, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"project_id": projectID})
		if err != nil {
			return nil, err
		}
		counts := make(map[entity.Type]int)
		for result.Next(ctx) {
			rec := result.Record()
			t, _ := rec.Get("entity_type")
			n, _ := rec.Get("nodes")
			counts[entity.Type(asString(t))] = int(asInt64(n))
		}
		return counts, result.Err()
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeGraphReadFailed, "counting nodes by type")
	}
	return res.(map[entity.Type]int), nil
}

// entityRow converts an entity into the parameter map the UNWIND upsert
// consumes.
func entityRow(e *entity.Entity, now time.Time) (map[string]interface{}, error) {
	propsJSON, err := marshalProps(e.Properties)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "marshaling entity properties")
	}
	return map[string]interface{}{
		"id":                  e.ID,
		"project_id":          e.ProjectID,
		"entity_type":         string(e.Type),
		"canonical_name":      e.CanonicalName,
		"context_bucket":      e.ContextBucket,
		"confidence":          e.Confidence,
		"aliases":             toAnySlice(e.Aliases),
		"alias_text":          strings.Join(e.Aliases, " "),
		"source_document_ids": toAnySlice(e.SourceDocumentIDs),
		"embedding":           embeddingToFloat64(e.Embedding),
		"properties_json":     propsJSON,
		"now":                 now,
	}, nil
}

func recordToEntity(rec *neo4jdrv.Record) (*entity.Entity, error) {
	get := func(key string) interface{} {
		v, _ := rec.Get(key)
		return v
	}

	props, err := unmarshalProps(asString(get("properties_json")))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "unmarshaling entity properties")
	}

	e := &entity.Entity{
		ID:                asString(get("id")),
		ProjectID:         asString(get("project_id")),
		Type:              entity.Type(asString(get("entity_type"))),
		CanonicalName:     asString(get("canonical_name")),
		ContextBucket:     asString(get("context_bucket")),
		Confidence:        asFloat(get("confidence")),
		Aliases:           asStringSlice(get("aliases")),
		SourceDocumentIDs: asStringSlice(get("source_document_ids")),
		Embedding:         asFloat32Slice(get("embedding")),
		Properties:        props,
		CreatedAt:         asTime(get("created_at")),
		UpdatedAt:         asTime(get("updated_at")),
	}
	if cluster, ok := get("cluster_id").(int64); ok {
		c := int(cluster)
		e.ClusterID = &c
	}
	return e, nil
}

func typeStrings(types []entity.Type) []interface{} {
	out := make([]interface{}, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}

// fulltextQuery escapes lucene special characters and marks every term fuzzy
// so near-miss spellings still match.
func fulltextQuery(q string) string {
	var sb strings.Builder
	for _, field := range strings.Fields(q) {
		cleaned := luceneEscaper.Replace(field)
		if cleaned == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(cleaned)
		sb.WriteString("~1")
	}
	return sb.String()
}

var luceneEscaper = strings.NewReplacer(
	"+", "", "-", "", "&", "", "|", "", "!", "", "(", "", ")", "",
	"{", "", "}", "", "[", "", "]", "", "^", "", "\"", "", "~", "",
	"*", "", "?", "", ":", "", "\\", "", "/", "",
)

// normalizeScore squashes lucene's unbounded relevance score into [0,1].
func normalizeScore(score float64) float64 {
	if score <= 0 {
		return 0
	}
	return score / (score + 1)
}
