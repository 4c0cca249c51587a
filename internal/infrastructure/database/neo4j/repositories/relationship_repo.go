package repositories

import (
	"context"
	"fmt"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/athene-kg/athene/internal/domain/relationship"
	driver "github.com/athene-kg/athene/internal/infrastructure/database/neo4j"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/pkg/errors"
)

type relationshipRepo struct {
	exec driver.Executor
	log  logging.Logger
}

// NewRelationshipRepository returns the neo4j implementation of
// relationship.Repository.
func NewRelationshipRepository(exec driver.Executor, log logging.Logger) relationship.Repository {
	return &relationshipRepo{exec: exec, log: log}
}

// upsertRelCypherTemplate merges one edge per UNWIND row.  Cypher cannot
// parameterize relationship types, so the type is interpolated after
// Type.Valid() whitelisting; rows are grouped by type before batching.
const upsertRelCypherTemplate = `
UNWIND $rows AS row
MATCH (a:Entity {project_id: $project_id, id: row.source_id})
MATCH (b:Entity {project_id: $project_id, id: row.target_id})
MERGE (a)-[r:%s]->(b)
ON CREATE SET r.id = row.id
SET r.weight = row.weight, r.properties_json = row.properties_json
RETURN count(r) AS written`

func (r *relationshipRepo) UpsertBatch(ctx context.Context, rels []*relationship.Relationship) error {
	if len(rels) == 0 {
		return nil
	}

	byType := make(map[relationship.Type]map[string][]map[string]interface{})
	for _, rel := range rels {
		if err := rel.Validate(); err != nil {
			return err
		}
		propsJSON, err := marshalProps(rel.Properties)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "marshaling relationship properties")
		}
		byProject := byType[rel.Type]
		if byProject == nil {
			byProject = make(map[string][]map[string]interface{})
			byType[rel.Type] = byProject
		}
		byProject[rel.ProjectID] = append(byProject[rel.ProjectID], map[string]interface{}{
			"id":              rel.ID,
			"source_id":       rel.SourceID,
			"target_id":       rel.TargetID,
			"weight":          rel.Weight,
			"properties_json": propsJSON,
		})
	}

	for relType, byProject := range byType {
		cypher := fmt.Sprintf(upsertRelCypherTemplate, relType)
		for projectID, rows := range byProject {
			for start := 0; start < len(rows); start += upsertBatchSize {
				end := start + upsertBatchSize
				if end > len(rows) {
					end = len(rows)
				}
				batch := rows[start:end]
				_, err := r.exec.ExecuteWrite(ctx, func(tx driver.Transaction) (interface{}, error) {
					res, err := tx.Run(ctx, cypher, map[string]any{
						"project_id": projectID,
						"rows":       batch,
					})
					if err != nil {
						return nil, err
					}
					return res.Consume(ctx)
				})
				if err != nil {
					return errors.Wrap(err, errors.ErrCodeRelationshipBatchWrite,
						fmt.Sprintf("upserting %s batch", relType))
				}
			}
		}
	}

	r.log.Debug("upserted relationships", logging.Int("count", len(rels)))
	return nil
}

const relationshipReturnClause = `
RETURN r.id AS id, a.project_id AS project_id, a.id AS source_id, b.id AS target_id,
	type(r) AS relationship_type, r.weight AS weight, r.properties_json AS properties_json`

func (r *relationshipRepo) GetByProject(ctx context.Context, projectID string, types []relationship.Type) ([]*relationship.Relationship, error) {
	cypher := `
MATCH (a:Entity {project_id: $project_id})-[r]->(b:Entity)
WHERE size($types) = 0 OR type(r) IN $types` + relationshipReturnClause + `
ORDER BY source_id, relationship_type, target_id`

	res, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"project_id": projectID,
			"types":      relTypeStrings(types),
		})
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, result, recordToRelationship)
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeGraphReadFailed, "listing project relationships")
	}
	return res.([]*relationship.Relationship), nil
}

const ensureSameAsCypher = `
MATCH (a:Entity {project_id: $project_id, id: $a_id})
MATCH (b:Entity {project_id: $project_id, id: $b_id})
MERGE (a)-[r:SAME_AS]->(b)
ON CREATE SET r.id = randomUUID(), r.weight = 1.0
RETURN r.id AS id`

func (r *relationshipRepo) EnsureSameAs(ctx context.Context, projectID, aID, bID string) (bool, error) {
	// Bidirectional edges are stored with sorted endpoint order.
	if aID > bID {
		aID, bID = bID, aID
	}

	res, err := r.exec.ExecuteWrite(ctx, func(tx driver.Transaction) (interface{}, error) {
		result, err := tx.Run(ctx, ensureSameAsCypher, map[string]any{
			"project_id": projectID,
			"a_id":       aID,
			"b_id":       bID,
		})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return nil, err
			}
			return nil, errors.Newf(errors.ErrCodeEntityNotFound,
				"same-as endpoints %s/%s not found", aID, bID)
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Counters().RelationshipsCreated() > 0, nil
	})
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeGraphWriteFailed, "ensuring same-as edge")
	}
	return res.(bool), nil
}

func (r *relationshipRepo) Neighbors(ctx context.Context, projectID string, nodeIDs []string, types []relationship.Type) ([]*relationship.Relationship, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	cypher := `
MATCH (a:Entity {project_id: $project_id})-[r]->(b:Entity)
WHERE (a.id IN $ids OR b.id IN $ids)
	AND (size($types) = 0 OR type(r) IN $types)` + relationshipReturnClause

	res, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"project_id": projectID,
			"ids":        toAnySlice(nodeIDs),
			"types":      relTypeStrings(types),
		})
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, result, recordToRelationship)
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeGraphReadFailed, "expanding neighbors")
	}
	return res.([]*relationship.Relationship), nil
}

func (r *relationshipRepo) CountByType(ctx context.Context, projectID string) (map[relationship.Type]int, error) {
	cypher := `
MATCH (:Entity {project_id: $project_id})-[rel]->(:Entity)
RETURN type(rel) AS relationship_type, count(rel) AS edges`

	res, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"project_id": projectID})
		if err != nil {
			return nil, err
		}
		counts := make(map[relationship.Type]int)
		for result.Next(ctx) {
			rec := result.Record()
			t, _ := rec.Get("relationship_type")
			n, _ := rec.Get("edges")
			counts[relationship.Type(asString(t))] = int(asInt64(n))
		}
		return counts, result.Err()
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeGraphReadFailed, "counting edges by type")
	}
	return res.(map[relationship.Type]int), nil
}

func recordToRelationship(rec *neo4jdrv.Record) (*relationship.Relationship, error) {
	get := func(key string) interface{} {
		v, _ := rec.Get(key)
		return v
	}
	props, err := unmarshalProps(asString(get("properties_json")))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "unmarshaling relationship properties")
	}
	return &relationship.Relationship{
		ID:         asString(get("id")),
		ProjectID:  asString(get("project_id")),
		SourceID:   asString(get("source_id")),
		TargetID:   asString(get("target_id")),
		Type:       relationship.Type(asString(get("relationship_type"))),
		Weight:     asFloat(get("weight")),
		Properties: props,
	}, nil
}

func relTypeStrings(types []relationship.Type) []interface{} {
	out := make([]interface{}, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
