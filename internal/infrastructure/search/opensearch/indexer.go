package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/pkg/errors"
)

const (
	defaultIndexSuffix = "_entities"
	defaultBulkBatch   = 500
	refreshWaitFor     = "wait_for"
)

// entityMapping keeps names searchable both exactly and fuzzily: text
// fields carry a keyword sub-field for term-level matching.
const entityMapping = `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 1,
    "analysis": {
      "normalizer": {
        "lowercase_normalizer": {"type": "custom", "filter": ["lowercase"]}
      }
    }
  },
  "mappings": {
    "properties": {
      "entity_id":      {"type": "keyword"},
      "project_id":     {"type": "keyword"},
      "entity_type":    {"type": "keyword"},
      "canonical_name": {
        "type": "text",
        "fields": {"raw": {"type": "keyword", "normalizer": "lowercase_normalizer"}}
      },
      "aliases":        {"type": "text"},
      "context_bucket": {"type": "keyword"},
      "confidence":     {"type": "float"}
    }
  }
}`

// EntityDoc is the indexed projection of a resolved entity.
type EntityDoc struct {
	EntityID      string   `json:"entity_id"`
	ProjectID     string   `json:"project_id"`
	EntityType    string   `json:"entity_type"`
	CanonicalName string   `json:"canonical_name"`
	Aliases       []string `json:"aliases,omitempty"`
	ContextBucket string   `json:"context_bucket,omitempty"`
	Confidence    float64  `json:"confidence"`
}

// BulkItemError describes a single failed document in a bulk request.
type BulkItemError struct {
	DocID     string
	ErrorType string
	Reason    string
}

// BulkResult summarizes a bulk indexing call.
type BulkResult struct {
	Succeeded int
	Failed    int
	Errors    []BulkItemError
}

// Indexer maintains the entity name index.
type Indexer struct {
	client *Client
	logger logging.Logger
}

// NewIndexer builds an Indexer over an established client.
func NewIndexer(client *Client, logger logging.Logger) *Indexer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Indexer{client: client, logger: logger}
}

// IndexName derives the index name from the configured prefix.
func (i *Indexer) IndexName() string {
	prefix := i.client.Config().IndexPrefix
	if prefix == "" {
		prefix = "athene"
	}
	return prefix + defaultIndexSuffix
}

// EnsureIndex creates the entity index if it does not exist.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	name := i.IndexName()

	existsReq := opensearchapi.IndicesExistsRequest{Index: []string{name}}
	resp, err := existsReq.Do(ctx, i.client.SDK())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "opensearch: checking index")
	}
	resp.Body.Close()
	if resp.StatusCode == 200 {
		return nil
	}

	createReq := opensearchapi.IndicesCreateRequest{
		Index: name,
		Body:  strings.NewReader(entityMapping),
	}
	resp, err = createReq.Do(ctx, i.client.SDK())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "opensearch: creating index")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return errors.Newf(errors.ErrCodeInternal, "opensearch: create index %s returned status %d", name, resp.StatusCode)
	}

	i.logger.Info("created entity index", logging.String("index", name))
	return nil
}

// DeleteIndex drops the entity index.  A missing index is not an error.
func (i *Indexer) DeleteIndex(ctx context.Context) error {
	req := opensearchapi.IndicesDeleteRequest{Index: []string{i.IndexName()}}
	resp, err := req.Do(ctx, i.client.SDK())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "opensearch: deleting index")
	}
	defer resp.Body.Close()
	if resp.IsError() && resp.StatusCode != 404 {
		return errors.Newf(errors.ErrCodeInternal, "opensearch: delete index returned status %d", resp.StatusCode)
	}
	return nil
}

// IndexEntities bulk-indexes resolved entities, batched by the configured
// bulk size.  Documents are keyed by entity ID, so re-indexing after a
// merge overwrites the prior document in place.
func (i *Indexer) IndexEntities(ctx context.Context, entities []*entity.Entity) (BulkResult, error) {
	var result BulkResult
	if len(entities) == 0 {
		return result, nil
	}

	batchSize := i.client.Config().BulkBatchSize
	if batchSize <= 0 {
		batchSize = defaultBulkBatch
	}
	indexName := i.IndexName()

	for start := 0; start < len(entities); start += batchSize {
		end := start + batchSize
		if end > len(entities) {
			end = len(entities)
		}
		if err := i.indexBatch(ctx, indexName, entities[start:end], &result); err != nil {
			return result, err
		}
	}

	i.logger.Debug("bulk indexed entities",
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed))
	return result, nil
}

func (i *Indexer) indexBatch(ctx context.Context, indexName string, batch []*entity.Entity, result *BulkResult) error {
	var buf bytes.Buffer
	for _, e := range batch {
		doc := EntityDoc{
			EntityID:      e.ID,
			ProjectID:     e.ProjectID,
			EntityType:    string(e.Type),
			CanonicalName: e.CanonicalName,
			Aliases:       e.Aliases,
			ContextBucket: e.ContextBucket,
			Confidence:    e.Confidence,
		}
		docBytes, err := json.Marshal(doc)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkItemError{
				DocID:     e.ID,
				ErrorType: "serialization_error",
				Reason:    err.Error(),
			})
			continue
		}
		fmt.Fprintf(&buf, `{"index":{"_index":%q,"_id":%q}}`+"\n", indexName, e.ID)
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}
	if buf.Len() == 0 {
		return nil
	}

	req := opensearchapi.BulkRequest{
		Body:    bytes.NewReader(buf.Bytes()),
		Refresh: refreshWaitFor,
	}
	resp, err := req.Do(ctx, i.client.SDK())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "opensearch: bulk request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		result.Failed += len(batch)
		result.Errors = append(result.Errors, BulkItemError{
			DocID:     "batch",
			ErrorType: "http_error",
			Reason:    fmt.Sprintf("bulk returned status %d", resp.StatusCode),
		})
		return nil
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error,omitempty"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulkResp); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "opensearch: decoding bulk response")
	}

	if !bulkResp.Errors {
		result.Succeeded += len(bulkResp.Items)
		return nil
	}
	for _, item := range bulkResp.Items {
		for _, info := range item {
			if info.Status >= 200 && info.Status < 300 {
				result.Succeeded++
			} else {
				result.Failed++
				result.Errors = append(result.Errors, BulkItemError{
					DocID:     info.ID,
					ErrorType: info.Error.Type,
					Reason:    info.Error.Reason,
				})
			}
			break
		}
	}
	return nil
}

// DeleteByProject removes all documents for a project.  Used when a
// project is re-resolved from scratch.
func (i *Indexer) DeleteByProject(ctx context.Context, projectID string) error {
	if projectID == "" {
		return errors.New(errors.ErrCodeValidation, "opensearch: project id is required")
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"project_id": projectID},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "opensearch: encoding delete query")
	}

	req := opensearchapi.DeleteByQueryRequest{
		Index: []string{i.IndexName()},
		Body:  bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, i.client.SDK())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreUnavailable, "opensearch: delete by query failed")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return errors.Newf(errors.ErrCodeInternal, "opensearch: delete by query returned status %d", resp.StatusCode)
	}
	return nil
}
