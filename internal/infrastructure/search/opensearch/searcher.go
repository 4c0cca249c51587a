package opensearch

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/pkg/errors"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 200

	// canonicalNameBoost ranks canonical-name matches above alias matches.
	canonicalNameBoost = "canonical_name^2"
)

// NameHit is a scored match from the entity name index.
type NameHit struct {
	EntityID      string  `json:"entity_id"`
	CanonicalName string  `json:"canonical_name"`
	EntityType    string  `json:"entity_type"`
	Score         float64 `json:"score"`
}

// Searcher answers fuzzy name lookups against the entity index.
type Searcher struct {
	client  *Client
	indexer *Indexer
	logger  logging.Logger
}

// NewSearcher builds a Searcher over an established client.
func NewSearcher(client *Client, logger logging.Logger) *Searcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Searcher{
		client:  client,
		indexer: NewIndexer(client, logger),
		logger:  logger,
	}
}

// SearchByName finds entities whose canonical name or aliases match the
// given text, fuzzily, within a single project.  Results come back in
// descending relevance order.
func (s *Searcher) SearchByName(ctx context.Context, projectID, name string, limit int) ([]NameHit, error) {
	if projectID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "opensearch: project id is required")
	}
	if name == "" {
		return nil, errors.New(errors.ErrCodeValidation, "opensearch: search text is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{
						"term": map[string]interface{}{"project_id": projectID},
					},
				},
				"must": map[string]interface{}{
					"multi_match": map[string]interface{}{
						"query":     name,
						"fields":    []string{canonicalNameBoost, "aliases"},
						"fuzziness": "AUTO",
					},
				},
			},
		},
		"_source": []string{"entity_id", "canonical_name", "entity_type"},
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "opensearch: encoding search query")
	}

	req := opensearchapi.SearchRequest{
		Index: []string{s.indexer.IndexName()},
		Body:  bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, s.client.SDK())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSearchFailed, "opensearch: search request failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, errors.Newf(errors.ErrCodeSearchFailed, "opensearch: search returned status %d", resp.StatusCode)
	}

	var searchResp struct {
		Hits struct {
			Hits []struct {
				Score  float64         `json:"_score"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "opensearch: decoding search response")
	}

	hits := make([]NameHit, 0, len(searchResp.Hits.Hits))
	for _, h := range searchResp.Hits.Hits {
		var hit NameHit
		if err := json.Unmarshal(h.Source, &hit); err != nil {
			s.logger.Warn("skipping malformed search hit", logging.Err(err))
			continue
		}
		hit.Score = h.Score
		hits = append(hits, hit)
	}

	s.logger.Debug("name search completed",
		logging.String("project_id", projectID),
		logging.Int("hits", len(hits)))
	return hits, nil
}
