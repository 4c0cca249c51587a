package graphquery

import (
	"context"
	"strings"

	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
)

const defaultSearchLimit = 20

// SearchResult carries ranked entity matches.
type SearchResult struct {
	Status  Status          `json:"status"`
	Reason  string          `json:"reason,omitempty"`
	Matches []entity.Scored `json:"matches"`
}

// GapCandidatesResult carries the under-discussed-concept heuristic's
// output.
type GapCandidatesResult struct {
	Status   Status           `json:"status"`
	Reason   string           `json:"reason,omitempty"`
	Concepts []entity.Mention `json:"concepts"`
}

// SearchEntities performs fuzzy text matching over entity names and
// aliases, ranked by similarity descending.
func (s *Service) SearchEntities(ctx context.Context, projectID, query string, types []entity.Type, limit int) *SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return &SearchResult{Status: StatusOK}
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	matches, err := s.entities.SearchByName(ctx, projectID, query, types, limit)
	if err != nil {
		s.log.Error("entity search failed",
			logging.String("project_id", projectID),
			logging.String("query", query),
			logging.Err(err))
		return &SearchResult{Status: StatusError, Reason: "graph storage unavailable"}
	}
	return &SearchResult{Status: StatusOK, Matches: matches}
}

// FindResearchGaps returns concepts discussed by at most minPapers source
// documents, ordered least-discussed first.  A cheap complement to
// clustering-based gap detection that needs no embeddings.
func (s *Service) FindResearchGaps(ctx context.Context, projectID string, minPapers int) *GapCandidatesResult {
	if minPapers <= 0 {
		minPapers = 2
	}
	mentions, err := s.entities.UnderDiscussed(ctx, projectID, minPapers)
	if err != nil {
		s.log.Error("under-discussed concept query failed",
			logging.String("project_id", projectID), logging.Err(err))
		return &GapCandidatesResult{Status: StatusError, Reason: "graph storage unavailable"}
	}
	return &GapCandidatesResult{Status: StatusOK, Concepts: mentions}
}

// FilterLowTrust drops matches whose confidence signal falls below
// minConfidence.  The signal is the entity's confidence, falling back to a
// numeric "confidence" property; matches with no signal pass through.  A
// zero minimum filters nothing.
func (r *SearchResult) FilterLowTrust(minConfidence float64) {
	if minConfidence <= 0 {
		return
	}
	kept := r.Matches[:0]
	for _, m := range r.Matches {
		if conf, ok := entityConfidence(m.Entity); ok && conf < minConfidence {
			continue
		}
		kept = append(kept, m)
	}
	r.Matches = kept
}

// entityConfidence reads an entity's confidence signal: the confidence
// field when set, a numeric "confidence" property otherwise.
func entityConfidence(e *entity.Entity) (float64, bool) {
	if e == nil {
		return 0, false
	}
	if e.Confidence > 0 {
		return e.Confidence, true
	}
	switch v := e.Properties["confidence"].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
