package resolution

import (
	"context"
	"sort"

	"github.com/athene-kg/athene/internal/domain/entity"
	"github.com/athene-kg/athene/internal/domain/relationship"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	apperrors "github.com/athene-kg/athene/pkg/errors"
)

// CrossDocLinker runs the cross-document identity pass: entities that were
// persisted separately but share (type, canonical name) are connected with
// SAME_AS edges rather than destructively merged, preserving per-document
// provenance while making the identity queryable.
type CrossDocLinker struct {
	entities entity.Repository
	rels     relationship.Repository
	log      logging.Logger
}

func NewCrossDocLinker(entities entity.Repository, rels relationship.Repository, log logging.Logger) *CrossDocLinker {
	return &CrossDocLinker{entities: entities, rels: rels, log: log.Named("crossdoc")}
}

// Link connects same-name entity pairs that originate from different source
// documents.  Pairs already linked are skipped by the store; the pass is
// idempotent.  Returns the number of edges newly created.
func (l *CrossDocLinker) Link(ctx context.Context, projectID string) (int, error) {
	groups, err := l.entities.GroupsByName(ctx, projectID)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeResolutionFailed, "loading name groups for cross-document linking")
	}

	created := 0
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				if !differentOrigins(members[i], members[j]) {
					continue
				}
				isNew, err := l.rels.EnsureSameAs(ctx, projectID, members[i].ID, members[j].ID)
				if err != nil {
					return created, apperrors.Wrap(err, apperrors.ErrCodeResolutionFailed, "creating cross-document identity edge")
				}
				if isNew {
					created++
				}
			}
		}
	}
	if created > 0 {
		l.log.Info("cross-document identity pass complete",
			logging.String("project_id", projectID),
			logging.Int("edges_created", created))
	}
	return created, nil
}

// differentOrigins reports whether two entities have disjoint source
// document sets.  Overlapping provenance means the pair was already
// considered by within-run resolution and deliberately kept apart.
func differentOrigins(a, b *entity.Entity) bool {
	if len(a.SourceDocumentIDs) == 0 || len(b.SourceDocumentIDs) == 0 {
		return false
	}
	seen := make(map[string]bool, len(a.SourceDocumentIDs))
	for _, d := range a.SourceDocumentIDs {
		seen[d] = true
	}
	for _, d := range b.SourceDocumentIDs {
		if seen[d] {
			return false
		}
	}
	return true
}
