package annotations

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/rhizome-app/rhizome/domain/chunks"
)

// Module provides the annotations repository
var Module = fx.Module("annotations",
	fx.Provide(NewRepository),
)

// RecoveryStats summarizes a document-wide recovery pass
type RecoveryStats struct {
	Recovered   int `json:"recovered"`
	NeedsReview int `json:"needs_review"`
	Lost        int `json:"lost"`
}

// RecoverDocument re-anchors every annotation of a document against its
// current chunks and markdown, persisting the outcomes.
func RecoverDocument(ctx context.Context, repo *Repository, documentID uuid.UUID, rows []*chunks.Chunk, markdown string, log *slog.Logger) (RecoveryStats, error) {
	stats := RecoveryStats{}
	anns, err := repo.ListByDocument(ctx, documentID)
	if err != nil {
		return stats, err
	}

	for _, a := range anns {
		pos := a.Position
		rec := Recover(&pos, rows, markdown)
		ApplyRecovery(&pos, rec)
		if err := repo.UpdatePosition(ctx, a.EntityID, &pos); err != nil {
			return stats, err
		}

		switch {
		case rec.Lost:
			stats.Lost++
			log.Info("annotation lost, retained for manual relinking",
				slog.String("entity_id", a.EntityID.String()),
				slog.String("document_id", documentID.String()),
			)
		case rec.NeedsReview:
			stats.NeedsReview++
		default:
			stats.Recovered++
		}
	}
	return stats, nil
}
