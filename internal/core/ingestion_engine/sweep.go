package ingestion_engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/internal/models"
	"github.com/markdave123-py/kbsync/pkg/zlog"
)

// SyncOrganization syncs every record of one type owned by the
// organization, one at a time. A failing record is counted and the sweep
// moves on; only a listing failure or cancellation stops it.
func (s *Syncer) SyncOrganization(ctx context.Context, sourceType models.SourceType, orgID string) (models.SyncStats, error) {
	var stats models.SyncStats
	if orgID == "" {
		return stats, core.ErrMissingOrganization
	}
	if !sourceType.Valid() {
		return stats, fmt.Errorf("%w: unknown source type %q", core.ErrInvalidPayload, sourceType)
	}

	records, err := s.store.List(ctx, sourceType, orgID)
	if err != nil {
		return stats, fmt.Errorf("list %s records: %w", sourceType, err)
	}
	stats.Total = len(records)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		res, err := s.Sync(ctx, sourceType, rec.ID, orgID)
		switch {
		case err != nil || !res.Success:
			stats.Failed++
		case res.Skipped:
			stats.Skipped++
		case res.Created:
			stats.Created++
		default:
			stats.Updated++
		}
	}

	zlog.Info("organization sweep finished",
		zap.String("sourceType", string(sourceType)),
		zap.String("organizationId", orgID),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("total", stats.Total),
	)
	return stats, nil
}
