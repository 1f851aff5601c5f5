package core

import (
	"context"

	"github.com/markdave123-py/kbsync/internal/models"
)

// SourceStore reads source records and records their processing status.
// Every lookup is scoped by organization; a record owned by another
// organization is reported exactly like a missing one.
type SourceStore interface {
	Find(ctx context.Context, sourceType models.SourceType, id, organizationID string) (*models.SourceRecord, error)
	List(ctx context.Context, sourceType models.SourceType, organizationID string) ([]models.SourceRecord, error)
	UpdateProcessingStatus(ctx context.Context, sourceType models.SourceType, id, organizationID string, upd models.StatusUpdate) error
	Close() error
}

// ObjectClient reads objects from S3 or any compatible object storage.
type ObjectClient interface {
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}
