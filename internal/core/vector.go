package core

import (
	"context"

	"github.com/markdave123-py/kbsync/internal/models"
)

// EmbeddingFilter selects embeddings of one source. OrganizationID is
// mandatory: the index is shared by every tenant.
type EmbeddingFilter struct {
	OrganizationID string
	SourceType     models.SourceType
	SourceID       string
}

// Validate rejects filters that would read across tenants.
func (f EmbeddingFilter) Validate() error {
	if f.OrganizationID == "" {
		return ErrMissingOrganization
	}
	return nil
}

// VectorIndex stores embedded chunks. Vector generation happens inside
// Upsert: callers hand over text and metadata only. Chunk ids are unique per
// organization, so rows are keyed by organization and chunk id.
type VectorIndex interface {
	Upsert(ctx context.Context, items []models.EmbeddingChunk) error
	Delete(ctx context.Context, orgID string, ids []string) error
	Query(ctx context.Context, filter EmbeddingFilter) ([]models.ExistingEmbedding, error)
	Close() error
}
