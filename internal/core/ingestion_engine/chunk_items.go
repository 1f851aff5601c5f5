package ingestion_engine

import (
	"fmt"
	"strings"

	"github.com/markdave123-py/kbsync/internal/models"
)

// Metadata keys written with every chunk.
const (
	MetaOrganizationID = "organizationId"
	MetaSourceType     = "sourceType"
	MetaSourceID       = "sourceId"
	MetaContent        = "content"
	MetaUpdatedAt      = "updatedAt"
	MetaChunkIndex     = "chunkIndex"
	MetaTotalChunks    = "totalChunks"
)

// ChunkID is the deterministic id of the index-th chunk of a source.
func ChunkID(sourceType models.SourceType, sourceID string, index int) string {
	return fmt.Sprintf("%s_%s_chunk%d", sourceType, sourceID, index)
}

// BuildChunkItems turns chunker output into index items. Chunks that are
// blank after trimming are dropped, but surviving items keep the id of their
// original position.
func BuildChunkItems(rec *models.SourceRecord, chunks []string) []models.EmbeddingChunk {
	updatedAt := FormatTimestamp(rec.UpdatedAt)
	items := make([]models.EmbeddingChunk, 0, len(chunks))
	for i, text := range chunks {
		if strings.TrimSpace(text) == "" {
			continue
		}
		meta := make(map[string]any, 7+len(rec.Extra))
		for k, v := range rec.Extra {
			meta[k] = v
		}
		meta[MetaOrganizationID] = rec.OrganizationID
		meta[MetaSourceType] = string(rec.Type)
		meta[MetaSourceID] = rec.ID
		meta[MetaContent] = text
		meta[MetaUpdatedAt] = updatedAt
		meta[MetaChunkIndex] = i
		meta[MetaTotalChunks] = len(chunks)

		items = append(items, models.EmbeddingChunk{
			ID:       ChunkID(rec.Type, rec.ID, i),
			Text:     text,
			Metadata: meta,
		})
	}
	return items
}
