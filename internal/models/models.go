package models

import (
	"time"
)

// SourceType is the category of content being embedded. Its value prefixes
// chunk ids and is stored in the sourceType metadata tag.
type SourceType string

const (
	SourceTypePolicy                SourceType = "policy"
	SourceTypeContext               SourceType = "context"
	SourceTypeManualAnswer          SourceType = "manual_answer"
	SourceTypeKnowledgeBaseDocument SourceType = "knowledge_base_document"
)

// SourceTypes lists every supported source type.
var SourceTypes = []SourceType{
	SourceTypePolicy,
	SourceTypeContext,
	SourceTypeManualAnswer,
	SourceTypeKnowledgeBaseDocument,
}

// Valid reports whether t is one of the supported source types.
func (t SourceType) Valid() bool {
	for _, st := range SourceTypes {
		if st == t {
			return true
		}
	}
	return false
}

// ProcessingStatus is the embedding state surfaced on a source record.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// SourceRecord is a policy, context entry, manual answer or knowledge-base
// document owned by the surrounding application.
type SourceRecord struct {
	ID               string            `db:"id" json:"id"`
	OrganizationID   string            `db:"organization_id" json:"organization_id"`
	Type             SourceType        `db:"-" json:"source_type"`
	Title            string            `db:"title" json:"title"`
	Content          string            `db:"content" json:"-"`
	StorageKey       string            `db:"storage_key" json:"storage_key"`
	ContentType      string            `db:"content_type" json:"content_type"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
	ProcessingStatus ProcessingStatus  `db:"processing_status" json:"processing_status"`
	ProcessedAt      *time.Time        `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingError  string            `db:"processing_error" json:"-"`
	Extra            map[string]string `db:"-" json:"-"`
}

// StorageBacked reports whether the record content lives in object storage.
func (r *SourceRecord) StorageBacked() bool {
	return r.StorageKey != ""
}

// StatusUpdate is the only mutation the pipeline applies to a source record.
type StatusUpdate struct {
	Status      ProcessingStatus
	ProcessedAt *time.Time
	Error       string
}

// EmbeddingChunk is one chunk of extracted text as written to the vector index.
type EmbeddingChunk struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// ExistingEmbedding is an embedding as read back from the vector index.
type ExistingEmbedding struct {
	ID        string `json:"id"`
	UpdatedAt string `json:"updatedAt"`
}

// SyncStats describes one organization sweep. Not persisted.
type SyncStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// SyncResult is the outcome of a single source sync.
type SyncResult struct {
	Success    bool   `json:"success"`
	Skipped    bool   `json:"skipped,omitempty"`
	Created    bool   `json:"created,omitempty"`
	ChunkCount int    `json:"chunkCount"`
	Error      string `json:"error,omitempty"`
}

// TaskAction selects what a task does with its source.
type TaskAction string

const (
	TaskActionSync  TaskAction = "sync"
	TaskActionPurge TaskAction = "purge"
)

// TaskPayload triggers one unit of background work.
type TaskPayload struct {
	SourceID       string     `json:"sourceId"`
	OrganizationID string     `json:"organizationId"`
	SourceType     SourceType `json:"sourceType"`
	Action         TaskAction `json:"action,omitempty"`
}

// TaskResult is reported to logs and metrics once a task settles.
type TaskResult struct {
	Success    bool   `json:"success"`
	ChunkCount *int   `json:"chunkCount,omitempty"`
	Error      string `json:"error,omitempty"`
	Attempts   int    `json:"attempts"`
}
