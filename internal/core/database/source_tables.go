package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/markdave123-py/kbsync/internal/models"
)

// sourceTable maps a source type onto its table. Every table is projected
// onto the same column list so one scanner serves all of them.
type sourceTable struct {
	name     string
	title    string
	question string
	body     string
}

var sourceTables = map[models.SourceType]sourceTable{
	models.SourceTypePolicy: {
		name:     "policies",
		title:    "name",
		question: "''",
		body:     "content",
	},
	models.SourceTypeContext: {
		name:     "context_entries",
		title:    "''",
		question: "question",
		body:     "answer",
	},
	models.SourceTypeManualAnswer: {
		name:     "manual_answers",
		title:    "''",
		question: "question",
		body:     "answer",
	},
	models.SourceTypeKnowledgeBaseDocument: {
		name:     "knowledge_base_documents",
		title:    "COALESCE(NULLIF(title, ''), file_name)",
		question: "''",
		body:     "NULL",
	},
}

func tableFor(t models.SourceType) (sourceTable, error) {
	tbl, ok := sourceTables[t]
	if !ok {
		return sourceTable{}, fmt.Errorf("unknown source type %q", t)
	}
	return tbl, nil
}

func (t sourceTable) selectSQL() string {
	return fmt.Sprintf(`
		SELECT id, organization_id,
		       COALESCE(%s, '') AS title,
		       COALESCE(%s, '') AS question,
		       COALESCE(%s, '') AS body,
		       COALESCE(storage_key, ''), COALESCE(content_type, ''),
		       updated_at, processing_status, processed_at, COALESCE(processing_error, '')
		FROM %s`, t.title, t.question, t.body, t.name)
}

type sourceRow struct {
	id, orgID, title, question, body string
	storageKey, contentType          string
	updatedAt                        time.Time
	status                           string
	processedAt                      sql.NullTime
	processingError                  string
}

func (r *sourceRow) dest() []any {
	return []any{
		&r.id, &r.orgID, &r.title, &r.question, &r.body,
		&r.storageKey, &r.contentType,
		&r.updatedAt, &r.status, &r.processedAt, &r.processingError,
	}
}

func (r *sourceRow) record(t models.SourceType) models.SourceRecord {
	rec := models.SourceRecord{
		ID:               r.id,
		OrganizationID:   r.orgID,
		Type:             t,
		Title:            r.title,
		Content:          composeContent(r.question, r.body),
		StorageKey:       r.storageKey,
		ContentType:      r.contentType,
		UpdatedAt:        r.updatedAt,
		ProcessingStatus: models.ProcessingStatus(r.status),
		ProcessingError:  r.processingError,
		Extra:            map[string]string{},
	}
	if r.processedAt.Valid {
		ts := r.processedAt.Time
		rec.ProcessedAt = &ts
	}
	if r.title != "" {
		rec.Extra["title"] = r.title
	}
	if r.question != "" {
		rec.Extra["question"] = r.question
	}
	return rec
}

// composeContent renders question/answer records as one text block.
func composeContent(question, answer string) string {
	switch {
	case question == "":
		return answer
	case answer == "":
		return question
	default:
		return question + "\n\n" + answer
	}
}
