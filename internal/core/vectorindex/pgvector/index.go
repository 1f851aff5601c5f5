// Package pgvector stores embedded chunks in a Postgres table with a
// pgvector column.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/internal/metrics"
	"github.com/markdave123-py/kbsync/internal/models"
	"github.com/markdave123-py/kbsync/pkg/zlog"
)

// DefaultTable is used when Options.Table is empty.
const DefaultTable = "embedding_chunks"

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Options configures the index.
type Options struct {
	Table     string
	Dimension int
}

// Index implements core.VectorIndex on top of a shared *sql.DB. The pool is
// owned by the caller.
type Index struct {
	db       *sql.DB
	embedder core.EmbeddingProvider
	table    string
	dim      int
}

var _ core.VectorIndex = (*Index)(nil)

// New validates opts and creates the table when it does not exist.
func New(ctx context.Context, db *sql.DB, embedder core.EmbeddingProvider, opts Options) (*Index, error) {
	if db == nil {
		return nil, errors.New("pgvector: nil database")
	}
	if embedder == nil {
		return nil, errors.New("pgvector: embedding provider is required")
	}
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if !tableName.MatchString(opts.Table) {
		return nil, fmt.Errorf("pgvector: invalid table name %q", opts.Table)
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("pgvector: invalid dimension %d", opts.Dimension)
	}

	idx := &Index{db: db, embedder: embedder, table: opts.Table, dim: opts.Dimension}
	if err := idx.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (i *Index) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id              TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			source_type     TEXT NOT NULL,
			source_id       TEXT NOT NULL,
			content         TEXT NOT NULL,
			metadata        JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at      TEXT NOT NULL DEFAULT '',
			embedding       vector(%d) NOT NULL,
			PRIMARY KEY (organization_id, id)
		)`, i.table, i.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_source_idx ON %s (organization_id, source_type, source_id)`, i.table, i.table),
	}
	for _, s := range stmts {
		if _, err := i.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("pgvector schema: %w", err)
		}
	}
	zlog.Info("vector table ready", zap.String("table", i.table), zap.Int("dim", i.dim))
	return nil
}

// Upsert embeds every item and writes the batch in one transaction.
func (i *Index) Upsert(ctx context.Context, items []models.EmbeddingChunk) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]row, len(items))
	texts := make([]string, len(items))
	for k, it := range items {
		r, err := rowFor(it)
		if err != nil {
			return err
		}
		rows[k] = r
		texts[k] = it.Text
	}

	vecs, err := i.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != len(items) {
		return fmt.Errorf("embed size mismatch: got %d want %d", len(vecs), len(items))
	}

	start := time.Now()
	defer func() { metrics.CaptureDependency("pgvector", time.Since(start)) }()

	tx, err := i.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`
		INSERT INTO %s
			(id, organization_id, source_type, source_id, content, metadata, updated_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (organization_id, id) DO UPDATE SET
			source_type     = EXCLUDED.source_type,
			source_id       = EXCLUDED.source_id,
			content         = EXCLUDED.content,
			metadata        = EXCLUDED.metadata,
			updated_at      = EXCLUDED.updated_at,
			embedding       = EXCLUDED.embedding
	`, i.table)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for k := range rows {
		r := &rows[k]
		if _, err := stmt.ExecContext(ctx,
			r.id, r.organizationID, r.sourceType, r.sourceID, r.content, r.metadata, r.updatedAt,
			pgvector.NewVector(vecs[k]),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert %s: %w", r.id, err)
		}
	}
	return tx.Commit()
}

// Delete removes the given chunk ids of one organization. Unknown ids are
// ignored.
func (i *Index) Delete(ctx context.Context, orgID string, ids []string) error {
	if orgID == "" {
		return core.ErrMissingOrganization
	}
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.CaptureDependency("pgvector", time.Since(start)) }()

	q := fmt.Sprintf(`DELETE FROM %s WHERE organization_id = $1 AND id = ANY($2)`, i.table)
	_, err := i.db.ExecContext(ctx, q, orgID, ids)
	return err
}

// Query lists the embeddings matching f. It never reads without an
// organization filter.
func (i *Index) Query(ctx context.Context, f core.EmbeddingFilter) ([]models.ExistingEmbedding, error) {
	where, args, err := buildFilter(f)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { metrics.CaptureDependency("pgvector", time.Since(start)) }()

	q := fmt.Sprintf(`SELECT id, updated_at FROM %s WHERE %s ORDER BY id`, i.table, where)
	rows, err := i.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ExistingEmbedding
	for rows.Next() {
		var e models.ExistingEmbedding
		if err := rows.Scan(&e.ID, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close is a no-op; the pool is shared with the source store.
func (i *Index) Close() error { return nil }

func buildFilter(f core.EmbeddingFilter) (string, []any, error) {
	if err := f.Validate(); err != nil {
		return "", nil, err
	}
	clauses := []string{"organization_id = $1"}
	args := []any{f.OrganizationID}
	if f.SourceType != "" {
		args = append(args, string(f.SourceType))
		clauses = append(clauses, fmt.Sprintf("source_type = $%d", len(args)))
	}
	if f.SourceID != "" {
		args = append(args, f.SourceID)
		clauses = append(clauses, fmt.Sprintf("source_id = $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args, nil
}

type row struct {
	id             string
	organizationID string
	sourceType     string
	sourceID       string
	content        string
	updatedAt      string
	metadata       []byte
}

func rowFor(it models.EmbeddingChunk) (row, error) {
	str := func(key string) string {
		s, _ := it.Metadata[key].(string)
		return s
	}
	r := row{
		id:             it.ID,
		organizationID: str("organizationId"),
		sourceType:     str("sourceType"),
		sourceID:       str("sourceId"),
		content:        it.Text,
		updatedAt:      str("updatedAt"),
	}
	if r.id == "" {
		return row{}, errors.New("pgvector: chunk without id")
	}
	if r.organizationID == "" {
		return row{}, fmt.Errorf("chunk %s: %w", r.id, core.ErrMissingOrganization)
	}
	meta, err := json.Marshal(it.Metadata)
	if err != nil {
		return row{}, fmt.Errorf("chunk %s metadata: %w", r.id, err)
	}
	r.metadata = meta
	return r, nil
}
