package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/internal/models"
)

// Open connects to Postgres through the pgx stdlib driver. When sslCertPath
// is set the connection verifies the server against that CA.
func Open(ctx context.Context, databaseURL, sslCertPath string) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}

	dsn := databaseURL
	if sslCertPath != "" {
		if _, err := os.Stat(sslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", sslCertPath, err)
		}
		u, err := url.Parse(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", sslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// SourceStore reads source records from the application tables. Every
// statement filters on organization_id.
type SourceStore struct {
	db *sql.DB
}

var _ core.SourceStore = (*SourceStore)(nil)

// NewSourceStore wraps an open pool and makes sure the schema exists.
func NewSourceStore(ctx context.Context, db *sql.DB) (*SourceStore, error) {
	if db == nil {
		return nil, errors.New("source store: nil database")
	}
	if err := EnsureBootstrapped(ctx, db); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &SourceStore{db: db}, nil
}

func (s *SourceStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SourceStore) Find(ctx context.Context, sourceType models.SourceType, id, organizationID string) (*models.SourceRecord, error) {
	tbl, err := tableFor(sourceType)
	if err != nil {
		return nil, err
	}
	if organizationID == "" {
		return nil, core.ErrMissingOrganization
	}

	q := tbl.selectSQL() + ` WHERE id = $1 AND organization_id = $2`
	var row sourceRow
	err = s.db.QueryRowContext(ctx, q, id, organizationID).Scan(row.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", sourceType, id, core.ErrSourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s %s: %w", sourceType, id, err)
	}
	rec := row.record(sourceType)
	return &rec, nil
}

func (s *SourceStore) List(ctx context.Context, sourceType models.SourceType, organizationID string) ([]models.SourceRecord, error) {
	tbl, err := tableFor(sourceType)
	if err != nil {
		return nil, err
	}
	if organizationID == "" {
		return nil, core.ErrMissingOrganization
	}

	q := tbl.selectSQL() + ` WHERE organization_id = $1 ORDER BY updated_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, q, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", sourceType, err)
	}
	defer rows.Close()

	var out []models.SourceRecord
	for rows.Next() {
		var row sourceRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, err
		}
		out = append(out, row.record(sourceType))
	}
	return out, rows.Err()
}

func (s *SourceStore) UpdateProcessingStatus(ctx context.Context, sourceType models.SourceType, id, organizationID string, upd models.StatusUpdate) error {
	tbl, err := tableFor(sourceType)
	if err != nil {
		return err
	}
	if organizationID == "" {
		return core.ErrMissingOrganization
	}

	q := fmt.Sprintf(`
		UPDATE %s
		SET processing_status = $1,
		    processed_at = COALESCE($2, processed_at),
		    processing_error = NULLIF($3, '')
		WHERE id = $4 AND organization_id = $5
	`, tbl.name)

	var processedAt sql.NullTime
	if upd.ProcessedAt != nil {
		processedAt = sql.NullTime{Time: *upd.ProcessedAt, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, q, string(upd.Status), processedAt, upd.Error, id, organizationID)
	if err != nil {
		return fmt.Errorf("update %s status: %w", sourceType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", sourceType, id, core.ErrSourceNotFound)
	}
	return nil
}
