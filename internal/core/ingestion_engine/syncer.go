package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/kbsync/internal/config"
	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/internal/core/lease"
	"github.com/markdave123-py/kbsync/internal/metrics"
	"github.com/markdave123-py/kbsync/internal/models"
	"github.com/markdave123-py/kbsync/pkg/zlog"
)

// DefaultUpsertBatchSize caps the number of chunks sent in one upsert call.
const DefaultUpsertBatchSize = 100

// DefaultLeaseTTL is used when SyncerConfig.LeaseTTL is zero.
const DefaultLeaseTTL = 30 * time.Minute

// SyncerDeps are the collaborators of a Syncer. All are required.
type SyncerDeps struct {
	Store     core.SourceStore
	Objects   core.ObjectClient
	Extractor core.ContentExtractor
	Index     core.VectorIndex
	Locker    lease.Locker
}

// SyncerConfig tunes chunking, batching and bucket resolution.
//
// ChunkSize:       window length in runes (default 500).
// ChunkOverlap:    runes shared by consecutive windows (default 50).
// UpsertBatchSize: max chunks per upsert call (default 100).
// LeaseTTL:        lifetime of the per-source lease.
// Buckets:         bucket names for storage-backed records.
type SyncerConfig struct {
	ChunkSize       int
	ChunkOverlap    int
	UpsertBatchSize int
	LeaseTTL        time.Duration
	Buckets         config.Buckets
}

// Syncer keeps the vector index in step with source records.
type Syncer struct {
	store     core.SourceStore
	objects   core.ObjectClient
	extractor core.ContentExtractor
	index     core.VectorIndex
	locker    lease.Locker
	cfg       SyncerConfig
	now       func() time.Time
}

// NewSyncer validates deps and fills config defaults.
func NewSyncer(deps SyncerDeps, cfg SyncerConfig) (*Syncer, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("syncer: source store is required")
	case deps.Objects == nil:
		return nil, errors.New("syncer: object client is required")
	case deps.Extractor == nil:
		return nil, errors.New("syncer: content extractor is required")
	case deps.Index == nil:
		return nil, errors.New("syncer: vector index is required")
	case deps.Locker == nil:
		return nil, errors.New("syncer: locker is required")
	}

	if cfg.ChunkSize == 0 && cfg.ChunkOverlap == 0 {
		cfg.ChunkSize = DefaultChunkSize
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if _, err := Chunk("", cfg.ChunkSize, cfg.ChunkOverlap); err != nil {
		return nil, err
	}
	if cfg.UpsertBatchSize <= 0 {
		cfg.UpsertBatchSize = DefaultUpsertBatchSize
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}

	return &Syncer{
		store:     deps.Store,
		objects:   deps.Objects,
		extractor: deps.Extractor,
		index:     deps.Index,
		locker:    deps.Locker,
		cfg:       cfg,
		now:       time.Now,
	}, nil
}

// Sync brings the embeddings of one source up to date.
//
// The returned error is non-nil only when a retry may help (storage, index
// or status write failures, a held lease) or when the source does not exist
// for the organization. Content that yields no text is a reported failure
// with a nil error.
func (s *Syncer) Sync(ctx context.Context, sourceType models.SourceType, sourceID, orgID string) (models.SyncResult, error) {
	if err := validateSource(sourceType, sourceID, orgID); err != nil {
		return models.SyncResult{}, err
	}

	release, err := s.locker.Acquire(ctx, lease.SourceKey(orgID, string(sourceType), sourceID), s.cfg.LeaseTTL)
	if err != nil {
		return models.SyncResult{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			zlog.Warn("failed to release lease", zap.String("sourceId", sourceID), zap.Error(err))
		}
	}()

	log := zlog.With(
		zap.String("sourceType", string(sourceType)),
		zap.String("sourceId", sourceID),
		zap.String("organizationId", orgID),
	)

	start := s.now()
	res, err := s.sync(ctx, log, sourceType, sourceID, orgID)
	outcome := syncOutcome(res, err)
	metrics.CaptureSync(string(sourceType), outcome, time.Since(start))

	switch {
	case err != nil:
		log.Error("sync failed", zap.Error(err))
	case !res.Success:
		log.Warn("sync finished without embeddings", zap.String("reason", res.Error))
	default:
		log.Info("sync finished", zap.String("outcome", outcome), zap.Int("chunks", res.ChunkCount))
	}
	return res, err
}

func (s *Syncer) sync(ctx context.Context, log *zap.Logger, sourceType models.SourceType, sourceID, orgID string) (models.SyncResult, error) {
	// 1. tenant-scoped fetch
	rec, err := s.store.Find(ctx, sourceType, sourceID, orgID)
	if err != nil {
		return models.SyncResult{}, fmt.Errorf("load source: %w", err)
	}
	if rec == nil || rec.OrganizationID != orgID {
		return models.SyncResult{}, fmt.Errorf("load source: %w", core.ErrSourceNotFound)
	}
	if rec.Type == "" {
		rec.Type = sourceType
	}

	// 2.
	if err := s.setStatus(ctx, rec, models.StatusProcessing, ""); err != nil {
		return models.SyncResult{}, err
	}

	// 3.
	raw, mimeType, err := s.resolveContent(ctx, rec)
	if err != nil {
		s.markFailed(ctx, log, rec, "could not read source file")
		return models.SyncResult{}, err
	}

	// 4.
	text, err := s.extractor.Extract(ctx, raw, mimeType)
	if err != nil {
		reason := "text extraction failed"
		if errors.Is(err, core.ErrUnsupportedContentType) {
			reason = "unsupported content type"
		}
		log.Warn("extraction failed", zap.String("contentType", mimeType), zap.Error(err))
		s.markFailed(ctx, log, rec, reason)
		return models.SyncResult{Success: false, Error: reason}, nil
	}
	if text == "" {
		s.markFailed(ctx, log, rec, core.ErrEmptyExtraction.Error())
		return models.SyncResult{Success: false, Error: core.ErrEmptyExtraction.Error()}, nil
	}

	// 5.
	existing, err := s.index.Query(ctx, core.EmbeddingFilter{
		OrganizationID: orgID,
		SourceType:     sourceType,
		SourceID:       sourceID,
	})
	if err != nil {
		s.markFailed(ctx, log, rec, "could not read existing embeddings")
		return models.SyncResult{}, fmt.Errorf("query embeddings: %w", err)
	}
	// A failed or interrupted run may have written only some batches, all
	// carrying the current updatedAt, so the timestamps alone prove nothing.
	if settled(rec.ProcessingStatus) && !NeedsUpdate(existing, FormatTimestamp(rec.UpdatedAt)) {
		if err := s.setStatus(ctx, rec, models.StatusCompleted, ""); err != nil {
			return models.SyncResult{}, err
		}
		return models.SyncResult{Success: true, Skipped: true, ChunkCount: len(existing)}, nil
	}

	// 6.
	if len(existing) > 0 {
		ids := make([]string, len(existing))
		for i, e := range existing {
			ids[i] = e.ID
		}
		if err := s.index.Delete(ctx, orgID, ids); err != nil {
			log.Warn("failed to delete stale embeddings, continuing", zap.Int("count", len(ids)), zap.Error(err))
		} else {
			metrics.AddEmbeddingsDeleted(string(sourceType), len(ids))
		}
	}

	// 7. and 8.
	chunks, err := Chunk(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if err != nil {
		s.markFailed(ctx, log, rec, "invalid chunking settings")
		return models.SyncResult{}, err
	}
	items := BuildChunkItems(rec, chunks)

	// 9.
	if err := s.upsert(ctx, items); err != nil {
		s.markFailed(ctx, log, rec, "could not write embeddings")
		return models.SyncResult{}, fmt.Errorf("upsert embeddings: %w", err)
	}
	metrics.AddChunksUpserted(string(sourceType), len(items))

	// 10.
	if err := s.setStatus(ctx, rec, models.StatusCompleted, ""); err != nil {
		return models.SyncResult{}, err
	}
	return models.SyncResult{
		Success:    true,
		Created:    len(existing) == 0,
		ChunkCount: len(items),
	}, nil
}

// Purge deletes every embedding of a source. The record itself need not
// exist anymore.
func (s *Syncer) Purge(ctx context.Context, sourceType models.SourceType, sourceID, orgID string) (int, error) {
	if err := validateSource(sourceType, sourceID, orgID); err != nil {
		return 0, err
	}

	release, err := s.locker.Acquire(ctx, lease.SourceKey(orgID, string(sourceType), sourceID), s.cfg.LeaseTTL)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			zlog.Warn("failed to release lease", zap.String("sourceId", sourceID), zap.Error(err))
		}
	}()

	existing, err := s.index.Query(ctx, core.EmbeddingFilter{
		OrganizationID: orgID,
		SourceType:     sourceType,
		SourceID:       sourceID,
	})
	if err != nil {
		return 0, fmt.Errorf("query embeddings: %w", err)
	}
	if len(existing) == 0 {
		return 0, nil
	}

	ids := make([]string, len(existing))
	for i, e := range existing {
		ids[i] = e.ID
	}
	if err := s.index.Delete(ctx, orgID, ids); err != nil {
		return 0, fmt.Errorf("delete embeddings: %w", err)
	}
	metrics.AddEmbeddingsDeleted(string(sourceType), len(ids))

	zlog.Info("purged embeddings",
		zap.String("sourceType", string(sourceType)),
		zap.String("sourceId", sourceID),
		zap.String("organizationId", orgID),
		zap.Int("count", len(ids)),
	)
	return len(ids), nil
}

// resolveContent returns the raw bytes to extract and their declared type.
func (s *Syncer) resolveContent(ctx context.Context, rec *models.SourceRecord) ([]byte, string, error) {
	if !rec.StorageBacked() {
		return []byte(rec.Content), mimeText, nil
	}

	bucket, err := s.cfg.Buckets.BucketFor(rec.Type)
	if err != nil {
		return nil, "", err
	}

	start := time.Now()
	data, err := s.objects.GetFile(ctx, bucket, rec.StorageKey)
	metrics.CaptureDependency("object_storage", time.Since(start))
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s/%s: %w", bucket, rec.StorageKey, err)
	}
	return data, rec.ContentType, nil
}

func (s *Syncer) upsert(ctx context.Context, items []models.EmbeddingChunk) error {
	for start := 0; start < len(items); start += s.cfg.UpsertBatchSize {
		end := min(start+s.cfg.UpsertBatchSize, len(items))
		begin := time.Now()
		err := s.index.Upsert(ctx, items[start:end])
		metrics.CaptureDependency("vector_index", time.Since(begin))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) setStatus(ctx context.Context, rec *models.SourceRecord, status models.ProcessingStatus, reason string) error {
	upd := models.StatusUpdate{Status: status, Error: reason}
	if status == models.StatusCompleted || status == models.StatusFailed {
		now := s.now().UTC()
		upd.ProcessedAt = &now
	}
	if err := s.store.UpdateProcessingStatus(ctx, rec.Type, rec.ID, rec.OrganizationID, upd); err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

// markFailed records a failure. A failed status write is logged only; the
// caller is already reporting a more useful error.
func (s *Syncer) markFailed(ctx context.Context, log *zap.Logger, rec *models.SourceRecord, reason string) {
	if err := s.setStatus(context.WithoutCancel(ctx), rec, models.StatusFailed, reason); err != nil {
		log.Warn("failed to record failed status", zap.Error(err))
	}
}

// settled reports whether the last run of a record finished cleanly. The
// status is read before this run marks the record processing.
func settled(status models.ProcessingStatus) bool {
	return status != models.StatusFailed && status != models.StatusProcessing
}

func validateSource(sourceType models.SourceType, sourceID, orgID string) error {
	if orgID == "" {
		return core.ErrMissingOrganization
	}
	if !sourceType.Valid() {
		return fmt.Errorf("%w: unknown source type %q", core.ErrInvalidPayload, sourceType)
	}
	if sourceID == "" {
		return fmt.Errorf("%w: missing source id", core.ErrInvalidPayload)
	}
	return nil
}

func syncOutcome(res models.SyncResult, err error) string {
	switch {
	case err != nil || !res.Success:
		return metrics.OutcomeFailed
	case res.Skipped:
		return metrics.OutcomeSkipped
	case res.Created:
		return metrics.OutcomeCreated
	default:
		return metrics.OutcomeUpdated
	}
}
