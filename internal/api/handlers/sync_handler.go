package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	middleware "github.com/markdave123-py/kbsync/internal/api/middlewares"
	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbsync/internal/core/lease"
	"github.com/markdave123-py/kbsync/internal/core/tasks"
	"github.com/markdave123-py/kbsync/internal/models"
	"github.com/markdave123-py/kbsync/pkg/zlog"
)

// Pipeline is the part of the syncer the HTTP surface calls directly.
type Pipeline interface {
	SyncOrganization(ctx context.Context, sourceType models.SourceType, orgID string) (models.SyncStats, error)
	Purge(ctx context.Context, sourceType models.SourceType, sourceID, orgID string) (int, error)
}

type SyncHandlerConfig struct {
	ChunkSize    int
	ChunkOverlap int
	SweepTimeout time.Duration
}

type SyncHandler struct {
	dispatcher tasks.Dispatcher
	pipeline   Pipeline
	extractor  core.ContentExtractor
	cfg        SyncHandlerConfig
}

func NewSyncHandler(d tasks.Dispatcher, p Pipeline, ex core.ContentExtractor, cfg SyncHandlerConfig) *SyncHandler {
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 30 * time.Minute
	}
	return &SyncHandler{dispatcher: d, pipeline: p, extractor: ex, cfg: cfg}
}

type syncRequest struct {
	SourceID   string            `json:"sourceId"`
	SourceType models.SourceType `json:"sourceType"`
	Action     models.TaskAction `json:"action,omitempty"`
}

type acceptedResponse struct {
	Status     string            `json:"status"`
	SourceID   string            `json:"sourceId,omitempty"`
	SourceType models.SourceType `json:"sourceType,omitempty"`
}

// Sync queues one source for (re)embedding.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.OrganizationID(r.Context())
	if !ok {
		http.Error(w, "organization not found in context", http.StatusUnauthorized)
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p := models.TaskPayload{
		SourceID:       req.SourceID,
		OrganizationID: orgID,
		SourceType:     req.SourceType,
		Action:         req.Action,
	}
	if err := h.dispatcher.Dispatch(r.Context(), p); err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidPayload):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, tasks.ErrQueueFull):
			http.Error(w, "sync queue is full, retry later", http.StatusServiceUnavailable)
		default:
			zlog.Error("dispatch sync request", zap.String("sourceId", p.SourceID), zap.Error(err))
			http.Error(w, "failed to queue sync", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "queued", SourceID: p.SourceID, SourceType: p.SourceType})
}

type orgSyncRequest struct {
	SourceType models.SourceType `json:"sourceType"`
}

// SyncOrganization sweeps every source of one type (or of every type when
// sourceType is empty) in the background.
func (h *SyncHandler) SyncOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.OrganizationID(r.Context())
	if !ok {
		http.Error(w, "organization not found in context", http.StatusUnauthorized)
		return
	}

	var req orgSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	types := models.SourceTypes
	if req.SourceType != "" {
		if !req.SourceType.Valid() {
			http.Error(w, "unknown sourceType", http.StatusBadRequest)
			return
		}
		types = []models.SourceType{req.SourceType}
	}

	zlog.Info("organization sweep requested",
		zap.String("organizationId", orgID),
		zap.String("userId", middleware.UserID(r.Context())),
		zap.Int("sourceTypes", len(types)))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.SweepTimeout)
	go func() {
		defer cancel()
		for _, st := range types {
			stats, err := h.pipeline.SyncOrganization(ctx, st, orgID)
			if err != nil {
				zlog.Error("organization sweep failed",
					zap.String("organizationId", orgID), zap.String("sourceType", string(st)), zap.Error(err))
				continue
			}
			zlog.Info("organization sweep finished",
				zap.String("organizationId", orgID),
				zap.String("sourceType", string(st)),
				zap.Int("created", stats.Created),
				zap.Int("updated", stats.Updated),
				zap.Int("skipped", stats.Skipped),
				zap.Int("failed", stats.Failed),
				zap.Int("total", stats.Total))
		}
	}()

	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "sweeping", SourceType: req.SourceType})
}

type extractRequest struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

type extractResponse struct {
	Text       string `json:"text"`
	ChunkCount int    `json:"chunkCount"`
}

// Extract previews what the pipeline would index for a base64 payload.
func (h *SyncHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	text, err := h.extractor.ExtractBase64(r.Context(), req.Content, req.ContentType)
	if err != nil {
		if errors.Is(err, core.ErrUnsupportedContentType) {
			http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
			return
		}
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	chunks, err := ingestion_engine.Chunk(text, h.cfg.ChunkSize, h.cfg.ChunkOverlap)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, extractResponse{Text: text, ChunkCount: len(chunks)})
}

type deleteResponse struct {
	Deleted int `json:"deleted"`
}

// DeleteEmbeddings removes every embedding of one source.
func (h *SyncHandler) DeleteEmbeddings(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.OrganizationID(r.Context())
	if !ok {
		http.Error(w, "organization not found in context", http.StatusUnauthorized)
		return
	}
	sourceType := models.SourceType(chi.URLParam(r, "sourceType"))
	sourceID := chi.URLParam(r, "sourceId")
	if !sourceType.Valid() || sourceID == "" {
		http.Error(w, "unknown source", http.StatusBadRequest)
		return
	}

	n, err := h.pipeline.Purge(r.Context(), sourceType, sourceID, orgID)
	if err != nil {
		if errors.Is(err, lease.ErrLeaseHeld) {
			http.Error(w, "source is being synced, retry later", http.StatusConflict)
			return
		}
		zlog.Error("purge embeddings", zap.String("sourceId", sourceID), zap.Error(err))
		http.Error(w, "failed to delete embeddings", http.StatusInternalServerError)
		return
	}
	zlog.Info("embeddings deleted on request",
		zap.String("organizationId", orgID),
		zap.String("userId", middleware.UserID(r.Context())),
		zap.String("sourceType", string(sourceType)),
		zap.String("sourceId", sourceID),
		zap.Int("count", n))
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Routes mounts the sync endpoints on r. Callers wrap r with authentication.
func (h *SyncHandler) Routes(r chi.Router) {
	r.Post("/api/sync", h.Sync)
	r.Post("/api/sync/organization", h.SyncOrganization)
	r.Post("/api/extract", h.Extract)
	r.Delete("/api/embeddings/{sourceType}/{sourceId}", h.DeleteEmbeddings)
}
