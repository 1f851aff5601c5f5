// Package qdrant stores embedded chunks as points in a Qdrant collection.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/internal/metrics"
	"github.com/markdave123-py/kbsync/internal/models"
	"github.com/markdave123-py/kbsync/pkg/zlog"
)

// Payload keys. chunkId carries the readable id since Qdrant only accepts
// integers and UUIDs as point ids.
const (
	fieldChunkID        = "chunkId"
	fieldOrganizationID = "organizationId"
	fieldSourceType     = "sourceType"
	fieldSourceID       = "sourceId"
	fieldUpdatedAt      = "updatedAt"
	fieldContent        = "content"
)

const scrollPage = 256

// pointNamespace seeds the UUIDv5 point ids.
var pointNamespace = uuid.MustParse("6f1c1d1e-2b8a-4c5e-9a3f-0d7e5b4a8c21")

// PointID maps an organization's chunk id onto its stable Qdrant point id.
// Source ids are only unique within an organization, so the organization is
// part of the key.
func PointID(orgID, chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(orgID+"/"+chunkID)).String()
}

// pointsAPI is the subset of *qdrant.Client the index uses.
type pointsAPI interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	ScrollAndOffset(ctx context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error)
	Close() error
}

// Options configures the connection and collection.
type Options struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// Index implements core.VectorIndex on a Qdrant collection.
type Index struct {
	client     pointsAPI
	embedder   core.EmbeddingProvider
	collection string
	dim        int
}

var _ core.VectorIndex = (*Index)(nil)

// New dials Qdrant and makes sure the collection and payload indexes exist.
func New(ctx context.Context, embedder core.EmbeddingProvider, opts Options) (*Index, error) {
	if opts.Host == "" {
		return nil, errors.New("qdrant: host is required")
	}
	if opts.Collection == "" {
		return nil, errors.New("qdrant: collection is required")
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}
	idx, err := newIndex(ctx, client, embedder, opts.Collection, opts.Dimension)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

func newIndex(ctx context.Context, client pointsAPI, embedder core.EmbeddingProvider, collection string, dim int) (*Index, error) {
	if embedder == nil {
		return nil, errors.New("qdrant: embedding provider is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("qdrant: invalid dimension %d", dim)
	}
	idx := &Index{client: client, embedder: embedder, collection: collection, dim: dim}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (i *Index) ensureCollection(ctx context.Context) error {
	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("qdrant: collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = i.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(i.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	for _, field := range []string{fieldOrganizationID, fieldSourceType, fieldSourceID} {
		_, err := i.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: i.collection,
			Wait:           qdrant.PtrOf(true),
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("qdrant: index %s: %w", field, err)
		}
	}
	zlog.Info("qdrant collection created", zap.String("collection", i.collection), zap.Int("dim", i.dim))
	return nil
}

// Upsert embeds every item and writes them as points.
func (i *Index) Upsert(ctx context.Context, items []models.EmbeddingChunk) error {
	if len(items) == 0 {
		return nil
	}
	texts := make([]string, len(items))
	orgs := make([]string, len(items))
	for k, it := range items {
		if it.ID == "" {
			return errors.New("qdrant: chunk without id")
		}
		org, _ := it.Metadata[fieldOrganizationID].(string)
		if org == "" {
			return fmt.Errorf("chunk %s: %w", it.ID, core.ErrMissingOrganization)
		}
		texts[k] = it.Text
		orgs[k] = org
	}

	vecs, err := i.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != len(items) {
		return fmt.Errorf("embed size mismatch: got %d want %d", len(vecs), len(items))
	}

	points := make([]*qdrant.PointStruct, len(items))
	for k, it := range items {
		payload, err := payloadFor(it)
		if err != nil {
			return err
		}
		points[k] = &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(orgs[k], it.ID)),
			Vectors: qdrant.NewVectors(vecs[k]...),
			Payload: payload,
		}
	}

	start := time.Now()
	defer func() { metrics.CaptureDependency("qdrant", time.Since(start)) }()
	_, err = i.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: i.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	return err
}

// Delete removes the points of the given chunk ids of one organization.
func (i *Index) Delete(ctx context.Context, orgID string, ids []string) error {
	if orgID == "" {
		return core.ErrMissingOrganization
	}
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, len(ids))
	for k, id := range ids {
		pids[k] = qdrant.NewID(PointID(orgID, id))
	}
	start := time.Now()
	defer func() { metrics.CaptureDependency("qdrant", time.Since(start)) }()
	_, err := i.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: i.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorIDs(pids),
	})
	return err
}

// Query scrolls through every point matching f.
func (i *Index) Query(ctx context.Context, f core.EmbeddingFilter) ([]models.ExistingEmbedding, error) {
	filter, err := buildFilter(f)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { metrics.CaptureDependency("qdrant", time.Since(start)) }()

	var (
		out    []models.ExistingEmbedding
		offset *qdrant.PointId
	)
	for {
		points, next, err := i.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: i.collection,
			Filter:         filter,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollPage)),
			WithPayload:    qdrant.NewWithPayloadInclude(fieldChunkID, fieldUpdatedAt),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: scroll: %w", err)
		}
		for _, p := range points {
			out = append(out, models.ExistingEmbedding{
				ID:        p.GetPayload()[fieldChunkID].GetStringValue(),
				UpdatedAt: p.GetPayload()[fieldUpdatedAt].GetStringValue(),
			})
		}
		if next == nil || len(points) == 0 {
			return out, nil
		}
		offset = next
	}
}

func (i *Index) Close() error {
	return i.client.Close()
}

func buildFilter(f core.EmbeddingFilter) (*qdrant.Filter, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	must := []*qdrant.Condition{qdrant.NewMatch(fieldOrganizationID, f.OrganizationID)}
	if f.SourceType != "" {
		must = append(must, qdrant.NewMatch(fieldSourceType, string(f.SourceType)))
	}
	if f.SourceID != "" {
		must = append(must, qdrant.NewMatch(fieldSourceID, f.SourceID))
	}
	return &qdrant.Filter{Must: must}, nil
}

func payloadFor(it models.EmbeddingChunk) (map[string]*qdrant.Value, error) {
	raw := make(map[string]any, len(it.Metadata)+1)
	for k, v := range it.Metadata {
		raw[k] = v
	}
	raw[fieldChunkID] = it.ID
	if _, ok := raw[fieldContent]; !ok {
		raw[fieldContent] = it.Text
	}
	payload, err := qdrant.TryValueMap(raw)
	if err != nil {
		return nil, fmt.Errorf("chunk %s payload: %w", it.ID, err)
	}
	return payload, nil
}
