package qdrant

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/internal/models"
)

type constEmbedder struct{ dim int }

func (e constEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

// memPoints keeps points in memory and evaluates keyword filters.
type memPoints struct {
	exists      bool
	created     int
	fieldIdx    []string
	points      map[string]*qdrant.PointStruct
	scrollCalls int
	upsertErr   error
}

func newMemPoints() *memPoints {
	return &memPoints{points: map[string]*qdrant.PointStruct{}}
}

func (m *memPoints) CollectionExists(context.Context, string) (bool, error) { return m.exists, nil }

func (m *memPoints) CreateCollection(context.Context, *qdrant.CreateCollection) error {
	m.created++
	m.exists = true
	return nil
}

func (m *memPoints) CreateFieldIndex(_ context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error) {
	m.fieldIdx = append(m.fieldIdx, req.FieldName)
	return &qdrant.UpdateResult{}, nil
}

func (m *memPoints) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	for _, p := range req.Points {
		m.points[p.GetId().GetUuid()] = p
	}
	return &qdrant.UpdateResult{}, nil
}

func (m *memPoints) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	for _, id := range req.GetPoints().GetPoints().GetIds() {
		delete(m.points, id.GetUuid())
	}
	return &qdrant.UpdateResult{}, nil
}

func (m *memPoints) ScrollAndOffset(_ context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error) {
	m.scrollCalls++
	ids := make([]string, 0, len(m.points))
	for id, p := range m.points {
		if matches(p, req.GetFilter()) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	start := 0
	if off := req.GetOffset(); off != nil {
		start = sort.SearchStrings(ids, off.GetUuid())
	}
	end := start + int(req.GetLimit())
	var next *qdrant.PointId
	if end < len(ids) {
		next = qdrant.NewID(ids[end])
	} else {
		end = len(ids)
	}

	var out []*qdrant.RetrievedPoint
	for _, id := range ids[start:end] {
		p := m.points[id]
		out = append(out, &qdrant.RetrievedPoint{Id: p.Id, Payload: p.Payload})
	}
	return out, next, nil
}

func (m *memPoints) Close() error { return nil }

func matches(p *qdrant.PointStruct, f *qdrant.Filter) bool {
	for _, c := range f.GetMust() {
		fc := c.GetField()
		if p.Payload[fc.GetKey()].GetStringValue() != fc.GetMatch().GetKeyword() {
			return false
		}
	}
	return true
}

func chunk(org, id string, i int) models.EmbeddingChunk {
	chunkID := "policy_" + id + "_chunk" + string(rune('0'+i))
	return models.EmbeddingChunk{
		ID:   chunkID,
		Text: "text " + chunkID,
		Metadata: map[string]any{
			"organizationId": org,
			"sourceType":     "policy",
			"sourceId":       id,
			"updatedAt":      "2024-01-01T00:00:00.000Z",
			"chunkIndex":     i,
		},
	}
}

func TestPointIDIsStable(t *testing.T) {
	assert.Equal(t, PointID("org1", "policy_p1_chunk0"), PointID("org1", "policy_p1_chunk0"))
	assert.NotEqual(t, PointID("org1", "policy_p1_chunk0"), PointID("org1", "policy_p1_chunk1"))
	assert.NotEqual(t, PointID("org1", "policy_p1_chunk0"), PointID("org2", "policy_p1_chunk0"))
}

func TestBuildFilterRequiresOrganization(t *testing.T) {
	_, err := buildFilter(core.EmbeddingFilter{SourceID: "p1"})
	assert.ErrorIs(t, err, core.ErrMissingOrganization)

	f, err := buildFilter(core.EmbeddingFilter{OrganizationID: "org1", SourceType: models.SourceTypePolicy, SourceID: "p1"})
	require.NoError(t, err)
	require.Len(t, f.GetMust(), 3)
	assert.Equal(t, "organizationId", f.GetMust()[0].GetField().GetKey())
	assert.Equal(t, "org1", f.GetMust()[0].GetField().GetMatch().GetKeyword())
}

func TestNewIndexCreatesCollectionOnce(t *testing.T) {
	api := newMemPoints()
	_, err := newIndex(context.Background(), api, constEmbedder{dim: 4}, "kb", 4)
	require.NoError(t, err)
	assert.Equal(t, 1, api.created)
	assert.ElementsMatch(t, []string{"organizationId", "sourceType", "sourceId"}, api.fieldIdx)

	_, err = newIndex(context.Background(), api, constEmbedder{dim: 4}, "kb", 4)
	require.NoError(t, err)
	assert.Equal(t, 1, api.created)
}

func TestNewIndexValidates(t *testing.T) {
	_, err := newIndex(context.Background(), newMemPoints(), nil, "kb", 4)
	assert.Error(t, err)
	_, err = newIndex(context.Background(), newMemPoints(), constEmbedder{}, "kb", 0)
	assert.Error(t, err)
	_, err = New(context.Background(), constEmbedder{}, Options{Collection: "kb", Dimension: 4})
	assert.Error(t, err)
}

func TestUpsertQueryDelete(t *testing.T) {
	ctx := context.Background()
	api := newMemPoints()
	idx, err := newIndex(ctx, api, constEmbedder{dim: 4}, "kb", 4)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, []models.EmbeddingChunk{
		chunk("org1", "p1", 0), chunk("org1", "p1", 1), chunk("org2", "p1", 0),
	}))

	got, err := idx.Query(ctx, core.EmbeddingFilter{OrganizationID: "org1", SourceType: models.SourceTypePolicy, SourceID: "p1"})
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, e := range got {
		ids[i] = e.ID
		assert.Equal(t, "2024-01-01T00:00:00.000Z", e.UpdatedAt)
	}
	assert.ElementsMatch(t, []string{"policy_p1_chunk0", "policy_p1_chunk1"}, ids)

	require.NoError(t, idx.Delete(ctx, "org1", []string{"policy_p1_chunk1", "unknown"}))
	got, err = idx.Query(ctx, core.EmbeddingFilter{OrganizationID: "org1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "policy_p1_chunk0", got[0].ID)
}

func TestSameSourceIDInTwoOrganizations(t *testing.T) {
	ctx := context.Background()
	api := newMemPoints()
	idx, err := newIndex(ctx, api, constEmbedder{dim: 4}, "kb", 4)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, []models.EmbeddingChunk{chunk("org1", "p1", 0)}))
	require.NoError(t, idx.Upsert(ctx, []models.EmbeddingChunk{chunk("org2", "p1", 0)}))
	assert.Len(t, api.points, 2)

	require.NoError(t, idx.Delete(ctx, "org2", []string{"policy_p1_chunk0"}))
	got, err := idx.Query(ctx, core.EmbeddingFilter{OrganizationID: "org1", SourceID: "p1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "policy_p1_chunk0", got[0].ID)

	got, err = idx.Query(ctx, core.EmbeddingFilter{OrganizationID: "org2", SourceID: "p1"})
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, idx.Delete(ctx, "", []string{"policy_p1_chunk0"}), core.ErrMissingOrganization)
}

func TestQueryPages(t *testing.T) {
	ctx := context.Background()
	api := newMemPoints()
	idx, err := newIndex(ctx, api, constEmbedder{dim: 2}, "kb", 2)
	require.NoError(t, err)

	var items []models.EmbeddingChunk
	for i := 0; i < scrollPage+10; i++ {
		items = append(items, models.EmbeddingChunk{
			ID:       PointID("org1", string(rune(i))) + "_chunk",
			Text:     "t",
			Metadata: map[string]any{"organizationId": "org1"},
		})
	}
	require.NoError(t, idx.Upsert(ctx, items))

	got, err := idx.Query(ctx, core.EmbeddingFilter{OrganizationID: "org1"})
	require.NoError(t, err)
	assert.Len(t, got, scrollPage+10)
	assert.Equal(t, 2, api.scrollCalls)
}

func TestUpsertRejectsMissingOrganization(t *testing.T) {
	api := newMemPoints()
	idx, err := newIndex(context.Background(), api, constEmbedder{dim: 2}, "kb", 2)
	require.NoError(t, err)

	err = idx.Upsert(context.Background(), []models.EmbeddingChunk{{ID: "x", Text: "t", Metadata: map[string]any{}}})
	assert.ErrorIs(t, err, core.ErrMissingOrganization)
	assert.Empty(t, api.points)
}

func TestUpsertPropagatesClientError(t *testing.T) {
	api := newMemPoints()
	api.upsertErr = errors.New("unavailable")
	idx, err := newIndex(context.Background(), api, constEmbedder{dim: 2}, "kb", 2)
	require.NoError(t, err)

	err = idx.Upsert(context.Background(), []models.EmbeddingChunk{chunk("org1", "p1", 0)})
	assert.EqualError(t, err, "unavailable")
}
