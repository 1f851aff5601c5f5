package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbsync/internal/config"
	"github.com/markdave123-py/kbsync/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbsync/internal/models"
)

type nopDispatcher struct{ got []models.TaskPayload }

func (d *nopDispatcher) Dispatch(_ context.Context, p models.TaskPayload) error {
	d.got = append(d.got, p)
	return nil
}

type nopPipeline struct{}

func (nopPipeline) SyncOrganization(context.Context, models.SourceType, string) (models.SyncStats, error) {
	return models.SyncStats{}, nil
}

func (nopPipeline) Purge(context.Context, models.SourceType, string, string) (int, error) {
	return 0, nil
}

func testRouter(t *testing.T, d *nopDispatcher) http.Handler {
	t.Helper()
	cfg := &config.Config{JWTSecret: "s3cret", ChunkSize: 500, ChunkOverlap: 50, TaskMaxDuration: time.Minute}
	r, err := NewRouter(cfg, d, nopPipeline{}, ingestion_engine.NewExtractor(nil))
	require.NoError(t, err)
	return r
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	r := testRouter(t, &nopDispatcher{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSyncRouteRequiresToken(t *testing.T) {
	d := &nopDispatcher{}
	r := testRouter(t, d)

	body := `{"sourceId":"p1","sourceType":"policy"}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, d.got)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"organization_id": "org1"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, d.got, 1)
	assert.Equal(t, "org1", d.got[0].OrganizationID)
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	_, err := NewApp(context.Background(), &config.Config{ChunkSize: 500, ChunkOverlap: 50, TaskWorkers: 1})
	assert.Error(t, err)
}

func TestNewServerRefusesEmptyJWTSecret(t *testing.T) {
	cfg := &config.Config{ChunkSize: 500, ChunkOverlap: 50, TaskMaxDuration: time.Minute}
	_, err := NewServer(cfg, &nopDispatcher{}, nopPipeline{}, ingestion_engine.NewExtractor(nil))
	assert.Error(t, err)
}
