package ingestion_engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/internal/models"
)

type recordKey struct {
	org string
	typ models.SourceType
	id  string
}

type fakeStore struct {
	mu       sync.Mutex
	records  map[recordKey]models.SourceRecord
	statuses []models.StatusUpdate
	finds    int
}

func newFakeStore(recs ...models.SourceRecord) *fakeStore {
	s := &fakeStore{records: make(map[recordKey]models.SourceRecord)}
	for _, r := range recs {
		s.put(r)
	}
	return s
}

func (s *fakeStore) put(r models.SourceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey{r.OrganizationID, r.Type, r.ID}] = r
}

func (s *fakeStore) get(org string, t models.SourceType, id string) models.SourceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[recordKey{org, t, id}]
}

func (s *fakeStore) Find(_ context.Context, t models.SourceType, id, org string) (*models.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	r, ok := s.records[recordKey{org, t, id}]
	if !ok {
		return nil, core.ErrSourceNotFound
	}
	return &r, nil
}

func (s *fakeStore) List(_ context.Context, t models.SourceType, org string) ([]models.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SourceRecord
	for k, r := range s.records {
		if k.typ == t && k.org == org {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) UpdateProcessingStatus(_ context.Context, t models.SourceType, id, org string, upd models.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{org, t, id}
	r, ok := s.records[k]
	if !ok {
		return core.ErrSourceNotFound
	}
	r.ProcessingStatus = upd.Status
	if upd.ProcessedAt != nil {
		r.ProcessedAt = upd.ProcessedAt
	}
	r.ProcessingError = upd.Error
	s.records[k] = r
	s.statuses = append(s.statuses, upd)
	return nil
}

func (s *fakeStore) Close() error { return nil }

type fakeObjects struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
	reads []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{files: make(map[string][]byte)}
}

func (o *fakeObjects) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reads = append(o.reads, bucket+"/"+key)
	if o.err != nil {
		return nil, o.err
	}
	b, ok := o.files[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return b, nil
}

// fakeIndex is an in-memory index keyed by organization and chunk id that
// honours the tenant filter the way a real backend does: by metadata.
type fakeIndex struct {
	mu        sync.Mutex
	items     map[string]models.EmbeddingChunk
	upserts   [][]models.EmbeddingChunk
	deletes   [][]string
	queries   int
	upsertErr error
	deleteErr error

	// failUpsertCall fails only the n-th upsert call (1-based) with upsertErr.
	failUpsertCall int
	upsertCalls    int
}

func indexKey(org, id string) string { return org + "/" + id }

func newFakeIndex() *fakeIndex {
	return &fakeIndex{items: make(map[string]models.EmbeddingChunk)}
}

func (f *fakeIndex) Upsert(_ context.Context, items []models.EmbeddingChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if f.upsertErr != nil && (f.failUpsertCall == 0 || f.failUpsertCall == f.upsertCalls) {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, items)
	for _, it := range items {
		org, _ := it.Metadata[MetaOrganizationID].(string)
		f.items[indexKey(org, it.ID)] = it
	}
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, org string, ids []string) error {
	if org == "" {
		return core.ErrMissingOrganization
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, ids)
	for _, id := range ids {
		delete(f.items, indexKey(org, id))
	}
	return nil
}

func (f *fakeIndex) Query(_ context.Context, filter core.EmbeddingFilter) ([]models.ExistingEmbedding, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	var out []models.ExistingEmbedding
	for _, it := range f.items {
		m := it.Metadata
		if m[MetaOrganizationID] != filter.OrganizationID {
			continue
		}
		if filter.SourceType != "" && m[MetaSourceType] != string(filter.SourceType) {
			continue
		}
		if filter.SourceID != "" && m[MetaSourceID] != filter.SourceID {
			continue
		}
		ts, _ := m[MetaUpdatedAt].(string)
		out = append(out, models.ExistingEmbedding{ID: it.ID, UpdatedAt: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeIndex) Close() error { return nil }

func (f *fakeIndex) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.items))
	for _, it := range f.items {
		out = append(out, it.ID)
	}
	sort.Strings(out)
	return out
}

func (f *fakeIndex) item(org, id string) models.EmbeddingChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[indexKey(org, id)]
}

func (f *fakeIndex) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts) + len(f.deletes)
}
