package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/recallgraph/recalld/internal/models"
)

// MemoryStore is an in-memory implementation of Store for tests and
// single-node development. Search uses exact cosine similarity.
type MemoryStore struct {
	mu      sync.RWMutex
	points  map[string]*storedPoint
	failErr error
}

type storedPoint struct {
	record models.MemoryRecord
	vector []float32
}

// NewMemoryStore creates an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]*storedPoint)}
}

// Fail makes every subsequent call return err. Pass nil to heal the store.
func (m *MemoryStore) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *MemoryStore) failing() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failErr
}

// EnsureCollection is a no-op for the in-memory store.
func (m *MemoryStore) EnsureCollection(_ context.Context) error {
	return m.failing()
}

// Upsert stores a deep copy of the record with its vector.
func (m *MemoryStore) Upsert(_ context.Context, record models.MemoryRecord, vector []float32) (string, error) {
	if err := m.failing(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	vec := make([]float32, len(vector))
	copy(vec, vector)
	m.points[record.ID] = &storedPoint{record: copyRecord(record), vector: vec}
	return record.ID, nil
}

// SetRecord replaces the payload of an existing point.
func (m *MemoryStore) SetRecord(_ context.Context, record models.MemoryRecord) error {
	if err := m.failing(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.points[record.ID]
	if !ok {
		return ErrNotFound
	}
	sp.record = copyRecord(record)
	return nil
}

// Delete removes a record by ID within a scope.
func (m *MemoryStore) Delete(_ context.Context, scope models.Scope, id string) error {
	if err := m.failing(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.points[id]
	if !ok || sp.record.Scope.Canonical() != scope.Canonical() {
		return ErrNotFound
	}
	delete(m.points, id)
	return nil
}

// Get retrieves a record by ID within a scope.
func (m *MemoryStore) Get(_ context.Context, scope models.Scope, id string) (*models.MemoryRecord, error) {
	if err := m.failing(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	sp, ok := m.points[id]
	if !ok || sp.record.Scope.Canonical() != scope.Canonical() {
		return nil, ErrNotFound
	}
	rec := copyRecord(sp.record)
	return &rec, nil
}

// Search finds records by cosine similarity to the query vector.
func (m *MemoryStore) Search(_ context.Context, scope models.Scope, vector []float32, k uint64, filters *models.SearchFilters) ([]Hit, error) {
	if err := m.failing(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, sp := range m.points {
		if sp.record.Scope.Canonical() != scope.Canonical() {
			continue
		}
		if !matchesBackendFilter(&sp.record, filters) {
			continue
		}
		hits = append(hits, Hit{
			ID:     sp.record.ID,
			Score:  cosineSimilarity(vector, sp.vector),
			Record: copyRecord(sp.record),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if uint64(len(hits)) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// List returns records in the scope in stable ID order. The cursor is the
// last ID of the previous page.
func (m *MemoryStore) List(_ context.Context, scope models.Scope, filters *models.SearchFilters, limit uint64, cursor string) ([]models.MemoryRecord, string, error) {
	if err := m.failing(); err != nil {
		return nil, "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.points))
	for id, sp := range m.points {
		if sp.record.Scope.Canonical() != scope.Canonical() {
			continue
		}
		if !matchesBackendFilter(&sp.record, filters) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}

	var records []models.MemoryRecord
	next := ""
	for i := start; i < len(ids); i++ {
		if uint64(len(records)) == limit {
			next = ids[i-1]
			break
		}
		records = append(records, copyRecord(m.points[ids[i]].record))
	}
	return records, next, nil
}

// Scopes enumerates every distinct scope with at least one record, in
// canonical order.
func (m *MemoryStore) Scopes(_ context.Context) ([]models.Scope, error) {
	if err := m.failing(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]models.Scope)
	for _, sp := range m.points {
		seen[sp.record.Scope.Canonical()] = sp.record.Scope
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	scopes := make([]models.Scope, 0, len(keys))
	for _, key := range keys {
		scopes = append(scopes, seen[key])
	}
	return scopes, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

// matchesBackendFilter mirrors what the Qdrant payload filter enforces
// server-side: single-status, category, tag, and min-confidence conditions.
// The engine applies the full quality filter after rehydration.
func matchesBackendFilter(rec *models.MemoryRecord, f *models.SearchFilters) bool {
	if f == nil {
		return true
	}
	if len(f.Statuses) == 1 && rec.Status != f.Statuses[0] {
		return false
	}
	if f.Category != "" && rec.Category != f.Category {
		return false
	}
	if f.MinConfidence > 0 && rec.Confidence < f.MinConfidence {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range rec.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func copyRecord(rec models.MemoryRecord) models.MemoryRecord {
	out := rec
	if len(rec.Tags) > 0 {
		out.Tags = append([]string(nil), rec.Tags...)
	}
	if len(rec.Entities) > 0 {
		out.Entities = append([]string(nil), rec.Entities...)
	}
	if len(rec.Relations) > 0 {
		out.Relations = append([]models.Relation(nil), rec.Relations...)
	}
	if len(rec.ConflictWith) > 0 {
		out.ConflictWith = append([]string(nil), rec.ConflictWith...)
	}
	if len(rec.Extra) > 0 {
		out.Extra = make(map[string]string, len(rec.Extra))
		for k, v := range rec.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
