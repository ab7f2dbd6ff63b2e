package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallgraph/recalld/internal/models"
)

var testScope = models.Scope{Tenant: "acme", User: "alice"}

func record(id string, status models.Status) models.MemoryRecord {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.MemoryRecord{
		ID:         id,
		Scope:      testScope,
		Content:    "content " + id,
		Category:   models.CategoryGeneric,
		Confidence: 5,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
		Status:     status,
	}
}

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec := record("id-1", models.StatusActive)
	_, err := store.Upsert(ctx, rec, []float32{1, 0})
	require.NoError(t, err)

	got, err := store.Get(ctx, testScope, "id-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)

	// Scope isolation: the same ID is invisible from another scope.
	other := models.Scope{Tenant: "acme", User: "bob"}
	_, err = store.Get(ctx, other, "id-1")
	assert.ErrorIs(t, err, ErrNotFound)

	rec.Status = models.StatusExpired
	require.NoError(t, store.SetRecord(ctx, rec))
	got, err = store.Get(ctx, testScope, "id-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)

	assert.ErrorIs(t, store.SetRecord(ctx, record("missing", models.StatusActive)), ErrNotFound)

	require.NoError(t, store.Delete(ctx, testScope, "id-1"))
	_, err = store.Get(ctx, testScope, "id-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreSearch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Upsert(ctx, record("id-a", models.StatusActive), []float32{1, 0})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, record("id-b", models.StatusActive), []float32{0.9, 0.1})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, record("id-c", models.StatusActive), []float32{0, 1})
	require.NoError(t, err)

	hits, err := store.Search(ctx, testScope, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "id-a", hits[0].ID)
	assert.Equal(t, "id-b", hits[1].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestMemoryStoreSearchFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	active := record("id-active", models.StatusActive)
	active.Category = models.CategoryDecision
	active.Confidence = 9
	active.Tags = []string{"auth"}
	deprecated := record("id-deprecated", models.StatusDeprecated)
	deprecated.SupersededBy = "id-active"

	_, err := store.Upsert(ctx, active, []float32{1, 0})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, deprecated, []float32{1, 0})
	require.NoError(t, err)

	hits, err := store.Search(ctx, testScope, []float32{1, 0}, 10,
		&models.SearchFilters{Statuses: []models.Status{models.StatusActive}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "id-active", hits[0].ID)

	hits, err = store.Search(ctx, testScope, []float32{1, 0}, 10,
		&models.SearchFilters{Category: models.CategoryDecision, MinConfidence: 9, Tag: "auth"})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = store.Search(ctx, testScope, []float32{1, 0}, 10,
		&models.SearchFilters{Tag: "db"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryStoreListPagination(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, id := range []string{"id-1", "id-2", "id-3", "id-4", "id-5"} {
		_, err := store.Upsert(ctx, record(id, models.StatusActive), []float32{1})
		require.NoError(t, err)
	}

	var all []string
	cursor := ""
	for {
		page, next, err := store.List(ctx, testScope, nil, 2, cursor)
		require.NoError(t, err)
		for _, r := range page {
			all = append(all, r.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Equal(t, []string{"id-1", "id-2", "id-3", "id-4", "id-5"}, all)
}

func TestMemoryStoreScopes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	scopes, err := store.Scopes(ctx)
	require.NoError(t, err)
	assert.Empty(t, scopes)

	_, err = store.Upsert(ctx, record("id-1", models.StatusActive), []float32{1})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, record("id-2", models.StatusActive), []float32{1})
	require.NoError(t, err)
	other := record("id-3", models.StatusActive)
	other.Scope = models.Scope{Tenant: "acme", User: "bob"}
	_, err = store.Upsert(ctx, other, []float32{1})
	require.NoError(t, err)

	scopes, err = store.Scopes(ctx)
	require.NoError(t, err)
	require.Len(t, scopes, 2, "one entry per distinct scope")
	assert.ElementsMatch(t, []models.Scope{testScope, other.Scope}, scopes)
}

func TestMemoryStoreFailInjection(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := errors.New("backend down")

	store.Fail(boom)
	_, err := store.Upsert(ctx, record("id-1", models.StatusActive), []float32{1})
	assert.ErrorIs(t, err, boom)
	_, err = store.Get(ctx, testScope, "id-1")
	assert.ErrorIs(t, err, boom)

	store.Fail(nil)
	_, err = store.Upsert(ctx, record("id-1", models.StatusActive), []float32{1})
	assert.NoError(t, err)
}

func TestMemoryStoreCopiesRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec := record("id-1", models.StatusActive)
	rec.Tags = []string{"one"}
	_, err := store.Upsert(ctx, rec, []float32{1})
	require.NoError(t, err)

	rec.Tags[0] = "mutated"
	got, err := store.Get(ctx, testScope, "id-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, got.Tags)
}
