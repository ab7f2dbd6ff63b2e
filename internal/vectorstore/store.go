// Package vectorstore defines the vector index port and its adapters. The
// vector store is the system of record for rehydration: every point carries
// the full serialized record in its payload.
package vectorstore

import (
	"context"
	"errors"

	"github.com/recallgraph/recalld/internal/models"
)

// ErrNotFound is returned by Get when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Hit is one scored search result. Scores are in [0,1], higher = closer.
type Hit struct {
	ID     string
	Score  float64
	Record models.MemoryRecord
}

// Store is the vector index port. All operations are scope-qualified; an
// adapter must never return records from another scope.
type Store interface {
	// EnsureCollection provisions the vector collection if missing.
	EnsureCollection(ctx context.Context) error

	// Upsert writes a record and its vector, returning the opaque embedding
	// reference the backend assigned.
	Upsert(ctx context.Context, record models.MemoryRecord, vector []float32) (string, error)

	// SetRecord replaces the stored payload of an existing point without
	// touching its vector. Used for status transitions.
	SetRecord(ctx context.Context, record models.MemoryRecord) error

	// Delete removes a record by ID within a scope.
	Delete(ctx context.Context, scope models.Scope, id string) error

	// Get retrieves a single record by ID within a scope.
	Get(ctx context.Context, scope models.Scope, id string) (*models.MemoryRecord, error)

	// Search finds the k records most similar to the query vector, after
	// applying the filter.
	Search(ctx context.Context, scope models.Scope, vector []float32, k uint64, filters *models.SearchFilters) ([]Hit, error)

	// List pages through all records in a scope. cursor is opaque; pass ""
	// for the first page. The returned cursor is empty on the last page.
	List(ctx context.Context, scope models.Scope, filters *models.SearchFilters, limit uint64, cursor string) ([]models.MemoryRecord, string, error)

	// Scopes enumerates every distinct scope holding at least one record.
	// This is the one unscoped read: it backs the operator-wide audit.
	Scopes(ctx context.Context) ([]models.Scope, error)

	// Close releases the backend connection.
	Close() error
}
