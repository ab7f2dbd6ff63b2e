// Package graphstore defines the knowledge graph port and its adapters.
// Entity nodes are deduplicated per scope; relation edges and record
// references belong to the record that produced them.
package graphstore

import (
	"context"

	"github.com/recallgraph/recalld/internal/models"
)

// Hit is one scored graph search result. The score reflects subgraph
// proximity in [0,1].
type Hit struct {
	ID    string
	Score float64
}

// Store is the knowledge graph port. All operations are scope-qualified.
type Store interface {
	// MergeEntity creates the entity node in the scope if missing.
	MergeEntity(ctx context.Context, scope models.Scope, name string) error

	// MergeRelation creates the typed edge between two entities and ties it
	// to the producing record.
	MergeRelation(ctx context.Context, scope models.Scope, src, rel, dst, recordID string) error

	// Mention links a record to an entity without a typed relation, for
	// records whose extraction produced entities but no triples.
	Mention(ctx context.Context, scope models.Scope, recordID, entity string) error

	// DetachRecord removes every edge and reference owned by the record.
	// Entity nodes shared with other records survive.
	DetachRecord(ctx context.Context, scope models.Scope, id string) error

	// Search returns records whose graph payload matches the query terms.
	Search(ctx context.Context, scope models.Scope, terms []string, k int) ([]Hit, error)

	// Neighborhood returns the IDs of records reachable from the entity
	// within maxHops relation hops.
	Neighborhood(ctx context.Context, scope models.Scope, entity string, maxHops int) ([]string, error)

	// EntityStats describes an entity's direct mentions and related
	// entities for relationship reports.
	EntityStats(ctx context.Context, scope models.Scope, entity string) (*EntityStats, error)

	// Close releases the backend connection.
	Close(ctx context.Context) error
}

// EntityStats summarizes one entity's graph neighborhood.
type EntityStats struct {
	Entity          string
	DirectMentions  int
	RelatedEntities []string
	RelationTypes   []string
}
