// Package extractor defines the entity/relationship extraction port.
// Extraction failures are non-fatal everywhere: a record with an empty graph
// payload is better than no record, so adapters degrade instead of erroring.
package extractor

import (
	"context"

	"github.com/recallgraph/recalld/internal/models"
)

// Extraction is the graph payload pulled from a piece of content.
type Extraction struct {
	Entities  []string
	Relations []models.Relation
}

// Extractor pulls (entity, relation, entity) triples from text.
type Extractor interface {
	// Extract returns the entities and relations found in content.
	// Empty results are valid; errors mark the extractor unavailable.
	Extract(ctx context.Context, content string) (Extraction, error)
}
