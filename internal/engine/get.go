package engine

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/recallgraph/recalld/internal/fingerprint"
	"github.com/recallgraph/recalld/internal/graphstore"
	"github.com/recallgraph/recalld/internal/models"
	"github.com/recallgraph/recalld/internal/vectorstore"
)

// Get retrieves a single record by ID.
func (e *Engine) Get(ctx context.Context, scope models.Scope, id string) (*models.MemoryRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, wrapf(KindInvalidInput, err, "invalid scope")
	}
	if id == "" {
		return nil, errf(KindInvalidInput, "id must not be empty")
	}
	record, err := e.vectorGet(ctx, scope, id)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return nil, errf(KindNotFound, "record %s not found", id).withRef(id, fingerprint.ScopeHash(scope))
	}
	if err != nil {
		return nil, wrapf(KindVectorStoreUnavailable, err, "fetching record").withRef(id, fingerprint.ScopeHash(scope))
	}
	return record, nil
}

// GetAll pages through every record in the scope. Pass cursor "" for the
// first page; an empty returned cursor means the last page.
func (e *Engine) GetAll(ctx context.Context, scope models.Scope, filters *models.SearchFilters, limit int, cursor string) ([]models.MemoryRecord, string, error) {
	if err := scope.Validate(); err != nil {
		return nil, "", wrapf(KindInvalidInput, err, "invalid scope")
	}
	if limit <= 0 {
		limit = 100
	}
	res, err := e.throughVector(func() (any, error) {
		records, next, err := e.ports.Vectors.List(ctx, scope, filters, uint64(limit), cursor)
		if err != nil {
			return nil, err
		}
		return listPage{records: records, next: next}, nil
	})
	if err != nil {
		return nil, "", wrapf(KindVectorStoreUnavailable, err, "listing records").withRef("", fingerprint.ScopeHash(scope))
	}
	page := res.(listPage)

	// The backend enforces only the simple filters; apply the full quality
	// predicate here.
	now := e.now()
	out := page.records[:0]
	for i := range page.records {
		if filters.Matches(&page.records[i], now) {
			out = append(out, page.records[i])
		}
	}
	return out, page.next, nil
}

type listPage struct {
	records []models.MemoryRecord
	next    string
}

// GetEntityRelationships reports the graph neighborhood of a named entity.
// When the graph store is unavailable or knows nothing about the entity, it
// falls back to a content search and marks the report accordingly.
func (e *Engine) GetEntityRelationships(ctx context.Context, scope models.Scope, entity string) (*models.EntityRelationships, error) {
	if err := scope.Validate(); err != nil {
		return nil, wrapf(KindInvalidInput, err, "invalid scope")
	}
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return nil, errf(KindInvalidInput, "entity name must not be empty")
	}

	res, err := e.throughGraph(func() (any, error) {
		return e.ports.Graph.EntityStats(ctx, scope, entity)
	})
	if err == nil {
		stats := res.(*graphstore.EntityStats)
		if stats != nil && (stats.DirectMentions > 0 || len(stats.RelatedEntities) > 0) {
			related := append([]string(nil), stats.RelatedEntities...)
			sort.Strings(related)
			return &models.EntityRelationships{
				Entity:             entity,
				DirectMentions:     stats.DirectMentions,
				RelatedEntities:    related,
				RelationshipTypes:  stats.RelationTypes,
				ConnectionStrength: connectionStrength(stats.DirectMentions, len(related)),
			}, nil
		}
	} else {
		e.logger.Warn("entity stats unavailable, falling back to search",
			"entity", entity, "error", err)
	}

	// Fallback: vector search for the entity name, surfacing matching
	// records instead of graph statistics.
	res2, err := e.Search(ctx, scope, entity, e.opts.ContextK, &models.SearchFilters{})
	if err != nil {
		return nil, err
	}
	records := make([]models.MemoryRecord, 0, len(res2.Results))
	for _, h := range res2.Results {
		records = append(records, h.Record)
	}
	return &models.EntityRelationships{
		Entity:         entity,
		FallbackSearch: true,
		Records:        records,
	}, nil
}

// connectionStrength maps mention and relation counts to a [0,1] score.
func connectionStrength(mentions, related int) float64 {
	score := float64(mentions)*0.1 + float64(related)*0.15
	if score > 1 {
		score = 1
	}
	return score
}
