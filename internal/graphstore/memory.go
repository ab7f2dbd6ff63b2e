package graphstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/recallgraph/recalld/internal/fingerprint"
	"github.com/recallgraph/recalld/internal/models"
)

// MemoryGraph is an in-memory implementation of Store for tests and
// single-node development.
type MemoryGraph struct {
	mu      sync.RWMutex
	scopes  map[string]*scopeGraph
	failErr error
}

type edge struct {
	src, rel, dst, recordID string
}

type scopeGraph struct {
	entities map[string]bool
	edges    []edge
	mentions map[string]map[string]bool // record id -> entity set
}

// NewMemoryGraph creates an empty in-memory graph store.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{scopes: make(map[string]*scopeGraph)}
}

// Fail makes every subsequent call return err. Pass nil to heal the store.
func (g *MemoryGraph) Fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failErr = err
}

// scope returns the scope's graph, creating it if missing. Callers must hold
// the write lock.
func (g *MemoryGraph) scope(scope models.Scope) *scopeGraph {
	key := fingerprint.ScopeHash(scope)
	sg, ok := g.scopes[key]
	if !ok {
		sg = &scopeGraph{
			entities: make(map[string]bool),
			mentions: make(map[string]map[string]bool),
		}
		g.scopes[key] = sg
	}
	return sg
}

// view returns the scope's graph without mutating the map, so readers can
// call it under the read lock. Nil means the scope has no graph data yet.
func (g *MemoryGraph) view(scope models.Scope) *scopeGraph {
	return g.scopes[fingerprint.ScopeHash(scope)]
}

// MergeEntity records the entity node.
func (g *MemoryGraph) MergeEntity(_ context.Context, scope models.Scope, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return g.failErr
	}
	g.scope(scope).entities[name] = true
	return nil
}

// MergeRelation records the edge and both mention links.
func (g *MemoryGraph) MergeRelation(_ context.Context, scope models.Scope, src, rel, dst, recordID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return g.failErr
	}
	sg := g.scope(scope)
	sg.entities[src] = true
	sg.entities[dst] = true
	for _, e := range sg.edges {
		if e == (edge{src, rel, dst, recordID}) {
			return nil
		}
	}
	sg.edges = append(sg.edges, edge{src, rel, dst, recordID})
	g.mention(sg, recordID, src)
	g.mention(sg, recordID, dst)
	return nil
}

// Mention links a record to an entity without a typed relation. The engine
// uses it for records whose extraction produced entities but no triples.
func (g *MemoryGraph) Mention(_ context.Context, scope models.Scope, recordID, entity string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return g.failErr
	}
	sg := g.scope(scope)
	sg.entities[entity] = true
	g.mention(sg, recordID, entity)
	return nil
}

func (g *MemoryGraph) mention(sg *scopeGraph, recordID, entity string) {
	set, ok := sg.mentions[recordID]
	if !ok {
		set = make(map[string]bool)
		sg.mentions[recordID] = set
	}
	set[entity] = true
}

// DetachRecord removes the record's edges and mention links.
func (g *MemoryGraph) DetachRecord(_ context.Context, scope models.Scope, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return g.failErr
	}
	sg := g.scope(scope)
	kept := sg.edges[:0]
	for _, e := range sg.edges {
		if e.recordID != id {
			kept = append(kept, e)
		}
	}
	sg.edges = kept
	delete(sg.mentions, id)
	return nil
}

// Search scores records by matched query terms over their mentioned entities.
func (g *MemoryGraph) Search(_ context.Context, scope models.Scope, terms []string, k int) ([]Hit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.failErr != nil {
		return nil, g.failErr
	}
	if len(terms) == 0 {
		return nil, nil
	}
	sg := g.view(scope)
	if sg == nil {
		return nil, nil
	}

	var hits []Hit
	for recordID, entities := range sg.mentions {
		matched := 0
		for entity := range entities {
			lower := strings.ToLower(entity)
			for _, t := range terms {
				if strings.Contains(lower, strings.ToLower(t)) {
					matched++
					break
				}
			}
		}
		if matched > 0 {
			hits = append(hits, Hit{ID: recordID, Score: float64(matched) / float64(len(terms))})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Neighborhood walks the undirected entity graph breadth-first up to maxHops
// and collects every record mentioning a reached entity.
func (g *MemoryGraph) Neighborhood(_ context.Context, scope models.Scope, entity string, maxHops int) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.failErr != nil {
		return nil, g.failErr
	}
	sg := g.view(scope)
	if sg == nil || !sg.entities[entity] {
		return nil, nil
	}

	reached := map[string]bool{entity: true}
	frontier := []string{entity}
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			for _, e := range sg.edges {
				var other string
				switch cur {
				case e.src:
					other = e.dst
				case e.dst:
					other = e.src
				default:
					continue
				}
				if !reached[other] {
					reached[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	idSet := make(map[string]bool)
	for recordID, entities := range sg.mentions {
		for e := range entities {
			if reached[e] {
				idSet[recordID] = true
				break
			}
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// EntityStats summarizes one entity's neighborhood.
func (g *MemoryGraph) EntityStats(_ context.Context, scope models.Scope, entity string) (*EntityStats, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.failErr != nil {
		return nil, g.failErr
	}
	sg := g.view(scope)
	stats := &EntityStats{Entity: entity}
	if sg == nil {
		return stats, nil
	}
	for _, entities := range sg.mentions {
		if entities[entity] {
			stats.DirectMentions++
		}
	}
	relatedSet := make(map[string]bool)
	typeSet := make(map[string]bool)
	for _, e := range sg.edges {
		switch entity {
		case e.src:
			relatedSet[e.dst] = true
			typeSet[e.rel] = true
		case e.dst:
			relatedSet[e.src] = true
			typeSet[e.rel] = true
		}
	}
	for name := range relatedSet {
		stats.RelatedEntities = append(stats.RelatedEntities, name)
	}
	for t := range typeSet {
		stats.RelationTypes = append(stats.RelationTypes, t)
	}
	sort.Strings(stats.RelatedEntities)
	sort.Strings(stats.RelationTypes)
	return stats, nil
}

// Close is a no-op for the in-memory graph.
func (g *MemoryGraph) Close(_ context.Context) error { return nil }
