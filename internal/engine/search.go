package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/recallgraph/recalld/internal/cache"
	"github.com/recallgraph/recalld/internal/fingerprint"
	"github.com/recallgraph/recalld/internal/graphstore"
	"github.com/recallgraph/recalld/internal/metrics"
	"github.com/recallgraph/recalld/internal/models"
	"github.com/recallgraph/recalld/internal/vectorstore"
	"github.com/recallgraph/recalld/pkg/tokenizer"
)

// neighborhoodScore is the graph score assigned to records reached only by
// relation traversal, below any direct graph text match.
const neighborhoodScore = 0.5

// Search runs hybrid retrieval over both stores and returns the top k
// results ranked by combined score. A single unavailable store degrades the
// result to the surviving leg instead of failing.
func (e *Engine) Search(ctx context.Context, scope models.Scope, query string, k int, filters *models.SearchFilters) (*models.SearchResult, error) {
	return e.search(ctx, scope, query, k, filters, fingerprint.SearchKey)
}

// GetContext is Search with the active-only preset: min confidence defaults
// to 7 and k to 5, expired and conflicted records excluded. Its results are
// cached in the context key space, apart from plain searches.
func (e *Engine) GetContext(ctx context.Context, scope models.Scope, query string, minConfidence, k int) (*models.SearchResult, error) {
	if minConfidence <= 0 {
		minConfidence = e.opts.ContextMinConfidence
	}
	filters := &models.SearchFilters{
		Statuses:      []models.Status{models.StatusActive},
		MinConfidence: minConfidence,
	}
	return e.search(ctx, scope, query, k, filters, fingerprint.ContextKey)
}

// search is the shared cached retrieval path. keyFn chooses the cache key
// space; degraded results are never cached.
func (e *Engine) search(ctx context.Context, scope models.Scope, query string, k int, filters *models.SearchFilters, keyFn func(models.Scope, string) string) (*models.SearchResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, wrapf(KindInvalidInput, err, "invalid scope")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errf(KindInvalidInput, "query must not be empty")
	}
	if k <= 0 {
		k = e.opts.ContextK
	}
	metrics.Inc(metrics.SearchTotal)

	cacheKey := keyFn(scope, canonicalQuery(query, k, filters))
	if cached, ok := e.cachedResults(ctx, cacheKey); ok {
		metrics.Inc(metrics.SearchCacheHits)
		return &models.SearchResult{Results: cached}, nil
	}

	results, degraded, err := e.retrieve(ctx, scope, query, k, filters)
	if err != nil {
		return nil, err
	}
	if !degraded {
		e.cacheResults(ctx, cacheKey, results)
	}
	return &models.SearchResult{Results: results, Degraded: degraded}, nil
}

// retrieve is the uncached hybrid pipeline: parallel vector and graph
// fanout, rehydration, quality filtering, and ranking. A failed store leg
// sets degraded and leaves the surviving leg's candidates; both legs failing
// is a hard error.
func (e *Engine) retrieve(ctx context.Context, scope models.Scope, query string, k int, filters *models.SearchFilters) ([]models.ScoredMemory, bool, error) {
	var (
		vectorHits []vectorstore.Hit
		graphHits  []graphstore.Hit
		neighbors  []string
		vectorErr  error
		graphErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vector, err := e.ports.Embedder.Embed(gctx, query)
		if err != nil {
			return wrapf(KindEmbedderUnavailable, err, "embedding query")
		}
		res, err := e.throughVector(func() (any, error) {
			return e.ports.Vectors.Search(gctx, scope, vector, uint64(2*k), filters)
		})
		if err != nil {
			vectorErr = err
			e.logger.Warn("vector search unavailable", "scope", scope.String(), "error", err)
			return nil
		}
		vectorHits = res.([]vectorstore.Hit)
		return nil
	})
	g.Go(func() error {
		terms := e.queryTerms(gctx, query)
		if len(terms) == 0 {
			return nil
		}
		res, err := e.throughGraph(func() (any, error) {
			return e.ports.Graph.Search(gctx, scope, terms, 2*k)
		})
		if err != nil {
			graphErr = err
			e.logger.Warn("graph search unavailable", "scope", scope.String(), "error", err)
			return nil
		}
		graphHits = res.([]graphstore.Hit)

		seen := make(map[string]bool)
		for _, term := range terms {
			res, err := e.throughGraph(func() (any, error) {
				return e.ports.Graph.Neighborhood(gctx, scope, term, e.opts.MaxHops)
			})
			if err != nil {
				continue
			}
			for _, id := range res.([]string) {
				if !seen[id] && len(neighbors) < 2*k {
					seen[id] = true
					neighbors = append(neighbors, id)
				}
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		var e2 *Error
		if errors.As(err, &e2) {
			return nil, false, e2
		}
		return nil, false, wrapf(KindInternal, err, "search fanout")
	}
	if vectorErr != nil && graphErr != nil {
		return nil, false, wrapf(KindVectorStoreUnavailable, vectorErr, "both retrieval legs unavailable")
	}
	degraded := vectorErr != nil || graphErr != nil

	// Merge candidates: the vector path carries full records, the graph
	// path only IDs that need rehydration from the vector store.
	graphScores := make(map[string]float64)
	for _, hit := range graphHits {
		if hit.Score > graphScores[hit.ID] {
			graphScores[hit.ID] = hit.Score
		}
	}
	for _, id := range neighbors {
		if graphScores[id] < neighborhoodScore {
			graphScores[id] = neighborhoodScore
		}
	}

	now := e.now()
	candidates := make(map[string]*models.ScoredMemory)
	for _, hit := range vectorHits {
		hit := hit
		candidates[hit.ID] = &models.ScoredMemory{
			Record:      hit.Record,
			VectorScore: hit.Score,
			GraphScore:  graphScores[hit.ID],
		}
	}
	for id, score := range graphScores {
		if _, ok := candidates[id]; ok {
			continue
		}
		record, err := e.rehydrate(ctx, scope, id)
		if err != nil {
			continue
		}
		candidates[id] = &models.ScoredMemory{Record: *record, GraphScore: score}
	}

	// Quality filter, then rank.
	results := make([]models.ScoredMemory, 0, len(candidates))
	for _, c := range candidates {
		if !filters.Matches(&c.Record, now) {
			continue
		}
		results = append(results, *c)
	}
	results = e.ranker.Rank(results, now)
	if len(results) > k {
		results = results[:k]
	}
	return results, degraded, nil
}

// queryTerms extracts graph lookup terms from the query, preferring the
// extractor's entities and falling back to plain tokenization.
func (e *Engine) queryTerms(ctx context.Context, query string) []string {
	ext, err := e.ports.Extractor.Extract(ctx, query)
	if err == nil && len(ext.Entities) > 0 {
		return ext.Entities
	}
	if err != nil {
		e.logger.Debug("query term extraction failed, tokenizing", "error", err)
	}
	return tokenizer.Terms(query)
}

// rehydrate loads a full record for a graph-only candidate, consulting the
// per-record cache first.
func (e *Engine) rehydrate(ctx context.Context, scope models.Scope, id string) (*models.MemoryRecord, error) {
	key := fingerprint.RecordKey(scope, id)
	if blob, err := e.ports.Cache.Get(ctx, key); err == nil {
		var record models.MemoryRecord
		if json.Unmarshal(blob, &record) == nil {
			return &record, nil
		}
	}
	record, err := e.vectorGet(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if blob, err := json.Marshal(record); err == nil {
		_ = e.ports.Cache.Set(ctx, key, blob, e.opts.CacheTTL)
	}
	return record, nil
}

func (e *Engine) cachedResults(ctx context.Context, key string) ([]models.ScoredMemory, bool) {
	blob, err := e.ports.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			e.logger.Debug("cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var results []models.ScoredMemory
	if err := json.Unmarshal(blob, &results); err != nil {
		return nil, false
	}
	return results, true
}

func (e *Engine) cacheResults(ctx context.Context, key string, results []models.ScoredMemory) {
	blob, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := e.ports.Cache.Set(ctx, key, blob, e.opts.CacheTTL); err != nil {
		e.logger.Debug("cache write failed", "key", key, "error", err)
	}
}

// canonicalQuery folds the query and its parameters into one cache-key
// string, so differing k or filters never alias each other.
func canonicalQuery(query string, k int, filters *models.SearchFilters) string {
	var sb strings.Builder
	sb.WriteString(fingerprint.Normalize(query))
	fmt.Fprintf(&sb, "|k=%d", k)
	if filters != nil {
		statuses := make([]string, 0, len(filters.Statuses))
		for _, s := range filters.Statuses {
			statuses = append(statuses, string(s))
		}
		sort.Strings(statuses)
		fmt.Fprintf(&sb, "|st=%s|mc=%d|cat=%s|tag=%s|d=%t|e=%t|c=%t",
			strings.Join(statuses, ","), filters.MinConfidence, filters.Category,
			filters.Tag, filters.IncludeDeprecated, filters.IncludeExpired, filters.IncludeConflicted)
	}
	return sb.String()
}
