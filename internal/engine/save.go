package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/recallgraph/recalld/internal/events"
	"github.com/recallgraph/recalld/internal/fingerprint"
	"github.com/recallgraph/recalld/internal/locks"
	"github.com/recallgraph/recalld/internal/metrics"
	"github.com/recallgraph/recalld/internal/models"
	"github.com/recallgraph/recalld/internal/vectorstore"
)

// SaveRequest is the input to Save. Confidence 0 and a zero ExpiresAt select
// the category defaults.
type SaveRequest struct {
	Content    string            `json:"content"`
	Category   models.Category   `json:"category"`
	Confidence int               `json:"confidence,omitempty"`
	Source     string            `json:"source,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`

	// Milestone fields, honored only when Category is milestone.
	MilestoneType models.MilestoneType `json:"milestone_type,omitempty"`
	ImpactLevel   int                  `json:"impact_level,omitempty"`
}

// conflictCandidateLimit bounds how many near-duplicates the conflict pass
// inspects per save.
const conflictCandidateLimit = 10

// Save stores a memory, coordinating the dual write across both stores.
// Saves are idempotent per (scope, normalized content): re-saving identical
// content returns the existing record without touching the backends.
func (e *Engine) Save(ctx context.Context, scope models.Scope, req SaveRequest) (*models.SaveResult, error) {
	record, err := e.buildRecord(scope, req)
	if err != nil {
		return nil, err
	}
	scopeHash := fingerprint.ScopeHash(scope)

	var result *models.SaveResult
	lockKey := fingerprint.WriteLockKey(scope, record.ID)
	lockErr := locks.WithLock(ctx, e.ports.Locks, lockKey, e.holderID, e.opts.LockTTL, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = e.saveLocked(ctx, scope, record)
		return innerErr
	})
	switch {
	case errors.Is(lockErr, locks.ErrContended):
		return nil, errf(KindContended, "write in progress for record %s", record.ID).withRef(record.ID, scopeHash)
	case lockErr != nil:
		var e2 *Error
		if errors.As(lockErr, &e2) {
			return nil, e2
		}
		return nil, wrapf(KindLockManagerUnavailable, lockErr, "acquiring write lock").withRef(record.ID, scopeHash)
	}
	metrics.Inc(metrics.SaveTotal)
	e.sweeper.observe(scope, record.ExpiresAt)
	return result, nil
}

// SaveVerified is Save with provenance requirements: a source is mandatory
// and confidence must be at least 7.
func (e *Engine) SaveVerified(ctx context.Context, scope models.Scope, req SaveRequest) (*models.SaveResult, error) {
	if strings.TrimSpace(req.Source) == "" {
		return nil, errf(KindInvalidInput, "verified save requires a source")
	}
	if req.Confidence < 7 {
		return nil, errf(KindInvalidInput, "verified save requires confidence >= 7, got %d", req.Confidence)
	}
	return e.Save(ctx, scope, req)
}

// SaveMilestone stores a typed project milestone and returns the full record.
// A status_change milestone supersedes any prior active status_change
// milestones in the same scope: the project has one current status.
func (e *Engine) SaveMilestone(ctx context.Context, scope models.Scope, req SaveRequest) (*models.MemoryRecord, error) {
	req.Category = models.CategoryMilestone
	if req.ImpactLevel == 0 {
		req.ImpactLevel = 5
	}
	req.Tags = appendMissing(req.Tags, "milestone", string(req.MilestoneType))
	result, err := e.Save(ctx, scope, req)
	if err != nil {
		return nil, err
	}
	if result.Created && req.MilestoneType == models.MilestoneStatusChange {
		e.supersedeStatusMilestones(ctx, scope, result.ID)
	}
	return e.Get(ctx, scope, result.ID)
}

// supersedeStatusMilestones deprecates every active status_change milestone
// other than newID. Best-effort: a failed page or write leaves the older
// milestone active and is only logged.
func (e *Engine) supersedeStatusMilestones(ctx context.Context, scope models.Scope, newID string) {
	scopeHash := fingerprint.ScopeHash(scope)
	filters := &models.SearchFilters{
		Category: models.CategoryMilestone,
		Statuses: []models.Status{models.StatusActive},
	}
	now := e.now()

	cursor := ""
	for {
		page, next, err := e.ports.Vectors.List(ctx, scope, filters, 100, cursor)
		if err != nil {
			e.logger.Warn("listing prior status milestones failed", "error", err)
			return
		}
		for _, prior := range page {
			if prior.ID == newID || prior.MilestoneType != models.MilestoneStatusChange {
				continue
			}
			prior.Status = models.StatusDeprecated
			prior.SupersededBy = newID
			prior.Version++
			prior.UpdatedAt = now
			if err := e.ports.Vectors.SetRecord(ctx, prior); err != nil {
				e.logger.Warn("superseding status milestone failed", "id", prior.ID, "error", err)
				continue
			}
			e.publish(ctx, events.Event{
				Topic:     events.TopicDeprecated,
				ID:        prior.ID,
				ScopeHash: scopeHash,
				Extra:     map[string]string{"superseded_by": newID},
			})
		}
		if next == "" {
			return
		}
		cursor = next
	}
}

// buildRecord validates the request and assembles the record shell, applying
// category defaults for confidence and expiry.
func (e *Engine) buildRecord(scope models.Scope, req SaveRequest) (models.MemoryRecord, error) {
	var zero models.MemoryRecord
	if err := scope.Validate(); err != nil {
		return zero, wrapf(KindInvalidInput, err, "invalid scope")
	}
	if strings.TrimSpace(req.Content) == "" {
		return zero, errf(KindInvalidInput, "content must not be empty")
	}
	if req.Category == "" {
		req.Category = models.CategoryGeneric
	}
	if !req.Category.IsValid() {
		return zero, errf(KindInvalidInput, "invalid category %q", req.Category)
	}
	defaults := models.CategoryDefaults[req.Category]
	if req.Confidence == 0 {
		req.Confidence = defaults.Confidence
	}
	if req.Confidence < 1 || req.Confidence > 10 {
		return zero, errf(KindInvalidInput, "confidence %d out of range 1..10", req.Confidence)
	}

	now := e.now()
	record := models.MemoryRecord{
		ID:            fingerprint.Record(scope, req.Content),
		Scope:         scope,
		Content:       req.Content,
		Category:      req.Category,
		Confidence:    req.Confidence,
		Source:        req.Source,
		Tags:          req.Tags,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     req.ExpiresAt,
		Version:       1,
		Status:        models.StatusActive,
		Extra:         req.Extra,
		MilestoneType: req.MilestoneType,
		ImpactLevel:   req.ImpactLevel,
	}
	if record.ExpiresAt.IsZero() && defaults.TTL > 0 {
		record.ExpiresAt = now.Add(defaults.TTL)
	}
	if err := record.Validate(); err != nil {
		return zero, wrapf(KindInvalidInput, err, "invalid record")
	}
	return record, nil
}

// saveLocked runs the write pipeline while holding the record's write lock.
func (e *Engine) saveLocked(ctx context.Context, scope models.Scope, record models.MemoryRecord) (*models.SaveResult, error) {
	scopeHash := fingerprint.ScopeHash(scope)

	// Idempotency: the fingerprint guarantees the existing record carries
	// the same normalized content.
	existing, err := e.vectorGet(ctx, scope, record.ID)
	if err == nil {
		metrics.Inc(metrics.SaveIdempotent)
		e.logger.Debug("idempotent re-save", "id", record.ID, "scope", scope.String())
		return &models.SaveResult{
			ID:       existing.ID,
			Status:   existing.Status,
			Created:  false,
			Degraded: existing.Degraded,
		}, nil
	}
	if !errors.Is(err, vectorstore.ErrNotFound) {
		return nil, wrapf(KindVectorStoreUnavailable, err, "idempotency check").withRef(record.ID, scopeHash)
	}

	// Fanout to the embedder and extractor. The embedder is load-bearing,
	// the extractor is best-effort.
	var vector []float32
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := e.ports.Embedder.Embed(gctx, record.Content)
		if err != nil {
			return wrapf(KindEmbedderUnavailable, err, "embedding content")
		}
		vector = v
		return nil
	})
	g.Go(func() error {
		ext, err := e.ports.Extractor.Extract(gctx, record.Content)
		if err != nil {
			e.logger.Warn("extraction failed, storing without graph payload",
				"id", record.ID, "error", err)
			record.ExtractionFailed = true
			return nil
		}
		record.Entities = ext.Entities
		record.Relations = ext.Relations
		return nil
	})
	if err := g.Wait(); err != nil {
		var e2 *Error
		if errors.As(err, &e2) {
			return nil, e2.withRef(record.ID, scopeHash)
		}
		return nil, wrapf(KindInternal, err, "save fanout").withRef(record.ID, scopeHash)
	}

	// Conflict detection against near-duplicates in the same category.
	conflicts, flagged := e.detectConflicts(ctx, scope, &record, vector)

	// Dual write: vector first, graph second. A single failed leg degrades
	// the write and hands completion to the compensation queue.
	vectorErr := e.vectorUpsert(ctx, record, vector)
	graphErr := e.graphWrite(ctx, scope, record)
	if vectorErr != nil && graphErr != nil {
		return nil, wrapf(KindVectorStoreUnavailable, vectorErr, "dual write failed on both legs").withRef(record.ID, scopeHash)
	}
	degraded := vectorErr != nil || graphErr != nil
	if degraded {
		record.Degraded = true
		metrics.Inc(metrics.SaveDegraded)
		if vectorErr != nil {
			e.logger.Warn("vector leg failed, compensating", "id", record.ID, "error", vectorErr)
			e.comp.enqueue(compensationTask{Kind: compensateVector, Record: record, Vector: vector})
		} else {
			e.logger.Warn("graph leg failed, compensating", "id", record.ID, "error", graphErr)
			// Persist the degraded flag so reads surface it until the
			// graph leg completes.
			if err := e.ports.Vectors.SetRecord(ctx, record); err != nil {
				e.logger.Warn("persisting degraded flag failed", "id", record.ID, "error", err)
			}
			e.comp.enqueue(compensationTask{Kind: compensateGraph, Record: record})
		}
	}

	// Second conflict pass: flag the older peers by mutation.
	e.flagPeers(ctx, scope, record.ID, flagged)

	topic := events.TopicCreated
	extra := map[string]string{"category": string(record.Category)}
	if record.Status == models.StatusConflicted {
		topic = events.TopicConflicted
		extra["conflict_with"] = strings.Join(record.ConflictWith, ",")
	}
	e.publish(ctx, events.Event{Topic: topic, ID: record.ID, ScopeHash: scopeHash, Extra: extra})
	e.invalidateScope(ctx, scope, scopeHash)

	return &models.SaveResult{
		ID:        record.ID,
		Status:    record.Status,
		Created:   true,
		Conflicts: conflicts,
		Degraded:  degraded,
	}, nil
}

// detectConflicts finds same-category near-duplicates above the similarity
// threshold and runs the textual conflict tests against them. On conflict the
// new record is marked conflicted in place; the peer records to flag are
// returned for the second pass.
func (e *Engine) detectConflicts(ctx context.Context, scope models.Scope, record *models.MemoryRecord, vector []float32) ([]models.ConflictRef, []models.MemoryRecord) {
	filters := &models.SearchFilters{
		Category:          record.Category,
		IncludeConflicted: true,
	}
	res, err := e.throughVector(func() (any, error) {
		return e.ports.Vectors.Search(ctx, scope, vector, conflictCandidateLimit, filters)
	})
	if err != nil {
		e.logger.Warn("conflict candidate search failed", "id", record.ID, "error", err)
		return nil, nil
	}
	hits := res.([]vectorstore.Hit)

	var candidates []models.MemoryRecord
	for _, hit := range hits {
		if hit.Score < e.opts.ConflictThreshold || hit.ID == record.ID {
			continue
		}
		if hit.Record.Status == models.StatusDeprecated || hit.Record.Status == models.StatusExpired {
			continue
		}
		candidates = append(candidates, hit.Record)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	findings := e.detector.Check(record.Content, record.Tags, candidates)
	if len(findings) == 0 {
		return nil, nil
	}

	byID := make(map[string]models.MemoryRecord, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}
	var refs []models.ConflictRef
	var flagged []models.MemoryRecord
	for _, f := range findings {
		refs = append(refs, models.ConflictRef{ID: f.CandidateID, Reason: f.Reason})
		record.ConflictWith = append(record.ConflictWith, f.CandidateID)
		flagged = append(flagged, byID[f.CandidateID])
	}
	record.Status = models.StatusConflicted
	metrics.Inc(metrics.ConflictsDetected)
	e.logger.Info("conflict detected", "id", record.ID, "peers", len(refs), "scope", scope.String())
	return refs, flagged
}

// flagPeers marks the older conflict peers as conflicted, citing the new
// record. Detection stays advisory: peers are flagged, never deprecated.
func (e *Engine) flagPeers(ctx context.Context, scope models.Scope, newID string, peers []models.MemoryRecord) {
	for _, peer := range peers {
		peer.Status = models.StatusConflicted
		peer.ConflictWith = appendMissing(peer.ConflictWith, newID)
		peer.UpdatedAt = e.now()
		if err := e.ports.Vectors.SetRecord(ctx, peer); err != nil {
			e.logger.Warn("flagging conflict peer failed", "id", peer.ID, "error", err)
			continue
		}
		e.publish(ctx, events.Event{
			Topic:     events.TopicConflicted,
			ID:        peer.ID,
			ScopeHash: fingerprint.ScopeHash(scope),
			Extra:     map[string]string{"conflict_with": newID},
		})
	}
}

// vectorGet fetches a record through the vector breaker.
func (e *Engine) vectorGet(ctx context.Context, scope models.Scope, id string) (*models.MemoryRecord, error) {
	res, err := e.throughVector(func() (any, error) {
		rec, err := e.ports.Vectors.Get(ctx, scope, id)
		if errors.Is(err, vectorstore.ErrNotFound) {
			// Absence is an answer, not a backend failure; keep it out of
			// the breaker's failure counts.
			return (*models.MemoryRecord)(nil), nil
		}
		return rec, err
	})
	if err != nil {
		return nil, err
	}
	rec := res.(*models.MemoryRecord)
	if rec == nil {
		return nil, vectorstore.ErrNotFound
	}
	return rec, nil
}

func (e *Engine) vectorUpsert(ctx context.Context, record models.MemoryRecord, vector []float32) error {
	_, err := e.throughVector(func() (any, error) {
		ref, err := e.ports.Vectors.Upsert(ctx, record, vector)
		return ref, err
	})
	return err
}

// graphWrite merges the record's graph payload: entity nodes, typed relation
// edges, and plain mentions for entities with no triples.
func (e *Engine) graphWrite(ctx context.Context, scope models.Scope, record models.MemoryRecord) error {
	if len(record.Entities) == 0 && len(record.Relations) == 0 {
		return nil
	}
	_, err := e.throughGraph(func() (any, error) {
		related := make(map[string]bool)
		for _, entity := range record.Entities {
			if err := e.ports.Graph.MergeEntity(ctx, scope, entity); err != nil {
				return nil, err
			}
		}
		for _, rel := range record.Relations {
			if err := e.ports.Graph.MergeRelation(ctx, scope, rel.Src, rel.Type, rel.Dst, record.ID); err != nil {
				return nil, err
			}
			related[rel.Src] = true
			related[rel.Dst] = true
		}
		for _, entity := range record.Entities {
			if related[entity] {
				continue
			}
			if err := e.ports.Graph.Mention(ctx, scope, record.ID, entity); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// appendMissing appends the values not already present.
func appendMissing(list []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}
