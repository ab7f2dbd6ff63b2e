package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/recallgraph/recalld/internal/events"
	"github.com/recallgraph/recalld/internal/fingerprint"
	"github.com/recallgraph/recalld/internal/locks"
	"github.com/recallgraph/recalld/internal/metrics"
	"github.com/recallgraph/recalld/internal/models"
	"github.com/recallgraph/recalld/internal/vectorstore"
)

// ResolveConflict consolidates a set of conflicting records into one new
// authoritative record. The originals are deprecated and point at the new
// record through superseded_by; the new record carries full confidence and
// cites the resolution reason.
func (e *Engine) ResolveConflict(ctx context.Context, scope models.Scope, ids []string, correctContent, reason string) (*models.MemoryRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, wrapf(KindInvalidInput, err, "invalid scope")
	}
	if len(ids) < 1 {
		return nil, errf(KindInvalidInput, "at least one conflicting id is required")
	}
	if strings.TrimSpace(correctContent) == "" {
		return nil, errf(KindInvalidInput, "consolidated content must not be empty")
	}
	scopeHash := fingerprint.ScopeHash(scope)

	var resolved *models.MemoryRecord
	lockKey := fingerprint.ResolveLockKey(scope, ids)
	lockErr := locks.WithLock(ctx, e.ports.Locks, lockKey, e.holderID, e.opts.LockTTL, func(ctx context.Context) error {
		var innerErr error
		resolved, innerErr = e.resolveLocked(ctx, scope, ids, correctContent, reason)
		return innerErr
	})
	switch {
	case errors.Is(lockErr, locks.ErrContended):
		return nil, errf(KindContended, "resolution in progress for this id set").withRef("", scopeHash)
	case lockErr != nil:
		var e2 *Error
		if errors.As(lockErr, &e2) {
			return nil, e2
		}
		return nil, wrapf(KindLockManagerUnavailable, lockErr, "acquiring resolve lock").withRef("", scopeHash)
	}
	metrics.Inc(metrics.ConflictsResolved)
	return resolved, nil
}

func (e *Engine) resolveLocked(ctx context.Context, scope models.Scope, ids []string, correctContent, reason string) (*models.MemoryRecord, error) {
	scopeHash := fingerprint.ScopeHash(scope)

	// Every original must exist and still be resolvable. An already
	// deprecated input means another resolution got here first.
	originals := make([]*models.MemoryRecord, 0, len(ids))
	category := models.CategoryGeneric
	for _, id := range ids {
		record, err := e.vectorGet(ctx, scope, id)
		if errors.Is(err, vectorstore.ErrNotFound) {
			return nil, errf(KindNotFound, "record %s not found", id).withRef(id, scopeHash)
		}
		if err != nil {
			return nil, wrapf(KindVectorStoreUnavailable, err, "fetching record %s", id).withRef(id, scopeHash)
		}
		if record.Status == models.StatusDeprecated {
			return nil, errf(KindConflictUnresolved, "record %s is already deprecated", id).withRef(id, scopeHash)
		}
		originals = append(originals, record)
		category = record.Category
	}

	// The consolidated record inherits the originals' category and records
	// the resolution provenance.
	extra := map[string]string{
		"resolution_reason": reason,
		"resolved_ids":      strings.Join(ids, ","),
	}
	record, err := e.buildRecord(scope, SaveRequest{
		Content:    correctContent,
		Category:   category,
		Confidence: 10,
		Source:     "conflict_resolution",
		Extra:      extra,
	})
	if err != nil {
		return nil, err
	}
	record.ConflictWith = append([]string(nil), ids...)

	vector, err := e.ports.Embedder.Embed(ctx, record.Content)
	if err != nil {
		return nil, wrapf(KindEmbedderUnavailable, err, "embedding consolidated content").withRef(record.ID, scopeHash)
	}
	if ext, err := e.ports.Extractor.Extract(ctx, record.Content); err == nil {
		record.Entities = ext.Entities
		record.Relations = ext.Relations
	} else {
		record.ExtractionFailed = true
	}

	if err := e.vectorUpsert(ctx, record, vector); err != nil {
		return nil, wrapf(KindVectorStoreUnavailable, err, "writing consolidated record").withRef(record.ID, scopeHash)
	}
	if err := e.graphWrite(ctx, scope, record); err != nil {
		e.logger.Warn("graph leg failed during resolution, compensating", "id", record.ID, "error", err)
		record.Degraded = true
		if err := e.ports.Vectors.SetRecord(ctx, record); err != nil {
			e.logger.Warn("persisting degraded flag failed", "id", record.ID, "error", err)
		}
		e.comp.enqueue(compensationTask{Kind: compensateGraph, Record: record})
	}

	// Deprecate the originals, pointing each at the consolidated record.
	now := e.now()
	for _, original := range originals {
		original.Status = models.StatusDeprecated
		original.SupersededBy = record.ID
		original.Version++
		original.UpdatedAt = now
		if err := e.ports.Vectors.SetRecord(ctx, *original); err != nil {
			return nil, wrapf(KindVectorStoreUnavailable, err, "deprecating record %s", original.ID).withRef(original.ID, scopeHash)
		}
		e.publish(ctx, events.Event{
			Topic:     events.TopicDeprecated,
			ID:        original.ID,
			ScopeHash: scopeHash,
			Extra:     map[string]string{"superseded_by": record.ID},
		})
	}

	e.publish(ctx, events.Event{
		Topic:     events.TopicCreated,
		ID:        record.ID,
		ScopeHash: scopeHash,
		Extra:     map[string]string{"category": string(record.Category), "source": record.Source},
	})
	e.invalidateScope(ctx, scope, scopeHash)

	e.logger.Info("conflict resolved",
		"id", record.ID, "originals", len(originals), "scope", scope.String())
	return &record, nil
}
