package engine

import (
	"context"
	"sync"
	"time"

	"github.com/recallgraph/recalld/internal/events"
	"github.com/recallgraph/recalld/internal/fingerprint"
	"github.com/recallgraph/recalld/internal/metrics"
	"github.com/recallgraph/recalld/internal/models"
)

// sweeper flips active records past their expiry to expired. It never
// deletes: expired records stay retrievable through the evolution views.
type sweeper struct {
	engine *Engine

	mu     sync.Mutex
	scopes map[string]models.Scope
	// marks holds the earliest pending expiry per scope. A tick skips
	// every scope whose mark is zero or still in the future, so an idle
	// scope is not rescanned; a completed sweep advances the mark to the
	// next due expiry.
	marks map[string]time.Time
}

func newSweeper(e *Engine) *sweeper {
	return &sweeper{
		engine: e,
		scopes: make(map[string]models.Scope),
		marks:  make(map[string]time.Time),
	}
}

// observe registers a scope for background sweeping and lowers its mark to
// expiresAt when that is sooner than anything already pending. Called on
// every write; a zero expiresAt registers the scope without scheduling it.
func (s *sweeper) observe(scope models.Scope, expiresAt time.Time) {
	key := fingerprint.ScopeHash(scope)
	s.mu.Lock()
	if _, ok := s.scopes[key]; !ok {
		s.scopes[key] = scope
	}
	if !expiresAt.IsZero() {
		if cur, ok := s.marks[key]; !ok || cur.IsZero() || expiresAt.Before(cur) {
			s.marks[key] = expiresAt
		}
	}
	s.mu.Unlock()
}

func (s *sweeper) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAll(ctx)
		}
	}
}

func (s *sweeper) sweepAll(ctx context.Context) {
	now := s.engine.now()
	s.mu.Lock()
	scopes := make([]models.Scope, 0, len(s.scopes))
	for key, scope := range s.scopes {
		mark := s.marks[key]
		if mark.IsZero() || mark.After(now) {
			continue
		}
		scopes = append(scopes, scope)
	}
	s.mu.Unlock()

	for _, scope := range scopes {
		if _, err := s.sweep(ctx, scope); err != nil {
			s.engine.logger.Warn("sweep failed", "scope", scope.String(), "error", err)
		}
	}
}

// sweep expires every overdue active record in the scope and returns the
// number flipped. It is idempotent: an expired record is never revisited.
func (s *sweeper) sweep(ctx context.Context, scope models.Scope) (int, error) {
	e := s.engine
	now := e.now()
	scopeHash := fingerprint.ScopeHash(scope)

	// Only active records can expire, and the sweep must see the ones the
	// quality filter would normally hide mid-transition.
	filters := &models.SearchFilters{
		Statuses:       []models.Status{models.StatusActive},
		IncludeExpired: true,
	}

	expired := 0
	var nextDue time.Time
	cursor := ""
	for {
		res, err := e.throughVector(func() (any, error) {
			records, next, err := e.ports.Vectors.List(ctx, scope, filters, 128, cursor)
			if err != nil {
				return nil, err
			}
			return listPage{records: records, next: next}, nil
		})
		if err != nil {
			return expired, wrapf(KindVectorStoreUnavailable, err, "listing records for sweep").withRef("", scopeHash)
		}
		page := res.(listPage)

		for i := range page.records {
			record := page.records[i]
			if record.Status != models.StatusActive {
				continue
			}
			if !record.Expired(now) {
				if due := record.ExpiresAt; !due.IsZero() && (nextDue.IsZero() || due.Before(nextDue)) {
					nextDue = due
				}
				continue
			}
			record.Status = models.StatusExpired
			record.UpdatedAt = now
			if err := e.ports.Vectors.SetRecord(ctx, record); err != nil {
				e.logger.Warn("expiring record failed", "id", record.ID, "error", err)
				continue
			}
			expired++
			metrics.Inc(metrics.SweepExpired)
			e.publish(ctx, events.Event{
				Topic:     events.TopicExpired,
				ID:        record.ID,
				ScopeHash: scopeHash,
				Extra:     map[string]string{"category": string(record.Category)},
			})
		}
		if page.next == "" {
			break
		}
		cursor = page.next
	}

	if expired > 0 {
		e.invalidateScope(ctx, scope, scopeHash)
	}

	// Advance the mark to the next pending expiry. A save racing the sweep
	// may have lowered the mark to something sooner; keep that.
	s.mu.Lock()
	if cur := s.marks[scopeHash]; cur.After(now) && (nextDue.IsZero() || cur.Before(nextDue)) {
		nextDue = cur
	}
	s.marks[scopeHash] = nextDue
	s.mu.Unlock()
	return expired, nil
}

// Sweep expires overdue records in one scope. Manual trigger for tests and
// the CLI; the background sweeper covers every observed scope.
func (e *Engine) Sweep(ctx context.Context, scope models.Scope) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, wrapf(KindInvalidInput, err, "invalid scope")
	}
	return e.sweeper.sweep(ctx, scope)
}
