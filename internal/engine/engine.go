// Package engine implements the memory coordinator: dual writes across the
// vector and graph stores, hybrid retrieval, conflict handling, expiry, and
// compensation of partial writes. The engine owns no storage of its own;
// everything it touches goes through the ports it is constructed with.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/recallgraph/recalld/internal/cache"
	"github.com/recallgraph/recalld/internal/conflict"
	"github.com/recallgraph/recalld/internal/embedder"
	"github.com/recallgraph/recalld/internal/events"
	"github.com/recallgraph/recalld/internal/extractor"
	"github.com/recallgraph/recalld/internal/fingerprint"
	"github.com/recallgraph/recalld/internal/graphstore"
	"github.com/recallgraph/recalld/internal/locks"
	"github.com/recallgraph/recalld/internal/models"
	"github.com/recallgraph/recalld/internal/quality"
	"github.com/recallgraph/recalld/internal/rank"
	"github.com/recallgraph/recalld/internal/vectorstore"
)

// Options carries the tunable knobs of the engine.
type Options struct {
	// ConflictThreshold is the vector similarity gate for conflict
	// candidates (τ_conflict).
	ConflictThreshold float64

	// Weights and FreshnessDecayDays parameterize result ranking.
	Weights            rank.Weights
	FreshnessDecayDays float64

	// AuditWeights parameterize the quality health score.
	AuditWeights quality.Weights

	// LockTTL bounds how long a write lock outlives its holder.
	LockTTL time.Duration

	// CacheTTL bounds query-result cache entries.
	CacheTTL time.Duration

	// ContextMinConfidence and ContextK are the GetContext presets.
	ContextMinConfidence int
	ContextK             int

	// MaxHops bounds graph neighborhood traversal during retrieval.
	MaxHops int

	// SweepInterval is the period of the background expiry sweeper.
	SweepInterval time.Duration

	// Compensation configures the partial-write retry worker.
	Compensation CompensationOptions

	// ClusterMode requires distributed backends for cache, events, and
	// locks; local fallbacks are refused at startup when set.
	ClusterMode bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		ConflictThreshold:    0.85,
		Weights:              rank.DefaultWeights(),
		FreshnessDecayDays:   rank.DefaultFreshnessDecayDays,
		AuditWeights:         quality.DefaultWeights(),
		LockTTL:              30 * time.Second,
		CacheTTL:             300 * time.Second,
		ContextMinConfidence: 7,
		ContextK:             5,
		MaxHops:              2,
		SweepInterval:        60 * time.Second,
		Compensation:         DefaultCompensationOptions(),
	}
}

// Ports bundles the engine's external collaborators.
type Ports struct {
	Vectors   vectorstore.Store
	Graph     graphstore.Store
	Embedder  embedder.Embedder
	Extractor extractor.Extractor
	Cache     cache.Cache
	Bus       events.Bus
	Locks     locks.Manager
}

// Engine coordinates all memory operations over the ports.
type Engine struct {
	ports    Ports
	opts     Options
	detector *conflict.Detector
	ranker   *rank.Ranker
	auditor  *quality.Auditor
	logger   *slog.Logger
	now      func() time.Time

	// holderID identifies this process in lock ownership.
	holderID string

	vectorBreaker *gobreaker.CircuitBreaker
	graphBreaker  *gobreaker.CircuitBreaker

	comp    *compensator
	sweeper *sweeper
}

// New creates an engine over the given ports. The detector may be nil, in
// which case the default language packs are used with no tag pairs.
func New(ports Ports, opts Options, detector *conflict.Detector, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if detector == nil {
		detector = conflict.NewDetector(nil, nil, logger)
	}
	e := &Engine{
		ports:    ports,
		opts:     opts,
		detector: detector,
		ranker:   rank.NewRanker(opts.Weights, opts.FreshnessDecayDays),
		auditor:  quality.NewAuditor(opts.AuditWeights),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		holderID: uuid.NewString(),
	}
	e.vectorBreaker = newBreaker("vector-store", logger)
	e.graphBreaker = newBreaker("graph-store", logger)
	e.comp = newCompensator(e, opts.Compensation)
	e.sweeper = newSweeper(e)
	return e
}

// newBreaker builds a circuit breaker that opens after consecutive backend
// failures and probes again after a cooldown.
func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Start launches the background workers: the compensation queue drainer and
// the expiry sweeper. It returns immediately; workers stop when ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.comp.start(ctx)
	if e.opts.SweepInterval > 0 {
		go e.sweeper.run(ctx, e.opts.SweepInterval)
	}
}

// Close shuts down the compensation worker and every port.
func (e *Engine) Close(ctx context.Context) error {
	e.comp.stop()
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(e.ports.Vectors.Close())
	keep(e.ports.Graph.Close(ctx))
	keep(e.ports.Cache.Close())
	keep(e.ports.Bus.Close())
	keep(e.ports.Locks.Close())
	return firstErr
}

// Capabilities reports which backends are currently usable. Breaker state is
// the availability signal for the two stores.
func (e *Engine) Capabilities() models.Capabilities {
	return models.Capabilities{
		VectorAvailable: e.vectorBreaker.State() != gobreaker.StateOpen,
		GraphAvailable:  e.graphBreaker.State() != gobreaker.StateOpen,
		CacheAvailable:  e.ports.Cache != nil,
		EventsAvailable: e.ports.Bus != nil,
		LocksAvailable:  e.ports.Locks != nil,
		ClusterMode:     e.opts.ClusterMode,
	}
}

// CompensationBacklog returns the number of queued compensation tasks.
func (e *Engine) CompensationBacklog() int { return e.comp.backlog() }

// DrainCompensation processes every queued compensation task synchronously.
// Intended for tests and single-shot CLI invocations.
func (e *Engine) DrainCompensation(ctx context.Context) { e.comp.drain(ctx) }

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// throughVector runs fn behind the vector-store circuit breaker.
func (e *Engine) throughVector(fn func() (any, error)) (any, error) {
	return e.vectorBreaker.Execute(fn)
}

// throughGraph runs fn behind the graph-store circuit breaker.
func (e *Engine) throughGraph(fn func() (any, error)) (any, error) {
	return e.graphBreaker.Execute(fn)
}

// publish emits an event, logging instead of failing the caller: events are
// advisory and never gate the write path.
func (e *Engine) publish(ctx context.Context, event events.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	if err := e.ports.Bus.Publish(ctx, event); err != nil {
		e.logger.Warn("event publish failed", "topic", event.Topic, "id", event.ID, "error", err)
	}
}

// invalidateScope drops every cached query result for the scope and announces
// the invalidation on the bus.
func (e *Engine) invalidateScope(ctx context.Context, scope models.Scope, scopeHash string) {
	if err := e.ports.Cache.InvalidatePrefix(ctx, fingerprint.ScopePrefix(scope)); err != nil {
		e.logger.Warn("cache invalidation failed", "scope", scope.String(), "error", err)
		return
	}
	e.publish(ctx, events.Event{Topic: events.TopicCacheInvalidated, ScopeHash: scopeHash})
}
