package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallgraph/recalld/internal/cache"
	"github.com/recallgraph/recalld/internal/embedder"
	"github.com/recallgraph/recalld/internal/events"
	"github.com/recallgraph/recalld/internal/extractor"
	"github.com/recallgraph/recalld/internal/fingerprint"
	"github.com/recallgraph/recalld/internal/graphstore"
	"github.com/recallgraph/recalld/internal/locks"
	"github.com/recallgraph/recalld/internal/models"
	"github.com/recallgraph/recalld/internal/vectorstore"
)

var testScope = models.Scope{Tenant: "acme", User: "alice"}

// testEnv wires the engine over the in-memory adapters with an injected
// clock, so every backend interaction is observable from the test.
type testEnv struct {
	engine  *Engine
	vectors *vectorstore.MemoryStore
	graph   *graphstore.MemoryGraph
	bus     *events.LocalBus
	locker  *locks.LocalManager
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		vectors: vectorstore.NewMemoryStore(),
		graph:   graphstore.NewMemoryGraph(),
		bus:     events.NewLocalBus(),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.locker = locks.NewLocalManagerWithClock(func() time.Time { return env.now })

	opts := DefaultOptions()
	// The hashing embedder produces far weaker cosine similarity than a
	// trained model, so the near-duplicate gate sits lower here.
	opts.ConflictThreshold = 0.4

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.engine = New(Ports{
		Vectors:   env.vectors,
		Graph:     env.graph,
		Embedder:  embedder.NewHashingEmbedder(64),
		Extractor: extractor.NewRuleBasedExtractor(),
		Cache:     cache.NewLocalCacheWithClock(func() time.Time { return env.now }),
		Bus:       env.bus,
		Locks:     env.locker,
	}, opts, nil, logger)
	env.engine.SetClock(func() time.Time { return env.now })
	return env
}

func (env *testEnv) advance(d time.Duration) { env.now = env.now.Add(d) }

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	result, err := env.engine.Save(ctx, testScope, SaveRequest{
		Content:  "The auth service talks to Postgres Primary over TLS",
		Category: models.CategoryArchitecture,
		Tags:     []string{"auth"},
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, models.StatusActive, result.Status)
	assert.False(t, result.Degraded)

	record, err := env.engine.Get(ctx, testScope, result.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, record.Confidence, "architecture default confidence")
	assert.Equal(t, env.now.Add(180*24*time.Hour), record.ExpiresAt, "architecture default TTL")
	assert.Equal(t, 1, record.Version)
	assert.Contains(t, record.Entities, "Postgres Primary")

	created := env.bus.PublishedOn(events.TopicCreated)
	require.Len(t, created, 1)
	assert.Equal(t, result.ID, created[0].ID)
	assert.Equal(t, fingerprint.ScopeHash(testScope), created[0].ScopeHash)
}

func TestSaveIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Builds run on Bazel"})
	require.NoError(t, err)
	require.True(t, first.Created)

	// Same content modulo case and whitespace maps to the same record.
	second, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "  builds RUN on bazel "})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)

	assert.Len(t, env.bus.PublishedOn(events.TopicCreated), 1, "no second created event")
}

func TestSaveScopeIsolation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	result, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Shared content"})
	require.NoError(t, err)

	other := models.Scope{Tenant: "acme", User: "bob"}
	_, err = env.engine.Get(ctx, other, result.ID)
	assert.Equal(t, KindNotFound, KindOf(err))

	// The same content in another scope is a distinct record.
	otherResult, err := env.engine.Save(ctx, other, SaveRequest{Content: "Shared content"})
	require.NoError(t, err)
	assert.True(t, otherResult.Created)
	assert.NotEqual(t, result.ID, otherResult.ID)
}

func TestSaveInvalidInput(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tests := []struct {
		name  string
		scope models.Scope
		req   SaveRequest
	}{
		{"empty content", testScope, SaveRequest{Content: "   "}},
		{"unknown category", testScope, SaveRequest{Content: "x", Category: "opinion"}},
		{"confidence too high", testScope, SaveRequest{Content: "x", Confidence: 11}},
		{"confidence negative", testScope, SaveRequest{Content: "x", Confidence: -1}},
		{"missing tenant", models.Scope{User: "alice"}, SaveRequest{Content: "x"}},
		{"milestone without type", testScope, SaveRequest{Content: "x", Category: models.CategoryMilestone}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.Save(ctx, tc.scope, tc.req)
			require.Error(t, err)
			assert.Equal(t, KindInvalidInput, KindOf(err))
			var e *Error
			require.ErrorAs(t, err, &e)
			assert.False(t, e.Retriable())
		})
	}
}

func TestSaveVerified(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.engine.SaveVerified(ctx, testScope, SaveRequest{Content: "x", Confidence: 8})
	assert.Equal(t, KindInvalidInput, KindOf(err), "source is mandatory")

	_, err = env.engine.SaveVerified(ctx, testScope, SaveRequest{Content: "x", Source: "runbook", Confidence: 6})
	assert.Equal(t, KindInvalidInput, KindOf(err), "confidence below 7")

	result, err := env.engine.SaveVerified(ctx, testScope, SaveRequest{
		Content: "Deploys go through ArgoCD", Source: "runbook", Confidence: 9,
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
}

func TestSaveMilestone(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	scope := testScope
	scope.Project = "apollo"

	record, err := env.engine.SaveMilestone(ctx, scope, SaveRequest{
		Content:       "Switched the ingest path to batched writes",
		MilestoneType: models.MilestoneSolutionImplemented,
	})
	require.NoError(t, err)

	assert.Equal(t, models.CategoryMilestone, record.Category)
	assert.Equal(t, 9, record.Confidence, "milestone default confidence")
	assert.Equal(t, 5, record.ImpactLevel, "impact defaults to 5")
	assert.True(t, record.ExpiresAt.IsZero(), "milestones never expire")
	assert.Contains(t, record.Tags, "milestone")
	assert.Contains(t, record.Tags, string(models.MilestoneSolutionImplemented))
}

func TestStatusMilestoneSupersession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	scope := testScope
	scope.Project = "apollo"

	first, err := env.engine.SaveMilestone(ctx, scope, SaveRequest{
		Content:       "Kickoff complete, planning the rollout",
		MilestoneType: models.MilestoneStatusChange,
	})
	require.NoError(t, err)
	env.advance(time.Hour)
	second, err := env.engine.SaveMilestone(ctx, scope, SaveRequest{
		Content:       "Beta shipped to first customers",
		MilestoneType: models.MilestoneStatusChange,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, second.Status)

	prior, err := env.engine.Get(ctx, scope, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeprecated, prior.Status)
	assert.Equal(t, second.ID, prior.SupersededBy)
	assert.Equal(t, 2, prior.Version)

	deprecations := env.bus.PublishedOn(events.TopicDeprecated)
	require.Len(t, deprecations, 1)
	assert.Equal(t, first.ID, deprecations[0].ID)
	assert.Equal(t, second.ID, deprecations[0].Extra["superseded_by"])

	// An architecture milestone leaves the current status alone.
	env.advance(time.Hour)
	_, err = env.engine.SaveMilestone(ctx, scope, SaveRequest{
		Content:       "Chose regional sharding for tenants",
		MilestoneType: models.MilestoneArchitectureDecision,
	})
	require.NoError(t, err)
	current, err := env.engine.Get(ctx, scope, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, current.Status)
}

func TestSaveContended(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	content := "Cutover happens Friday"
	lockKey := fingerprint.WriteLockKey(testScope, fingerprint.Record(testScope, content))
	ok, err := env.locker.TryAcquire(ctx, lockKey, "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = env.engine.Save(ctx, testScope, SaveRequest{Content: content})
	require.Error(t, err)
	assert.Equal(t, KindContended, KindOf(err))
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.True(t, e.Retriable())
}

func TestConflictDetectionFlagsBothSides(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Auth migration is in progress"})
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, first.Status)

	second, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Auth migration completed"})
	require.NoError(t, err)

	// The write is accepted; detection is advisory.
	assert.True(t, second.Created)
	assert.Equal(t, models.StatusConflicted, second.Status)
	require.Len(t, second.Conflicts, 1)
	assert.Equal(t, first.ID, second.Conflicts[0].ID)
	assert.NotEmpty(t, second.Conflicts[0].Reason)

	// The older peer is flagged in the second pass.
	peer, err := env.engine.Get(ctx, testScope, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConflicted, peer.Status)
	assert.Contains(t, peer.ConflictWith, second.ID)

	conflicted := env.bus.PublishedOn(events.TopicConflicted)
	assert.Len(t, conflicted, 2, "one event per flagged side")
}

func TestUnrelatedContentDoesNotConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Payments settle through Stripe Connect"})
	require.NoError(t, err)

	result, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Weekly sync moved to Tuesdays"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, result.Status)
	assert.Empty(t, result.Conflicts)
}

func TestResolveConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Auth migration is in progress"})
	require.NoError(t, err)
	second, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Auth migration completed"})
	require.NoError(t, err)
	require.Equal(t, models.StatusConflicted, second.Status)

	resolved, err := env.engine.ResolveConflict(ctx, testScope,
		[]string{first.ID, second.ID},
		"Auth migration finished rollout across every region",
		"confirmed in the release channel")
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, resolved.Status)
	assert.Equal(t, 10, resolved.Confidence)
	assert.Equal(t, "conflict_resolution", resolved.Source)
	assert.Equal(t, "confirmed in the release channel", resolved.Extra["resolution_reason"])
	assert.ElementsMatch(t, []string{first.ID, second.ID}, resolved.ConflictWith)

	for _, id := range []string{first.ID, second.ID} {
		original, err := env.engine.Get(ctx, testScope, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDeprecated, original.Status)
		assert.Equal(t, resolved.ID, original.SupersededBy)
		assert.Equal(t, 2, original.Version)
	}

	deprecations := env.bus.PublishedOn(events.TopicDeprecated)
	assert.Len(t, deprecations, 2)

	// Only the consolidated record survives the active-context view.
	res, err := env.engine.GetContext(ctx, testScope, "auth migration", 0, 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, resolved.ID, res.Results[0].Record.ID)
}

func TestResolveConflictRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	result, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Something true"})
	require.NoError(t, err)

	_, err = env.engine.ResolveConflict(ctx, testScope, nil, "content", "reason")
	assert.Equal(t, KindInvalidInput, KindOf(err))

	_, err = env.engine.ResolveConflict(ctx, testScope, []string{"missing-id"}, "content", "reason")
	assert.Equal(t, KindNotFound, KindOf(err))

	// A second resolution over an already-deprecated record is refused.
	_, err = env.engine.ResolveConflict(ctx, testScope, []string{result.ID}, "replacement statement", "cleanup")
	require.NoError(t, err)
	_, err = env.engine.ResolveConflict(ctx, testScope, []string{result.ID}, "another replacement", "cleanup")
	assert.Equal(t, KindConflictUnresolved, KindOf(err))
}

func TestSearchHybridGraphBoost(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	plain, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "General notes about testing"})
	require.NoError(t, err)
	linked, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Review docs for Payment Service"})
	require.NoError(t, err)

	res, err := env.engine.Search(ctx, testScope, "investigate Payment Service latency", 5, nil)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	results := res.Results
	require.Len(t, results, 2)

	assert.Equal(t, linked.ID, results[0].Record.ID)
	assert.Equal(t, 1.0, results[0].GraphScore, "direct graph term match")
	assert.Greater(t, results[0].VectorScore, 0.0)

	assert.Equal(t, plain.ID, results[1].Record.ID)
	assert.Zero(t, results[1].GraphScore)
	assert.Greater(t, results[0].CombinedScore, results[1].CombinedScore)
}

func TestSearchServesFromCacheUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Ingest runs hourly"})
	require.NoError(t, err)

	first, err := env.engine.Search(ctx, testScope, "ingest schedule", 5, nil)
	require.NoError(t, err)
	require.Len(t, first.Results, 1)

	// With the vector store down, the identical query is answered from
	// cache; a different one degrades to the graph leg.
	env.vectors.Fail(errors.New("vector store down"))
	cached, err := env.engine.Search(ctx, testScope, "ingest schedule", 5, nil)
	require.NoError(t, err)
	assert.False(t, cached.Degraded)
	assert.Equal(t, first.Results[0].Record.ID, cached.Results[0].Record.ID)

	fresh, err := env.engine.Search(ctx, testScope, "something else", 5, nil)
	require.NoError(t, err)
	assert.True(t, fresh.Degraded)
	assert.Empty(t, fresh.Results)
	env.vectors.Fail(nil)

	// A new write in the scope invalidates the cached result set.
	_, err = env.engine.Save(ctx, testScope, SaveRequest{Content: "Ingest schedule moved to daily"})
	require.NoError(t, err)
	refreshed, err := env.engine.Search(ctx, testScope, "ingest schedule", 5, nil)
	require.NoError(t, err)
	assert.Len(t, refreshed.Results, 2)
}

func TestSearchDegradesOnVectorOutage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.engine.Save(ctx, testScope, SaveRequest{
		Content: "Sessions live in Redis Cluster now",
	})
	require.NoError(t, err)

	env.vectors.Fail(errors.New("vector store down"))
	res, err := env.engine.Search(ctx, testScope, "redis cluster sessions", 5, nil)
	require.NoError(t, err, "vector outage degrades the read instead of failing it")
	assert.True(t, res.Degraded)

	// Graph candidates that cannot be rehydrated are dropped, not stubbed.
	for _, hit := range res.Results {
		assert.NotEmpty(t, hit.Record.Content)
	}

	// Both legs down is a hard failure.
	env.graph.Fail(errors.New("graph store down"))
	_, err = env.engine.Search(ctx, testScope, "redis cluster sessions", 5, nil)
	assert.Equal(t, KindVectorStoreUnavailable, KindOf(err))
}

func TestSearchDegradesOnGraphOutage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	linked, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Review docs for Payment Service"})
	require.NoError(t, err)

	env.graph.Fail(errors.New("graph store down"))
	res, err := env.engine.Search(ctx, testScope, "investigate Payment Service latency", 5, nil)
	require.NoError(t, err, "graph outage degrades the read instead of failing it")
	assert.True(t, res.Degraded)
	require.Len(t, res.Results, 1)
	assert.Equal(t, linked.ID, res.Results[0].Record.ID)
	assert.Zero(t, res.Results[0].GraphScore)

	// Degraded result sets are not cached; the healed store serves the
	// full hybrid ranking on the next identical query.
	env.graph.Fail(nil)
	healed, err := env.engine.Search(ctx, testScope, "investigate Payment Service latency", 5, nil)
	require.NoError(t, err)
	assert.False(t, healed.Degraded)
	require.Len(t, healed.Results, 1)
	assert.Equal(t, 1.0, healed.Results[0].GraphScore)
}

func TestSearchInvalidInput(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.engine.Search(ctx, testScope, "  ", 5, nil)
	assert.Equal(t, KindInvalidInput, KindOf(err))

	_, err = env.engine.Search(ctx, models.Scope{Tenant: "acme"}, "query", 5, nil)
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestGetContextFiltersLowConfidence(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Release cadence is weekly", Confidence: 4})
	require.NoError(t, err)
	strong, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Release train leaves Monday", Confidence: 9})
	require.NoError(t, err)

	res, err := env.engine.GetContext(ctx, testScope, "release", 0, 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 1, "default min confidence is 7")
	assert.Equal(t, strong.ID, res.Results[0].Record.ID)
}

func TestDegradedWriteCompensation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.graph.Fail(errors.New("graph outage"))
	result, err := env.engine.Save(ctx, testScope, SaveRequest{
		Content: "Sessions live in Redis Cluster now",
	})
	require.NoError(t, err, "graph outage degrades the save instead of failing it")
	assert.True(t, result.Created)
	assert.True(t, result.Degraded)
	assert.Equal(t, 1, env.engine.CompensationBacklog())

	record, err := env.engine.Get(ctx, testScope, result.ID)
	require.NoError(t, err)
	assert.True(t, record.Degraded, "reads surface the partial write")

	// Backend recovers; compensation completes the graph leg.
	env.graph.Fail(nil)
	env.engine.DrainCompensation(ctx)
	assert.Zero(t, env.engine.CompensationBacklog())

	record, err = env.engine.Get(ctx, testScope, result.ID)
	require.NoError(t, err)
	assert.False(t, record.Degraded)

	hits, err := env.graph.Search(ctx, testScope, []string{"redis cluster"}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, result.ID, hits[0].ID)
}

func TestSweepExpiresOverdueRecords(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	scope := testScope
	scope.Project = "apollo"

	result, err := env.engine.Save(ctx, scope, SaveRequest{
		Content:  "Rollout is at fifty percent",
		Category: models.CategoryStatus, // 30 day TTL
	})
	require.NoError(t, err)
	keeper, err := env.engine.Save(ctx, scope, SaveRequest{
		Content:  "The gateway terminates TLS",
		Category: models.CategoryDecision, // 365 day TTL
	})
	require.NoError(t, err)

	env.advance(31 * 24 * time.Hour)

	// Overdue records are hidden from default reads even before the sweep.
	records, _, err := env.engine.GetAll(ctx, scope, &models.SearchFilters{}, 10, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, keeper.ID, records[0].ID)

	expired, err := env.engine.Sweep(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	record, err := env.engine.Get(ctx, scope, result.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, record.Status, "expiry flips status, never deletes")

	expiredEvents := env.bus.PublishedOn(events.TopicExpired)
	require.Len(t, expiredEvents, 1)
	assert.Equal(t, result.ID, expiredEvents[0].ID)

	// Idempotent: a second sweep finds nothing.
	expired, err = env.engine.Sweep(ctx, scope)
	require.NoError(t, err)
	assert.Zero(t, expired)

	// History keeps the expired record.
	timeline, err := env.engine.TrackEvolution(ctx, scope, "apollo", 0)
	require.NoError(t, err)
	assert.Len(t, timeline.Events, 2)
}

func TestSweeperTracksEarliestPendingExpiry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sw := env.engine.sweeper
	scopeHash := fingerprint.ScopeHash(testScope)
	start := env.now

	short, err := env.engine.Save(ctx, testScope, SaveRequest{
		Content:  "Rollout is at fifty percent",
		Category: models.CategoryStatus, // 30 day TTL
	})
	require.NoError(t, err)
	long, err := env.engine.Save(ctx, testScope, SaveRequest{
		Content:  "The gateway terminates TLS",
		Category: models.CategoryDecision, // 365 day TTL
	})
	require.NoError(t, err)

	markOf := func() time.Time {
		sw.mu.Lock()
		defer sw.mu.Unlock()
		return sw.marks[scopeHash]
	}
	require.Equal(t, start.Add(30*24*time.Hour), markOf(), "mark holds the soonest expiry")

	// Nothing due yet: the tick skips the scope entirely.
	sw.sweepAll(ctx)
	assert.Empty(t, env.bus.PublishedOn(events.TopicExpired))
	assert.Equal(t, start.Add(30*24*time.Hour), markOf())

	env.advance(31 * 24 * time.Hour)
	sw.sweepAll(ctx)

	record, err := env.engine.Get(ctx, testScope, short.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, record.Status)
	keeper, err := env.engine.Get(ctx, testScope, long.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, keeper.Status)

	// The completed sweep advances the mark to the next pending expiry.
	assert.Equal(t, start.Add(365*24*time.Hour), markOf())
}

func TestSaveWithPastExpiryStartsActive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	result, err := env.engine.Save(ctx, testScope, SaveRequest{
		Content:   "Old fact imported from a backup",
		ExpiresAt: env.now.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, result.Status, "the sweep owns the transition")

	expired, err := env.engine.Sweep(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
}

func TestProjectRollups(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	scope := testScope
	scope.Project = "apollo"

	_, err := env.engine.SaveMilestone(ctx, scope, SaveRequest{
		Content:       "Chose event sourcing for the ledger",
		MilestoneType: models.MilestoneArchitectureDecision,
		ImpactLevel:   8,
	})
	require.NoError(t, err)
	env.advance(time.Hour)
	_, err = env.engine.SaveMilestone(ctx, scope, SaveRequest{
		Content:       "Implemented the replay pipeline",
		MilestoneType: models.MilestoneSolutionImplemented,
	})
	require.NoError(t, err)
	env.advance(time.Hour)
	_, err = env.engine.Save(ctx, scope, SaveRequest{
		Content:  "Replay throughput is the current bottleneck",
		Category: models.CategoryStatus,
	})
	require.NoError(t, err)

	state, err := env.engine.GetProjectState(ctx, testScope, "apollo")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseInProgress, state.Phase)
	assert.Equal(t, 2, state.MilestoneCount)
	assert.Equal(t, 3, state.TotalActive)
	require.NotNil(t, state.LatestStatus)
	assert.Contains(t, state.LatestStatus.Content, "bottleneck")
	require.NotEmpty(t, state.RecentMilestones)
	assert.Equal(t, models.MilestoneSolutionImplemented, state.RecentMilestones[0].Type)

	report, err := env.engine.ValidateProject(ctx, testScope, "apollo")
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalMemories)

	timeline, err := env.engine.TrackEvolution(ctx, testScope, "apollo", 0)
	require.NoError(t, err)
	require.Len(t, timeline.Events, 3)
	assert.Equal(t, 1, timeline.Summary.ArchitectureDecisions)
	assert.Equal(t, 1, timeline.Summary.SolutionsImplemented)

	// A scope pinned to another project cannot read this one.
	foreign := testScope
	foreign.Project = "zephyr"
	_, err = env.engine.GetProjectState(ctx, foreign, "apollo")
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestAuditQuality(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Auth migration is in progress"})
	require.NoError(t, err)
	_, err = env.engine.Save(ctx, testScope, SaveRequest{Content: "Auth migration completed"})
	require.NoError(t, err)
	_, err = env.engine.Save(ctx, testScope, SaveRequest{Content: "Logging uses structured JSON", Confidence: 9})
	require.NoError(t, err)

	report, err := env.engine.AuditQuality(ctx, testScope)
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalMemories)
	assert.Equal(t, 2, report.ConflictedCount)
	assert.Less(t, report.HealthScore, 100)
	require.NotEmpty(t, report.Recommendations)
	assert.Equal(t, models.PriorityHigh, report.Recommendations[0].Priority)
}

func TestAuditAllScopes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.engine.Save(ctx, testScope, SaveRequest{Content: "Deploys go out on Tuesdays"})
	require.NoError(t, err)
	bob := models.Scope{Tenant: "acme", User: "bob"}
	_, err = env.engine.Save(ctx, bob, SaveRequest{Content: "Bob owns the billing runbook"})
	require.NoError(t, err)

	// The cross-scope audit is an operator surface.
	_, err = env.engine.AuditAllScopes(ctx, "  ")
	assert.Equal(t, KindInvalidInput, KindOf(err))

	report, err := env.engine.AuditAllScopes(ctx, "oncall@acme")
	require.NoError(t, err)
	assert.Equal(t, "oncall@acme", report.Operator)
	assert.Equal(t, env.now, report.AuditedAt)
	assert.Equal(t, 2, report.ScopesAudited)
	assert.Equal(t, 2, report.TotalMemories)
	require.Len(t, report.Scopes, 2)
	for _, sub := range report.Scopes {
		assert.Equal(t, 1, sub.TotalMemories)
	}
}

func TestGetEntityRelationships(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.engine.Save(ctx, testScope, SaveRequest{
		Content: "Traffic flows through Envoy Proxy into Payment Service",
	})
	require.NoError(t, err)

	report, err := env.engine.GetEntityRelationships(ctx, testScope, "Payment Service")
	require.NoError(t, err)
	assert.False(t, report.FallbackSearch)
	assert.Equal(t, 1, report.DirectMentions)
	assert.Contains(t, report.RelatedEntities, "Envoy Proxy")
	assert.Greater(t, report.ConnectionStrength, 0.0)

	// Unknown entities fall back to content search.
	report, err = env.engine.GetEntityRelationships(ctx, testScope, "Unknown Thing")
	require.NoError(t, err)
	assert.True(t, report.FallbackSearch)
}

func TestCapabilities(t *testing.T) {
	env := newTestEnv(t)
	caps := env.engine.Capabilities()
	assert.True(t, caps.VectorAvailable)
	assert.True(t, caps.GraphAvailable)
	assert.True(t, caps.CacheAvailable)
	assert.True(t, caps.EventsAvailable)
	assert.True(t, caps.LocksAvailable)
	assert.False(t, caps.ClusterMode)
}
