package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/recallgraph/recalld/internal/events"
	"github.com/recallgraph/recalld/internal/fingerprint"
	"github.com/recallgraph/recalld/internal/metrics"
	"github.com/recallgraph/recalld/internal/models"
)

// CompensationOptions configures the partial-write retry worker.
type CompensationOptions struct {
	Workers     int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	QueueSize   int
}

// DefaultCompensationOptions returns the production defaults.
func DefaultCompensationOptions() CompensationOptions {
	return CompensationOptions{
		Workers:     2,
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		QueueSize:   256,
	}
}

type compensationKind string

const (
	compensateVector compensationKind = "vector"
	compensateGraph  compensationKind = "graph"
)

// compensationTask is one pending leg of a partial dual write.
type compensationTask struct {
	Kind   compensationKind
	Record models.MemoryRecord
	Vector []float32
}

// compensator drains the queue of failed write legs with bounded concurrency
// and exponential backoff. The queue is in-process; its loss on restart is
// acceptable for single-node deployments, and reads keep surfacing the
// degraded flag until a later save or sweep revisits the record.
type compensator struct {
	engine  *Engine
	opts    CompensationOptions
	tasks   chan compensationTask
	pending sync.WaitGroup
	stopped chan struct{}
	once    sync.Once
}

func newCompensator(e *Engine, opts CompensationOptions) *compensator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &compensator{
		engine:  e,
		opts:    opts,
		tasks:   make(chan compensationTask, opts.QueueSize),
		stopped: make(chan struct{}),
	}
}

func (c *compensator) start(ctx context.Context) {
	for i := 0; i < c.opts.Workers; i++ {
		go c.worker(ctx)
	}
}

func (c *compensator) stop() {
	c.once.Do(func() { close(c.stopped) })
}

func (c *compensator) backlog() int { return len(c.tasks) }

// enqueue hands a task to the workers. A full queue drops the task with a
// terminal event rather than blocking the save path.
func (c *compensator) enqueue(task compensationTask) {
	select {
	case c.tasks <- task:
		c.pending.Add(1)
	default:
		c.engine.logger.Error("compensation queue full, dropping task",
			"id", task.Record.ID, "kind", string(task.Kind))
		c.terminalFailure(context.Background(), task)
	}
}

func (c *compensator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopped:
			return
		case task := <-c.tasks:
			c.process(ctx, task)
			c.pending.Done()
		}
	}
}

// Drain processes every queued task synchronously. Test hook: lets a test
// trigger compensation without the background workers.
func (c *compensator) drain(ctx context.Context) {
	for {
		select {
		case task := <-c.tasks:
			c.process(ctx, task)
			c.pending.Done()
		default:
			return
		}
	}
}

// process retries the failed leg with exponential backoff until it succeeds
// or the attempt budget is spent.
func (c *compensator) process(ctx context.Context, task compensationTask) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.BaseDelay
	policy.Multiplier = 2
	policy.MaxInterval = c.opts.MaxDelay
	policy.MaxElapsedTime = 0

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		metrics.Inc(metrics.CompensationRetries)
		if lastErr = c.attempt(ctx, task); lastErr == nil {
			c.clearDegraded(ctx, task.Record)
			c.engine.logger.Info("compensation completed",
				"id", task.Record.ID, "kind", string(task.Kind), "attempts", attempt)
			return
		}
		c.engine.logger.Warn("compensation attempt failed",
			"id", task.Record.ID, "kind", string(task.Kind), "attempt", attempt, "error", lastErr)
		if attempt == c.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-c.stopped:
			return
		case <-time.After(policy.NextBackOff()):
		}
	}
	c.engine.logger.Error("compensation exhausted",
		"id", task.Record.ID, "kind", string(task.Kind), "error", lastErr)
	c.terminalFailure(ctx, task)
}

func (c *compensator) attempt(ctx context.Context, task compensationTask) error {
	switch task.Kind {
	case compensateVector:
		return c.engine.vectorUpsert(ctx, task.Record, task.Vector)
	case compensateGraph:
		return c.engine.graphWrite(ctx, task.Record.Scope, task.Record)
	}
	return nil
}

// clearDegraded rewrites the record with the degraded flag dropped, so the
// next read sees a fully consistent record.
func (c *compensator) clearDegraded(ctx context.Context, record models.MemoryRecord) {
	record.Degraded = false
	record.UpdatedAt = c.engine.now()
	if err := c.engine.ports.Vectors.SetRecord(ctx, record); err != nil {
		c.engine.logger.Warn("clearing degraded flag failed", "id", record.ID, "error", err)
		return
	}
	c.engine.invalidateScope(ctx, record.Scope, fingerprint.ScopeHash(record.Scope))
}

// terminalFailure records the permanent degradation and announces it.
func (c *compensator) terminalFailure(ctx context.Context, task compensationTask) {
	metrics.Inc(metrics.CompensationFailed)
	c.engine.publish(ctx, events.Event{
		Topic:     events.TopicCompensationFailed,
		ID:        task.Record.ID,
		ScopeHash: fingerprint.ScopeHash(task.Record.Scope),
		Extra:     map[string]string{"leg": string(task.Kind)},
	})
}
