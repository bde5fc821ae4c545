// Package executor orchestrates script executions on behalf of the HTTP
// data plane.
//
// # Invocation pipeline
//
// Execute is the single entry point for all synchronous executions. The
// pipeline is:
//
//  1. Drain-check: reject if the executor is shutting down.
//  2. Admission: a worker slot is claimed non-blockingly; a saturated
//     pool rejects the request immediately with CapacityExceeded. The
//     pool is a bulkhead, not a queue.
//  3. Topic setup: a fresh per-invocation execution id is minted and its
//     event bus topic opened, so live subscribers can attach.
//  4. Deadline: the child deadline is the minimum of the configured
//     per-execution timeout and any deadline already on the caller's
//     context.
//  5. Invocation: the sandbox runs the script; every console emission is
//     published to the topic as it happens.
//  6. Collection: the runtime envelope is read; classified failures
//     propagate as ExecError values.
//  7. Release: the slot is returned and the topic closed after the
//     subscribe grace period, on every path including panic.
//
// # Concurrency
//
// Executor is safe for concurrent use. The inflight WaitGroup drains
// in-flight executions during graceful shutdown; each call increments the
// counter before any work begins, so Shutdown blocks until all active
// executions finish.
//
// # Ordering
//
// The response is produced only after the sandbox has finished, which in
// turn happens only after every log event it caused has been handed to
// the bus. Subscribers that observe end-of-stream can rely on having seen
// the topic's final event.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/divitsinghall/Vortex/internal/bus"
	"github.com/divitsinghall/Vortex/internal/domain"
	"github.com/divitsinghall/Vortex/internal/logging"
	"github.com/divitsinghall/Vortex/internal/metrics"
	"github.com/divitsinghall/Vortex/internal/pool"
	"github.com/google/uuid"
)

// Executor coordinates admission, deadlines, topics, and cleanup for
// every execution. The zero value is not usable; construct via New.
type Executor struct {
	pool    *pool.Pool
	bus     bus.Bus
	invoker Invoker
	topics  *Topics
	logger  *logging.Logger

	defaultTimeout time.Duration
	grace          time.Duration

	inflight sync.WaitGroup
	closing  atomic.Bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithDefaultTimeout overrides the per-execution deadline baseline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// WithSubscribeGrace overrides how long a topic outlives its execution.
func WithSubscribeGrace(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.grace = d
		}
	}
}

// WithRequestLogger overrides the per-execution request logger.
func WithRequestLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates a ready-to-use Executor.
func New(p *pool.Pool, b bus.Bus, inv Invoker, opts ...Option) *Executor {
	e := &Executor{
		pool:           p,
		bus:            b,
		invoker:        inv,
		topics:         NewTopics(),
		logger:         logging.Default(),
		defaultTimeout: 5 * time.Second,
		grace:          300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	metrics.SetPoolState(p.InUse(), p.Capacity())
	return e
}

// Topics exposes the active execution registry for the gateway.
func (e *Executor) Topics() *Topics {
	return e.topics
}

// busSink publishes each sandbox log event to the execution's topic as it
// is emitted. Publish is non-blocking, so the sandbox never stalls on a
// slow subscriber.
type busSink struct {
	bus   bus.Bus
	topic string
	ctx   context.Context
}

func (s busSink) Append(ev domain.LogEvent) {
	s.bus.Publish(s.ctx, s.topic, ev)
}

// Execute turns a {function id, source} pair into a complete result.
//
// On script failure the returned error is an ExecError whose kind maps
// directly to an HTTP status; the response is nil. Admission, deadline
// and cleanup behave identically on every path.
func (e *Executor) Execute(ctx context.Context, functionID, source string) (*domain.ExecuteResponse, error) {
	if e.closing.Load() {
		return nil, domain.NewExecError(domain.ErrKindInternal, "executor is shutting down")
	}
	if source == "" {
		return nil, domain.NewExecError(domain.ErrKindInvalidRequest, "empty source")
	}

	e.inflight.Add(1)
	defer e.inflight.Done()

	slot, err := e.pool.TryAcquire()
	if err != nil {
		metrics.RecordAdmissionRejected()
		return nil, domain.NewExecError(domain.ErrKindCapacityExceeded,
			"all %d worker slots are in use", e.pool.Capacity())
	}
	metrics.SetPoolState(e.pool.InUse(), e.pool.Capacity())

	execID := uuid.New().String()[:8]
	topic := execID
	e.bus.OpenTopic(topic)
	e.topics.Begin(functionID, execID)

	// Release runs on every exit path, panics included. The topic stays
	// subscribable for the grace period so late subscribers observe a
	// clean end-of-stream instead of a missing topic.
	defer func() {
		slot.Release()
		metrics.SetPoolState(e.pool.InUse(), e.pool.Capacity())
		time.AfterFunc(e.grace, func() {
			e.bus.CloseTopic(topic)
			e.topics.End(functionID, execID)
		})
	}()

	timeout := e.defaultTimeout
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < timeout {
			timeout = remaining
		}
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exec := &domain.Execution{
		ID:         execID,
		FunctionID: functionID,
		StartedAt:  time.Now(),
	}
	if dl, ok := execCtx.Deadline(); ok {
		exec.Deadline = dl
	}

	metrics.IncActiveExecutions()
	defer metrics.DecActiveExecutions()

	start := time.Now()
	env, err := e.invoker.Invoke(execCtx, exec, source, busSink{bus: e.bus, topic: topic, ctx: ctx})
	durationMs := time.Since(start).Milliseconds()

	entry := &logging.RequestLog{
		ExecutionID: execID,
		FunctionID:  functionID,
		DurationMs:  durationMs,
		SourceSize:  len(source),
	}

	if err == nil && env == nil {
		err = domain.NewExecError(domain.ErrKindInternal, "invoker returned no envelope")
	}
	if err == nil {
		if envErr := env.Err(); envErr != nil {
			err = envErr
		}
	}
	if err != nil {
		execErr := classify(err)
		entry.Success = false
		entry.Error = execErr.Error()
		if env != nil {
			entry.LogCount = len(env.Logs)
		}
		safeGo(func() { e.logger.Log(entry) })
		metrics.RecordExecution(string(execErr.Kind), time.Since(start).Seconds())
		return nil, execErr
	}

	entry.Success = true
	entry.LogCount = len(env.Logs)
	safeGo(func() { e.logger.Log(entry) })
	metrics.RecordExecution("success", time.Since(start).Seconds())

	logs := env.Logs
	if logs == nil {
		logs = []domain.LogEvent{}
	}
	return &domain.ExecuteResponse{
		Output:          env.Output,
		Logs:            logs,
		ExecutionTimeMs: env.ElapsedMs,
	}, nil
}

// classify coerces any failure into the closed error-kind set.
func classify(err error) *domain.ExecError {
	if ee, ok := err.(*domain.ExecError); ok {
		return ee
	}
	if kind := domain.KindOf(err); kind != domain.ErrKindInternal {
		return domain.NewExecError(kind, "%s", err.Error())
	}
	return domain.NewExecError(domain.ErrKindInternal, "%s", err.Error())
}

// Shutdown stops admitting work and waits for in-flight executions, up to
// the context deadline.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.closing.Store(true)

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// safeGo runs fn on a goroutine that cannot take the process down.
func safeGo(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Op().Error("recovered panic in background task", "panic", r)
			}
		}()
		fn()
	}()
}
