package sandbox

import (
	"context"
	"time"

	"github.com/divitsinghall/Vortex/internal/domain"
	"github.com/dop251/goja"
)

// jobQueueSize bounds the number of fired-but-undispatched timer
// callbacks. Senders that hit the bound block until the loop catches up
// or the run ends.
const jobQueueSize = 1024

// runtime couples one goja heap with its event loop state. All fields
// except jobs and stopped are owned by the loop goroutine.
type runtime struct {
	vm   *goja.Runtime
	sink Sink
	ctx  context.Context

	jobs    chan func()
	stopped chan struct{}

	timers      map[int64]*timer
	nextTimerID int64

	logs    []domain.LogEvent
	nextSeq int64

	recorded goja.Value
	fatal    *domain.ExecError
}

type timer struct {
	t        *time.Timer
	fn       goja.Callable
	duration time.Duration
	interval bool
}

func newRuntime(sink Sink, stackSize int) *runtime {
	r := &runtime{
		vm:      goja.New(),
		sink:    sink,
		jobs:    make(chan func(), jobQueueSize),
		stopped: make(chan struct{}),
		timers:  make(map[int64]*timer),
	}
	r.vm.SetMaxCallStackSize(stackSize)
	r.bootstrap()
	return r
}

// post delivers a job to the loop from a timer goroutine. Once the run has
// ended the job is discarded, so no goroutine can leak on an abandoned
// queue.
func (r *runtime) post(job func()) {
	select {
	case r.jobs <- job:
	case <-r.stopped:
	}
}

// run executes the compiled program and then drives the event loop until
// the termination rule is met. It returns nil on success; the recorded
// value is read separately.
func (r *runtime) run(ctx context.Context, program *goja.Program) *domain.ExecError {
	r.ctx = ctx
	defer close(r.stopped)
	defer r.stopTimers()

	// Watchdog: interrupt the interpreter when the deadline elapses or the
	// caller cancels. The interpreter only checks the flag while executing,
	// so the loop below also watches ctx for the idle case.
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-watchdogDone:
		}
	}()

	v, err := r.vm.RunProgram(program)
	if err != nil {
		return r.classifyRunError(ctx, err)
	}

	promise, ok := v.Export().(*goja.Promise)
	if !ok {
		return domain.NewExecError(domain.ErrKindRuntime, "script did not evaluate to a promise")
	}

	// Drive the loop while work remains. Microtasks are drained by the
	// interpreter at the end of every outermost call, so between
	// iterations the only pending work is timers and their fired jobs.
	// When both are gone nothing can ever settle the promise again, which
	// also terminates scripts stalled on a promise that can never resolve.
	for len(r.timers) > 0 || len(r.jobs) > 0 {
		select {
		case job := <-r.jobs:
			job()
		case <-ctx.Done():
			return classifyInterrupt(ctx)
		}
		if r.fatal != nil {
			return r.fatal
		}
	}

	if promise.State() == goja.PromiseStateRejected {
		return domain.NewExecError(domain.ErrKindRuntime, "uncaught exception: %s", renderJSValue(promise.Result()))
	}

	// The body's return value counts as a write at completion time, but an
	// explicit vortex.return always has the last word.
	if r.recorded == nil && promise.State() == goja.PromiseStateFulfilled {
		r.recorded = promise.Result()
	}
	return nil
}

// classifyRunError distinguishes deadline interrupts from script throws.
func (r *runtime) classifyRunError(ctx context.Context, err error) *domain.ExecError {
	if _, ok := err.(*goja.InterruptedError); ok || ctx.Err() != nil {
		return classifyInterrupt(ctx)
	}
	return domain.NewExecError(domain.ErrKindRuntime, "%s", renderException(err))
}

// fireTimer runs one timer callback on the loop goroutine. Cleared timers
// whose fire was already in flight are skipped; intervals reschedule
// themselves before running their callback.
func (r *runtime) fireTimer(id int64) {
	t, ok := r.timers[id]
	if !ok {
		return
	}
	if t.interval {
		t.t.Reset(t.duration)
	} else {
		delete(r.timers, id)
	}

	if _, err := t.fn(goja.Undefined()); err != nil {
		r.fatal = r.classifyCallbackError(err)
	}
}

func (r *runtime) classifyCallbackError(err error) *domain.ExecError {
	if _, ok := err.(*goja.InterruptedError); ok {
		return classifyInterrupt(r.ctx)
	}
	return domain.NewExecError(domain.ErrKindRuntime, "uncaught exception in timer callback: %s", renderException(err))
}

func (r *runtime) stopTimers() {
	for id, t := range r.timers {
		t.t.Stop()
		delete(r.timers, id)
	}
}

// renderException extracts the thrown JS value from a goja error.
func renderException(err error) string {
	if ex, ok := err.(*goja.Exception); ok {
		return renderJSValue(ex.Value())
	}
	return err.Error()
}

func renderJSValue(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	return v.String()
}
