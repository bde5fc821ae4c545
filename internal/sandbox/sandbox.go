// Package sandbox runs one untrusted JavaScript program to completion
// inside a fresh goja heap with a fixed capability surface.
//
// # Execution model
//
// User source is wrapped in an async IIFE so both top-level await and
// top-level return work, then compiled and run under a cooperative
// single-goroutine event loop. Timers created by the script are backed by
// native time.Timer instances whose fire posts a job onto the loop's
// queue; user code therefore never runs on more than one goroutine, and
// all suspension happens at await points or between jobs.
//
// # Capability surface
//
// The bootstrap installs console.{log,info,warn,error,debug}, setTimeout,
// clearTimeout, setInterval, clearInterval and vortex.return before user
// code runs, then freezes the installed objects. goja provides no ambient
// authority (no filesystem, network, or process access), so everything
// outside this surface is denied by construction.
//
// # Termination
//
// The runtime is done when the wrapping promise has settled and no jobs
// or live timers remain, or when the deadline elapses or the context is
// cancelled. On deadline/cancel the interpreter is interrupted at its next
// instruction and no further jobs are dispatched; log events already
// emitted are always preserved in the result.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/divitsinghall/Vortex/internal/domain"
	"github.com/dop251/goja"
)

// Sink receives each log event as the script emits it, in order. Append
// must not block; the bus publish path satisfies this.
type Sink interface {
	Append(ev domain.LogEvent)
}

// discardSink is used when the caller provides no sink.
type discardSink struct{}

func (discardSink) Append(domain.LogEvent) {}

// Options configures a single run.
type Options struct {
	// Sink receives log events out-of-band as they are emitted.
	Sink Sink

	// MaxCallStackSize bounds recursion depth. Zero selects the default.
	MaxCallStackSize int
}

const defaultMaxCallStackSize = 4096

// Result is the outcome of one run. Logs always contains every event the
// script emitted before termination, in emission order, regardless of how
// the run ended.
type Result struct {
	Value   domain.ReturnValue
	Logs    []domain.LogEvent
	Elapsed time.Duration
}

// Err returns the run's failure classification, or nil on success.
func (r *Result) Err() *domain.ExecError {
	if r.Value.Kind == domain.ReturnError {
		return r.Value.Err
	}
	return nil
}

// Run compiles and executes source in a fresh isolated heap. The deadline
// and cancellation are taken from ctx; expiry yields a Timeout result and
// cancellation an Aborted result. Run never panics on script misbehavior.
func Run(ctx context.Context, source string, opts Options) *Result {
	sink := opts.Sink
	if sink == nil {
		sink = discardSink{}
	}
	stackSize := opts.MaxCallStackSize
	if stackSize <= 0 {
		stackSize = defaultMaxCallStackSize
	}

	start := time.Now()
	r := newRuntime(sink, stackSize)

	program, err := goja.Compile("function.js", wrapSource(source), false)
	if err != nil {
		return &Result{
			Value:   domain.ErrorReturn(domain.NewExecError(domain.ErrKindCompile, "%s", err.Error())),
			Logs:    r.logs,
			Elapsed: time.Since(start),
		}
	}

	execErr := r.run(ctx, program)
	res := &Result{Logs: r.logs, Elapsed: time.Since(start)}
	if execErr != nil {
		res.Value = domain.ErrorReturn(execErr)
		return res
	}

	res.Value = r.returnValue()
	return res
}

// wrapSource embeds the user program in an async IIFE. This gives the
// script top-level await and a working top-level return without any
// source rewriting.
func wrapSource(source string) string {
	return "(async function() {\n" + source + "\n})();"
}

// returnValue resolves the recorded value to the tagged union. An explicit
// vortex.return wins over the script body's return value; undefined means
// the execution produced nothing.
func (r *runtime) returnValue() domain.ReturnValue {
	v := r.recorded
	if v == nil || goja.IsUndefined(v) {
		return domain.EmptyReturn()
	}

	payload, err := json.Marshal(v.Export())
	if err != nil {
		return domain.ErrorReturn(domain.NewExecError(domain.ErrKindRuntime,
			"unserializable return value: %s", err.Error()))
	}
	return domain.NewValue(payload)
}

// classifyInterrupt maps a context failure to its error kind.
func classifyInterrupt(ctx context.Context) *domain.ExecError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewExecError(domain.ErrKindTimeout, "execution deadline elapsed")
	}
	return domain.NewExecError(domain.ErrKindAborted, "execution aborted")
}
