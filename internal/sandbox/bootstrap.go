package sandbox

import (
	"strings"
	"time"

	"github.com/divitsinghall/Vortex/internal/domain"
	"github.com/dop251/goja"
)

// bootstrap installs the capability surface into the fresh heap. It runs
// before user code, references no external resources, and finishes by
// freezing the installed objects so scripts cannot swap them out.
func (r *runtime) bootstrap() {
	r.setupConsole()
	r.setupTimers()
	r.setupVortex()

	// Final step: lock the surface down. goja exposes no engine-native
	// escape hatch, so freezing the injected globals completes the seal.
	_, err := r.vm.RunString(`Object.freeze(console); Object.freeze(vortex);`)
	if err != nil {
		panic("sandbox: bootstrap failed: " + err.Error())
	}
}

func (r *runtime) setupConsole() {
	console := r.vm.NewObject()
	for _, level := range []domain.LogLevel{
		domain.LevelLog, domain.LevelInfo, domain.LevelWarn, domain.LevelError, domain.LevelDebug,
	} {
		level := level
		_ = console.Set(string(level), func(call goja.FunctionCall) goja.Value {
			r.emit(level, call.Arguments)
			return goja.Undefined()
		})
	}
	_ = r.vm.Set("console", console)
}

// emit records one log event and fires the sink. All severities flow
// through the single log channel; non-default severities carry a bracketed
// tag in the message and keep their original level on the event.
func (r *runtime) emit(level domain.LogLevel, args []goja.Value) {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, r.stringify(arg))
	}
	msg := strings.Join(parts, " ")
	if level != domain.LevelLog {
		msg = "[" + string(level) + "] " + msg
	}

	ev := domain.LogEvent{
		Seq:       r.nextSeq,
		Level:     level,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	}
	r.nextSeq++

	r.logs = append(r.logs, ev)
	r.sink.Append(ev)
}

// stringify renders one console argument: objects through JSON with a
// primitive cast fallback, everything else through the engine's default
// string conversion (so undefined, null and non-finite numbers render the
// way the engine renders them).
func (r *runtime) stringify(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if s, ok := r.jsonStringify(obj); ok {
			return s
		}
	}
	return v.String()
}

// jsonStringify runs the engine's own JSON.stringify so the rendering
// matches what the script would see. Functions and other unrepresentable
// objects yield undefined and fall back to the primitive cast.
func (r *runtime) jsonStringify(v goja.Value) (string, bool) {
	jsonObj := r.vm.Get("JSON").ToObject(r.vm)
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return "", false
	}
	out, err := stringify(jsonObj, v)
	if err != nil || goja.IsUndefined(out) {
		return "", false
	}
	return out.String(), true
}

func (r *runtime) setupTimers() {
	_ = r.vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return r.scheduleTimer(call, false)
	})
	_ = r.vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return r.scheduleTimer(call, true)
	})
	_ = r.vm.Set("clearTimeout", func(call goja.FunctionCall) goja.Value {
		r.clearTimer(call.Argument(0))
		return goja.Undefined()
	})
	_ = r.vm.Set("clearInterval", func(call goja.FunctionCall) goja.Value {
		r.clearTimer(call.Argument(0))
		return goja.Undefined()
	})
}

// scheduleTimer registers a cooperative timer. The native timer's fire
// posts a job to the loop; nothing runs concurrently with script code.
func (r *runtime) scheduleTimer(call goja.FunctionCall, interval bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(r.vm.NewTypeError("timer callback must be a function"))
	}
	delay := coerceDelay(call.Argument(1))

	r.nextTimerID++
	id := r.nextTimerID
	t := &timer{fn: fn, duration: delay, interval: interval}
	r.timers[id] = t
	t.t = time.AfterFunc(delay, func() {
		r.post(func() { r.fireTimer(id) })
	})
	return r.vm.ToValue(id)
}

func (r *runtime) clearTimer(idVal goja.Value) {
	if idVal == nil || goja.IsUndefined(idVal) || goja.IsNull(idVal) {
		return
	}
	id := idVal.ToInteger()
	if t, ok := r.timers[id]; ok {
		t.t.Stop()
		delete(r.timers, id)
	}
}

// coerceDelay clamps the delay argument to a non-negative integral
// millisecond count; negative and missing delays become zero.
func coerceDelay(v goja.Value) time.Duration {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	ms := v.ToInteger()
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

func (r *runtime) setupVortex() {
	vortex := r.vm.NewObject()
	_ = vortex.Set("return", func(call goja.FunctionCall) goja.Value {
		// Last write wins, including calls from timer callbacks after the
		// script body has returned.
		r.recorded = call.Argument(0)
		return goja.Undefined()
	})
	_ = r.vm.Set("vortex", vortex)
}
