package sandbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/divitsinghall/Vortex/internal/domain"
)

// collectSink records appended events for assertions.
type collectSink struct {
	mu     sync.Mutex
	events []domain.LogEvent
}

func (s *collectSink) Append(ev domain.LogEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func runScript(t *testing.T, source string, timeout time.Duration) *Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return Run(ctx, source, Options{})
}

func TestHelloReturn(t *testing.T) {
	res := runScript(t, `console.log("hi"); vortex.return(42);`, time.Second)

	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Value.Output()) != "42" {
		t.Fatalf("output: %s", res.Value.Output())
	}
	if len(res.Logs) != 1 || res.Logs[0].Message != "hi" || res.Logs[0].Level != domain.LevelLog {
		t.Fatalf("logs: %+v", res.Logs)
	}
	if res.Elapsed >= time.Second {
		t.Fatalf("elapsed implausible: %v", res.Elapsed)
	}
}

func TestTopLevelReturn(t *testing.T) {
	res := runScript(t, `return "done";`, time.Second)
	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Value.Output()) != `"done"` {
		t.Fatalf("output: %s", res.Value.Output())
	}
}

func TestAsyncSleep(t *testing.T) {
	res := runScript(t, `await new Promise(r => setTimeout(r, 50)); vortex.return("ok");`, 2*time.Second)

	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Value.Output()) != `"ok"` {
		t.Fatalf("output: %s", res.Value.Output())
	}
	if res.Elapsed < 50*time.Millisecond {
		t.Fatalf("elapsed %v, sleep was 50ms", res.Elapsed)
	}
}

func TestLogOrdering(t *testing.T) {
	res := runScript(t, `console.log("a"); console.log("b"); console.log("c");`, time.Second)

	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Logs) != 3 {
		t.Fatalf("want 3 logs, got %d", len(res.Logs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if res.Logs[i].Message != want {
			t.Fatalf("log %d: %q", i, res.Logs[i].Message)
		}
		if res.Logs[i].Seq != int64(i) {
			t.Fatalf("seq %d: %d", i, res.Logs[i].Seq)
		}
	}
}

func TestSeverityTagging(t *testing.T) {
	res := runScript(t, `
		console.info("i");
		console.warn("w");
		console.error("e");
		console.debug("d");
	`, time.Second)

	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []struct {
		level domain.LogLevel
		msg   string
	}{
		{domain.LevelInfo, "[info] i"},
		{domain.LevelWarn, "[warn] w"},
		{domain.LevelError, "[error] e"},
		{domain.LevelDebug, "[debug] d"},
	}
	if len(res.Logs) != len(want) {
		t.Fatalf("logs: %+v", res.Logs)
	}
	for i, w := range want {
		if res.Logs[i].Level != w.level || res.Logs[i].Message != w.msg {
			t.Fatalf("log %d: %+v, want %+v", i, res.Logs[i], w)
		}
	}
}

func TestConsoleStringification(t *testing.T) {
	res := runScript(t, `console.log({a: 1}, [1, 2], "s", 3, null, undefined, true);`, time.Second)

	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"a":1} [1,2] s 3 null undefined true`
	if res.Logs[0].Message != want {
		t.Fatalf("message: %q, want %q", res.Logs[0].Message, want)
	}
}

func TestCompileError(t *testing.T) {
	res := runScript(t, `this is not js`, time.Second)

	err := res.Err()
	if err == nil || err.Kind != domain.ErrKindCompile {
		t.Fatalf("expected compile error, got %+v", res.Value)
	}
	if len(res.Logs) != 0 {
		t.Fatalf("compile failure must have no logs: %+v", res.Logs)
	}
}

func TestRuntimeError(t *testing.T) {
	res := runScript(t, `console.log("before"); throw new Error("kaput");`, time.Second)

	err := res.Err()
	if err == nil || err.Kind != domain.ErrKindRuntime {
		t.Fatalf("expected runtime error, got %+v", res.Value)
	}
	// Logs emitted before the throw are preserved.
	if len(res.Logs) != 1 || res.Logs[0].Message != "before" {
		t.Fatalf("logs before failure lost: %+v", res.Logs)
	}
}

func TestTimeoutOnBusyLoop(t *testing.T) {
	start := time.Now()
	res := runScript(t, `while (true) {}`, 200*time.Millisecond)

	err := res.Err()
	if err == nil || err.Kind != domain.ErrKindTimeout {
		t.Fatalf("expected timeout, got %+v", res.Value)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("termination slack too large: %v", elapsed)
	}
}

func TestTimeoutInTimerCallback(t *testing.T) {
	res := runScript(t, `setTimeout(() => { while (true) {} }, 10);`, 200*time.Millisecond)

	err := res.Err()
	if err == nil || err.Kind != domain.ErrKindTimeout {
		t.Fatalf("expected timeout, got %+v", res.Value)
	}
}

func TestAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	res := Run(ctx, `await new Promise(r => setTimeout(r, 10000));`, Options{})

	err := res.Err()
	if err == nil || err.Kind != domain.ErrKindAborted {
		t.Fatalf("expected aborted, got %+v", res.Value)
	}
}

func TestUnserializableReturn(t *testing.T) {
	res := runScript(t, `const a = {}; a.self = a; vortex.return(a);`, time.Second)

	err := res.Err()
	if err == nil || err.Kind != domain.ErrKindRuntime {
		t.Fatalf("cyclic return must be a runtime error, got %+v", res.Value)
	}

	res = runScript(t, `vortex.return(function() {});`, time.Second)
	err = res.Err()
	if err == nil || err.Kind != domain.ErrKindRuntime {
		t.Fatalf("function return must be a runtime error, got %+v", res.Value)
	}
}

func TestEmptyReturn(t *testing.T) {
	res := runScript(t, `console.log("no return");`, time.Second)

	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Value.Kind != domain.ReturnEmpty {
		t.Fatalf("expected empty return, got %+v", res.Value)
	}
	if string(res.Value.Output()) != "null" {
		t.Fatalf("empty output renders null, got %s", res.Value.Output())
	}
}

func TestLastWriteWins(t *testing.T) {
	res := runScript(t, `vortex.return(1); vortex.return(2); vortex.return(3);`, time.Second)
	if string(res.Value.Output()) != "3" {
		t.Fatalf("output: %s", res.Value.Output())
	}
}

func TestReturnFromTimerAfterBodyCompletes(t *testing.T) {
	res := runScript(t, `
		setTimeout(() => { console.log("late"); vortex.return("from-timer"); }, 20);
	`, time.Second)

	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Value.Output()) != `"from-timer"` {
		t.Fatalf("output: %s", res.Value.Output())
	}
	if len(res.Logs) != 1 || res.Logs[0].Message != "late" {
		t.Fatalf("timer log lost: %+v", res.Logs)
	}
}

func TestIntervalClears(t *testing.T) {
	res := runScript(t, `
		let n = 0;
		const id = setInterval(() => {
			n++;
			console.log("tick " + n);
			if (n === 3) {
				clearInterval(id);
				vortex.return(n);
			}
		}, 5);
	`, 5*time.Second)

	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Value.Output()) != "3" {
		t.Fatalf("output: %s", res.Value.Output())
	}
	if len(res.Logs) != 3 {
		t.Fatalf("ticks: %+v", res.Logs)
	}
}

func TestClearTimeoutDropsTask(t *testing.T) {
	res := runScript(t, `
		const id = setTimeout(() => { console.log("never"); }, 50);
		clearTimeout(id);
		vortex.return("cleared");
	`, 2*time.Second)

	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Logs) != 0 {
		t.Fatalf("cleared timer still ran: %+v", res.Logs)
	}
}

func TestNegativeDelayCoercedToZero(t *testing.T) {
	res := runScript(t, `setTimeout(() => vortex.return("fired"), -100);`, time.Second)
	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Value.Output()) != `"fired"` {
		t.Fatalf("output: %s", res.Value.Output())
	}
}

func TestSinkReceivesEventsInOrder(t *testing.T) {
	sink := &collectSink{}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res := Run(ctx, `console.log("x"); console.log("y");`, Options{Sink: sink})
	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 2 || sink.events[0].Message != "x" || sink.events[1].Message != "y" {
		t.Fatalf("sink events: %+v", sink.events)
	}
}

func TestFreshHeapPerRun(t *testing.T) {
	first := runScript(t, `globalThis.leak = "secret"; vortex.return("set");`, time.Second)
	if err := first.Err(); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := runScript(t, `vortex.return(typeof globalThis.leak);`, time.Second)
	if err := second.Err(); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if string(second.Value.Output()) != `"undefined"` {
		t.Fatalf("state leaked across invocations: %s", second.Value.Output())
	}
}

func TestNoHostAmbientAuthority(t *testing.T) {
	for _, src := range []string{
		`vortex.return(typeof require);`,
		`vortex.return(typeof process);`,
		`vortex.return(typeof Deno);`,
		`vortex.return(typeof fetch);`,
	} {
		res := runScript(t, src, time.Second)
		if err := res.Err(); err != nil {
			t.Fatalf("%s: %v", src, err)
		}
		if string(res.Value.Output()) != `"undefined"` {
			t.Fatalf("%s leaked: %s", src, res.Value.Output())
		}
	}
}

func TestCapabilitySurfaceIsFrozen(t *testing.T) {
	res := runScript(t, `
		console.log = function() { throw new Error("hijacked"); };
		console.log("still fine");
		vortex.return("ok");
	`, time.Second)

	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Logs) != 1 || res.Logs[0].Message != "still fine" {
		t.Fatalf("console was replaced: %+v", res.Logs)
	}
}

func TestErrorsMatchSentinels(t *testing.T) {
	res := runScript(t, `while (true) {}`, 100*time.Millisecond)
	if !errors.Is(res.Err(), domain.ErrTimeout) {
		t.Fatalf("timeout result should match sentinel: %v", res.Err())
	}
}
