package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/divitsinghall/Vortex/internal/bus"
	"github.com/divitsinghall/Vortex/internal/domain"
	"github.com/divitsinghall/Vortex/internal/executor"
	"github.com/divitsinghall/Vortex/internal/gateway"
	"github.com/divitsinghall/Vortex/internal/pool"
	"github.com/divitsinghall/Vortex/internal/store"
)

func newTestServer(t *testing.T, capacity int) *httptest.Server {
	t.Helper()

	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	b := bus.NewMemory(0)
	t.Cleanup(func() { b.Close() })

	p := pool.New(capacity)
	exec := executor.New(p, b, executor.NewLocalInvoker(),
		executor.WithDefaultTimeout(2*time.Second),
		executor.WithSubscribeGrace(50*time.Millisecond),
	)
	h := &Handler{
		Store:   st,
		Exec:    exec,
		Gateway: gateway.New(b, exec.Topics()),
		Pool:    p,
	}

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func deploy(t *testing.T, srv *httptest.Server, source string) string {
	t.Helper()
	body, _ := json.Marshal(domain.DeployRequest{Source: source})
	resp, err := http.Post(srv.URL+"/functions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deploy status: %d", resp.StatusCode)
	}
	var out domain.DeployResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("deploy decode: %v", err)
	}
	if out.FunctionID == "" {
		t.Fatal("deploy returned empty function id")
	}
	return out.FunctionID
}

func execute(t *testing.T, srv *httptest.Server, id string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/functions/"+id+"/execute", "application/json", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func TestDeployExecuteRoundTrip(t *testing.T) {
	srv := newTestServer(t, 2)

	id := deploy(t, srv, `console.log("hi"); vortex.return(42);`)
	resp, body := execute(t, srv, id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status %d: %s", resp.StatusCode, body)
	}

	var out domain.ExecuteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out.Output) != "42" {
		t.Fatalf("output: %s", out.Output)
	}
	if len(out.Logs) != 1 || out.Logs[0].Message != "hi" || out.Logs[0].Level != domain.LevelLog {
		t.Fatalf("logs: %+v", out.Logs)
	}
	if out.ExecutionTimeMs >= 1000 {
		t.Fatalf("execution time: %d", out.ExecutionTimeMs)
	}
}

func TestDeployedSourceIsStoredByteForByte(t *testing.T) {
	srv := newTestServer(t, 1)

	source := "console.log(\"exact\");\n\tvortex.return(\"\\n\");\n"
	id := deploy(t, srv, source)

	resp, err := http.Get(srv.URL + "/functions/" + id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["source"] != source {
		t.Fatalf("round trip mismatch:\n%q\n%q", out["source"], source)
	}
}

func TestDeployEmptySource(t *testing.T) {
	srv := newTestServer(t, 1)

	body, _ := json.Marshal(domain.DeployRequest{Source: ""})
	resp, err := http.Post(srv.URL+"/functions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestExecuteUnknownFunction(t *testing.T) {
	srv := newTestServer(t, 1)

	resp, body := execute(t, srv, "does-not-exist")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var eb map[string]string
	if err := json.Unmarshal(body, &eb); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if eb["error"] != "not_found" {
		t.Fatalf("error kind: %v", eb)
	}
}

func TestExecuteTimeoutIs504(t *testing.T) {
	srv := newTestServer(t, 1)

	id := deploy(t, srv, `while (true) {}`)
	resp, body := execute(t, srv, id)
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
}

func TestExecuteCompileErrorIs500(t *testing.T) {
	srv := newTestServer(t, 1)

	id := deploy(t, srv, `this is not js`)
	resp, body := execute(t, srv, id)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var eb map[string]string
	if err := json.Unmarshal(body, &eb); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if eb["error"] != "compile_error" || eb["detail"] == "" {
		t.Fatalf("error body: %v", eb)
	}
}

func TestCapacitySheddingUnderConcurrency(t *testing.T) {
	const capacity = 3
	const callers = capacity + 1
	srv := newTestServer(t, capacity)

	id := deploy(t, srv, `await new Promise(r => setTimeout(r, 500)); vortex.return("slept");`)

	var mu sync.Mutex
	statuses := map[int]int{}

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Stagger slightly so all slots fill before the last request.
			resp, _ := execute(t, srv, id)
			mu.Lock()
			statuses[resp.StatusCode]++
			mu.Unlock()
		}()
		time.Sleep(50 * time.Millisecond)
	}
	wg.Wait()

	if statuses[http.StatusServiceUnavailable] != 1 {
		t.Fatalf("want exactly 1 shed request, got %v", statuses)
	}
	if statuses[http.StatusOK] != capacity {
		t.Fatalf("want %d successes, got %v", capacity, statuses)
	}
}

func TestLogOrderingEndToEnd(t *testing.T) {
	srv := newTestServer(t, 1)

	id := deploy(t, srv, `console.log("a"); console.log("b"); console.log("c");`)
	resp, body := execute(t, srv, id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	var out domain.ExecuteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Logs) != 3 {
		t.Fatalf("logs: %+v", out.Logs)
	}
	for i, want := range []string{"a", "b", "c"} {
		if out.Logs[i].Message != want {
			t.Fatalf("log %d: %q", i, out.Logs[i].Message)
		}
	}
}

func TestStats(t *testing.T) {
	srv := newTestServer(t, 7)

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	defer resp.Body.Close()

	var stats pool.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Capacity != 7 || stats.InUse != 0 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, 1)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestAsyncSleepTiming(t *testing.T) {
	srv := newTestServer(t, 1)

	id := deploy(t, srv, `await new Promise(r => setTimeout(r, 50)); vortex.return("ok");`)
	resp, body := execute(t, srv, id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	var out domain.ExecuteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out.Output) != `"ok"` {
		t.Fatalf("output: %s", out.Output)
	}
	if out.ExecutionTimeMs < 50 {
		t.Fatalf("execution time %dms, slept 50ms", out.ExecutionTimeMs)
	}
}

func TestExecuteResponseShape(t *testing.T) {
	srv := newTestServer(t, 1)

	id := deploy(t, srv, `vortex.return({nested: [1, "two", null]});`)
	resp, body := execute(t, srv, id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, field := range []string{"output", "logs", "execution_time_ms"} {
		if _, ok := raw[field]; !ok {
			t.Fatalf("response missing %q: %s", field, body)
		}
	}

	var output map[string]any
	if err := json.Unmarshal(raw["output"], &output); err != nil {
		t.Fatalf("output not a JSON tree: %v", err)
	}
	if fmt.Sprintf("%v", output["nested"]) != "[1 two <nil>]" {
		t.Fatalf("nested output: %v", output["nested"])
	}
}
