// Command vortex-runtime is the out-of-process sandbox worker.
//
// The orchestrator spawns one vortex-runtime per execution with the
// script in a temporary file. The worker streams each log event as one
// JSON line on standard error while the script runs, prints the result
// envelope on standard output at termination, and exits 0 only when the
// script succeeded. The deadline is enforced internally; the orchestrator
// additionally kills the process if it overstays.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/divitsinghall/Vortex/internal/domain"
	"github.com/divitsinghall/Vortex/internal/sandbox"
)

// lineSink writes each event to the given stream as a JSON line,
// flushing per event so the orchestrator sees logs live.
type lineSink struct {
	w *bufio.Writer
}

func (s *lineSink) Append(ev domain.LogEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.w.Write(data)
	s.w.WriteByte('\n')
	s.w.Flush()
}

func main() {
	timeoutMs := flag.Int64("timeout-ms", 0, "execution deadline in milliseconds (0 = none)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vortex-runtime [--timeout-ms N] <script-path>")
		os.Exit(2)
	}

	source, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read script: %v\n", err)
		os.Exit(2)
	}

	ctx := context.Background()
	if *timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*timeoutMs)*time.Millisecond)
		defer cancel()
	}

	sink := &lineSink{w: bufio.NewWriter(os.Stderr)}
	res := sandbox.Run(ctx, string(source), sandbox.Options{Sink: sink})
	sink.w.Flush()

	env := domain.NewRuntimeEnvelope(res.Value, res.Logs, res.Elapsed.Milliseconds())
	out := bufio.NewWriter(os.Stdout)
	if err := json.NewEncoder(out).Encode(env); err != nil {
		fmt.Fprintf(os.Stderr, "encode envelope: %v\n", err)
		os.Exit(2)
	}
	out.Flush()

	if res.Err() != nil {
		os.Exit(1)
	}
}
