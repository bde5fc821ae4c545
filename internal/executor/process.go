package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/divitsinghall/Vortex/internal/domain"
	"github.com/divitsinghall/Vortex/internal/logging"
	"github.com/divitsinghall/Vortex/internal/sandbox"
)

// ProcessInvoker runs each script in a vortex-runtime child process.
//
// The child reads the script from a uniquely named temporary file,
// streams log events as JSON lines on standard error, and prints the
// result envelope on standard output before exiting. Exit status zero
// means the script succeeded; a failed script exits non-zero but still
// prints a parseable envelope carrying the classification. The deadline
// is enforced both inside the child and, forcibly, by killing it;
// cooperative shutdown of untrusted code is never relied on.
type ProcessInvoker struct {
	binaryPath string
	// waitDelay bounds how long a killed child may linger before its
	// pipes are forced closed.
	waitDelay time.Duration
}

// NewProcessInvoker creates an invoker that spawns binaryPath per call.
func NewProcessInvoker(binaryPath string) *ProcessInvoker {
	return &ProcessInvoker{binaryPath: binaryPath, waitDelay: 2 * time.Second}
}

func (i *ProcessInvoker) Invoke(ctx context.Context, execution *domain.Execution, source string, sink sandbox.Sink) (*domain.RuntimeEnvelope, error) {
	srcFile, err := os.CreateTemp("", "vortex-src-*.js")
	if err != nil {
		return nil, domain.NewExecError(domain.ErrKindInternal, "create source file: %s", err)
	}
	srcPath := srcFile.Name()
	// The source file is deleted on every exit path.
	defer os.Remove(srcPath)

	if _, err := srcFile.WriteString(source); err != nil {
		srcFile.Close()
		return nil, domain.NewExecError(domain.ErrKindInternal, "write source file: %s", err)
	}
	if err := srcFile.Close(); err != nil {
		return nil, domain.NewExecError(domain.ErrKindInternal, "close source file: %s", err)
	}

	timeoutMs := int64(0)
	if dl, ok := ctx.Deadline(); ok {
		timeoutMs = time.Until(dl).Milliseconds()
		if timeoutMs <= 0 {
			return nil, domain.NewExecError(domain.ErrKindTimeout, "execution deadline elapsed")
		}
	}

	cmd := exec.CommandContext(ctx, i.binaryPath, "--timeout-ms", strconv.FormatInt(timeoutMs, 10), srcPath)
	cmd.WaitDelay = i.waitDelay

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, domain.NewExecError(domain.ErrKindInternal, "stderr pipe: %s", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, domain.NewExecError(domain.ErrKindInternal, "spawn runtime: %s", err)
	}

	// Forward streamed log events until the child closes its stderr.
	// Reading to EOF before Wait is required by os/exec; it also
	// guarantees every event is on the bus before the envelope is
	// returned.
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev domain.LogEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			logging.Op().Warn("runtime child: undecodable log line",
				"execution", execution.ID, "error", err)
			continue
		}
		sink.Append(ev)
	}

	waitErr := cmd.Wait()

	env := &domain.RuntimeEnvelope{}
	if parseErr := json.Unmarshal(stdout.Bytes(), env); parseErr == nil && env.Logs != nil {
		// A parseable envelope is authoritative regardless of exit status.
		return env, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, domain.NewExecError(domain.ErrKindTimeout, "execution deadline elapsed")
	case ctx.Err() != nil:
		return nil, domain.NewExecError(domain.ErrKindAborted, "execution aborted")
	case waitErr != nil:
		return nil, domain.NewExecError(domain.ErrKindRuntime,
			"runtime exited without a result envelope: %s", waitErr)
	default:
		return nil, domain.NewExecError(domain.ErrKindRuntime,
			"malformed runtime output: %s", firstLine(stdout.Bytes()))
	}
}

func firstLine(b []byte) string {
	if idx := bytes.IndexByte(b, '\n'); idx >= 0 {
		b = b[:idx]
	}
	const max = 200
	if len(b) > max {
		b = b[:max]
	}
	if len(b) == 0 {
		return "<empty>"
	}
	return fmt.Sprintf("%q", b)
}
