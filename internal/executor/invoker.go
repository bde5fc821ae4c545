package executor

import (
	"context"

	"github.com/divitsinghall/Vortex/internal/domain"
	"github.com/divitsinghall/Vortex/internal/sandbox"
)

// Invoker abstracts the sandbox realization. The in-process and
// out-of-process invokers are behaviorally equivalent: both honor the
// context deadline, stream log events through the sink as they happen,
// and produce a runtime envelope at termination.
//
// Implementations must be safe for concurrent use; every call runs in a
// fully isolated sandbox instance.
type Invoker interface {
	Invoke(ctx context.Context, exec *domain.Execution, source string, sink sandbox.Sink) (*domain.RuntimeEnvelope, error)
}

// LocalInvoker runs the script in-process on a fresh goja heap per
// invocation. The heap is released when the call returns; no state
// survives between invocations.
type LocalInvoker struct{}

// NewLocalInvoker creates the in-process invoker.
func NewLocalInvoker() *LocalInvoker {
	return &LocalInvoker{}
}

func (i *LocalInvoker) Invoke(ctx context.Context, _ *domain.Execution, source string, sink sandbox.Sink) (*domain.RuntimeEnvelope, error) {
	res := sandbox.Run(ctx, source, sandbox.Options{Sink: sink})
	env := domain.NewRuntimeEnvelope(res.Value, res.Logs, res.Elapsed.Milliseconds())
	return &env, nil
}
