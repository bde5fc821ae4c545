package domain

import "encoding/json"

// ReturnKind discriminates the ReturnValue union.
type ReturnKind string

const (
	// ReturnValueKind means the script produced a JSON-representable value.
	ReturnValueKind ReturnKind = "value"
	// ReturnEmpty means the script finished without recording a value.
	ReturnEmpty ReturnKind = "empty"
	// ReturnError means the execution failed; Err holds the classification.
	ReturnError ReturnKind = "error"
)

// ReturnValue is the tagged result of one execution. At most one is
// produced per execution, at sandbox termination.
type ReturnValue struct {
	Kind    ReturnKind      `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Err     *ExecError      `json:"-"`
}

// NewValue wraps an already-serialized JSON payload.
func NewValue(payload json.RawMessage) ReturnValue {
	return ReturnValue{Kind: ReturnValueKind, Payload: payload}
}

// EmptyReturn is the result of a script that never recorded a value.
func EmptyReturn() ReturnValue {
	return ReturnValue{Kind: ReturnEmpty}
}

// ErrorReturn wraps a classified failure.
func ErrorReturn(err *ExecError) ReturnValue {
	return ReturnValue{Kind: ReturnError, Err: err}
}

// Output renders the value for the execute response: the payload for
// values, JSON null otherwise.
func (r ReturnValue) Output() json.RawMessage {
	if r.Kind == ReturnValueKind && len(r.Payload) > 0 {
		return r.Payload
	}
	return json.RawMessage("null")
}

// RuntimeEnvelope is the structured record a sandbox produces at
// completion. In the out-of-process realization it is the exact JSON the
// child writes to standard output before exiting.
type RuntimeEnvelope struct {
	Output    json.RawMessage `json:"output"`
	Logs      []LogEvent      `json:"logs"`
	ElapsedMs int64           `json:"elapsed_ms"`
	Error     *envelopeError  `json:"error,omitempty"`
}

type envelopeError struct {
	Kind   ErrKind `json:"kind"`
	Detail string  `json:"detail,omitempty"`
}

// NewRuntimeEnvelope builds an envelope from a return value and log batch.
func NewRuntimeEnvelope(rv ReturnValue, logs []LogEvent, elapsedMs int64) RuntimeEnvelope {
	env := RuntimeEnvelope{
		Output:    rv.Output(),
		Logs:      logs,
		ElapsedMs: elapsedMs,
	}
	if env.Logs == nil {
		env.Logs = []LogEvent{}
	}
	if rv.Kind == ReturnError && rv.Err != nil {
		env.Error = &envelopeError{Kind: rv.Err.Kind, Detail: rv.Err.Detail}
	}
	return env
}

// Err returns the envelope's failure as an ExecError, or nil on success.
func (e *RuntimeEnvelope) Err() *ExecError {
	if e.Error == nil {
		return nil
	}
	return &ExecError{Kind: e.Error.Kind, Detail: e.Error.Detail}
}

// ExecuteResponse is the JSON body returned by the Execute operation.
type ExecuteResponse struct {
	Output          json.RawMessage `json:"output"`
	Logs            []LogEvent      `json:"logs"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
}
