package domain

import (
	"encoding/json"
	"time"
)

// LogLevel tags a LogEvent with the console method that produced it.
type LogLevel string

const (
	LevelLog   LogLevel = "log"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelDebug LogLevel = "debug"
)

func (l LogLevel) IsValid() bool {
	switch l {
	case LevelLog, LevelInfo, LevelWarn, LevelError, LevelDebug:
		return true
	}
	return false
}

// LogEvent is one console emission from a running script.
//
// Sequence numbers are assigned by the sandbox and are strictly increasing
// within a single execution. They are not part of the wire format; ordering
// on the wire is positional.
type LogEvent struct {
	Seq       int64
	Level     LogLevel
	Message   string
	Timestamp time.Time
}

// logEventWire is the published JSON shape. The timestamp is ISO-8601;
// existing clients depend on the exact field set.
type logEventWire struct {
	Level     LogLevel `json:"level"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
}

func (e LogEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(logEventWire{
		Level:     e.Level,
		Message:   e.Message,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON accepts both the current wire shape and the earlier
// {"timestamp","message"} variant that carried no level. Events without a
// level are treated as plain "log".
func (e *LogEvent) UnmarshalJSON(data []byte) error {
	var w logEventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Level == "" {
		w.Level = LevelLog
	}
	var ts time.Time
	if w.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return err
		}
		ts = parsed
	}
	e.Level = w.Level
	e.Message = w.Message
	e.Timestamp = ts
	return nil
}
