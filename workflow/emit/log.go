package emit

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogEmitter implements Emitter by writing structured log lines through zerolog.
//
// Supports two output modes:
//   - Console mode (default): human-readable key=value output
//   - JSON mode: one JSON object per event
//
// Example console output:
//
//	10:04:05 INF action_end action=receive step=3 trace=5f0c... planned=false
//
// Example JSON output:
//
//	{"level":"info","trace":"5f0c...","step":3,"action":"receive","planned":false,"message":"action_end"}
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter creates a LogEmitter writing to writer.
//
// If writer is nil, os.Stdout is used.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	if !jsonMode {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.TimeOnly, NoColor: true}
	}
	return &LogEmitter{logger: zerolog.New(writer).With().Timestamp().Logger()}
}

// NewLoggerEmitter wraps an existing zerolog logger.
func NewLoggerEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

// Emit writes one event. Events carrying an "error" meta key are logged at
// warn level, everything else at info.
func (l *LogEmitter) Emit(event Event) {
	var ev *zerolog.Event
	if _, failed := event.Meta["error"]; failed {
		ev = l.logger.Warn()
	} else {
		ev = l.logger.Info()
	}

	ev = ev.Str("trace", event.TraceID).Int("step", event.Step)
	if event.Action != "" {
		ev = ev.Str("action", event.Action)
	}
	if len(event.Meta) > 0 {
		ev = ev.Fields(event.Meta)
	}
	ev.Msg(event.Msg)
}
