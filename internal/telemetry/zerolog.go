package telemetry

import (
	"context"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts zerolog.Logger to the Logger interface, grounded on
// the structured-logging convention the teacher's ClueLogger follows (one
// log line per call, alternating key/value fields attached to the event).
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog.Logger.
func NewZerologLogger(log zerolog.Logger) Logger {
	return ZerologLogger{log: log}
}

func withFields(e *zerolog.Event, keyvals ...any) *zerolog.Event {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, keyvals[i+1])
	}
	return e
}

func (l ZerologLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	withFields(l.log.Debug(), keyvals...).Msg(msg)
}

func (l ZerologLogger) Info(_ context.Context, msg string, keyvals ...any) {
	withFields(l.log.Info(), keyvals...).Msg(msg)
}

func (l ZerologLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	withFields(l.log.Warn(), keyvals...).Msg(msg)
}

func (l ZerologLogger) Error(_ context.Context, msg string, keyvals ...any) {
	withFields(l.log.Error(), keyvals...).Msg(msg)
}
