package pallet

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the diagnostic logging surface used by Clock and BeatClock.
// It intentionally exposes only leveled messages with key/value pairs,
// not the full logiface builder chain, so the scheduling hot path never
// has to import or depend on a specific backend — callers wire in
// whichever logiface-compatible implementation they want via
// WithClockLogger.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// NopLogger discards everything. It is the default when no logger is
// configured, matching the spec's requirement that logging never be on
// the critical path when unconfigured.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

// logifaceLogger adapts a logiface.Logger[*stumpy.Event] to the Logger
// interface, spreading the kv pairs onto the builder chain with Any.
type logifaceLogger struct {
	l *logiface.Logger[*stumpy.Event]
}

// NewStumpyLogger builds a Logger backed by stumpy's JSON logiface
// backend, writing one JSON object per line. This is the package's
// concrete, ready-to-use production logger.
func NewStumpyLogger(opts ...stumpy.Option) Logger {
	return &logifaceLogger{l: stumpy.L.New(stumpy.L.WithStumpy(opts...))}
}

func (l *logifaceLogger) Debug(msg string, kv ...any) { l.log(l.l.Debug(), msg, kv) }
func (l *logifaceLogger) Info(msg string, kv ...any)  { l.log(l.l.Info(), msg, kv) }
func (l *logifaceLogger) Warn(msg string, kv ...any)  { l.log(l.l.Warning(), msg, kv) }
func (l *logifaceLogger) Error(msg string, kv ...any) { l.log(l.l.Err(), msg, kv) }

func (l *logifaceLogger) log(b *logiface.Builder[*stumpy.Event], msg string, kv []any) {
	if b == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if key == "" {
			continue
		}
		if err, ok := kv[i+1].(error); ok {
			b = b.Err(err)
			continue
		}
		b = b.Any(key, kv[i+1])
	}
	b.Log(msg)
}
