package simpleredis

import (
	"time"

	"github.com/rs/zerolog"
)

// zerologLogger implements Logger on top of a zerolog.Logger
type zerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger returns a Logger that writes through l
//
// Example:
//
//	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
//	srv, err := simpleredis.New(simpleredis.WithLogger(simpleredis.NewZerologLogger(logger)))
func NewZerologLogger(l zerolog.Logger) Logger {
	return &zerologLogger{log: l}
}

func (z *zerologLogger) Debug(msg string, fields ...Field) {
	withFields(z.log.Debug(), fields).Msg(msg)
}

func (z *zerologLogger) Info(msg string, fields ...Field) {
	withFields(z.log.Info(), fields).Msg(msg)
}

func (z *zerologLogger) Error(msg string, fields ...Field) {
	withFields(z.log.Error(), fields).Msg(msg)
}

func withFields(ev *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			ev = ev.Str(f.Key, v)
		case int:
			ev = ev.Int(f.Key, v)
		case int64:
			ev = ev.Int64(f.Key, v)
		case bool:
			ev = ev.Bool(f.Key, v)
		case time.Duration:
			ev = ev.Dur(f.Key, v)
		case error:
			ev = ev.AnErr(f.Key, v)
		default:
			ev = ev.Interface(f.Key, v)
		}
	}
	return ev
}
