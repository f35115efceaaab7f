package core

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to Logger. Arguments are read as
// alternating keys and values; a trailing key without value is logged under
// "arg".
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps log.
func NewZerologLogger(log zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{log: log}
}

// NewConsoleLogger builds a timestamped zerolog logger writing to w at the
// level named by level (debug, info, warn, error). Unknown or empty levels
// fall back to info. A nil w writes to stderr.
func NewConsoleLogger(w io.Writer, level string, pretty bool) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return NewZerologLogger(zerolog.New(w).Level(lvl).With().Timestamp().Logger())
}

// Zerolog exposes the wrapped logger.
func (l *ZerologLogger) Zerolog() zerolog.Logger { return l.log }

func (l *ZerologLogger) Debug(msg string, args ...any) { withFields(l.log.Debug(), args).Msg(msg) }
func (l *ZerologLogger) Info(msg string, args ...any)  { withFields(l.log.Info(), args).Msg(msg) }
func (l *ZerologLogger) Warn(msg string, args ...any)  { withFields(l.log.Warn(), args).Msg(msg) }
func (l *ZerologLogger) Error(msg string, args ...any) { withFields(l.log.Error(), args).Msg(msg) }

func withFields(event *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			event = event.Interface("arg", args[i])
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		switch v := args[i+1].(type) {
		case error:
			event = event.AnErr(key, v)
		case time.Duration:
			event = event.Dur(key, v)
		default:
			event = event.Interface(key, v)
		}
	}
	return event
}
