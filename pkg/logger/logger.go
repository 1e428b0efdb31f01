package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level defines log levels.
type Level int8

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
	PanicLevel
	NoLevel
	Disabled
	TraceLevel Level = -1
)

func (l Level) String() string {
	switch l {
	case TraceLevel:
		return zerolog.LevelTraceValue
	case DebugLevel:
		return zerolog.LevelDebugValue
	case InfoLevel:
		return zerolog.LevelInfoValue
	case WarnLevel:
		return zerolog.LevelWarnValue
	case ErrorLevel:
		return zerolog.LevelErrorValue
	case FatalLevel:
		return zerolog.LevelFatalValue
	case PanicLevel:
		return zerolog.LevelPanicValue
	case Disabled:
		return "disabled"
	case NoLevel:
		return ""
	}
	return strconv.Itoa(int(l))
}

var pid = os.Getpid()

type Logger struct {
	logger *zerolog.Logger
}

// New returns a bare JSON-writing logger, suited for production output
// that is consumed by a log aggregator rather than a human terminal.
func New(isDebug bool) *Logger {
	logLevel := zerolog.InfoLevel
	if isDebug {
		logLevel = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Fields(map[string]any{"pid": pid}).Logger()
	return &Logger{logger: &logger}
}

// NewConsole returns a human-readable console logger tagged with tag,
// used for local development against a terminal.
func NewConsole(isDebug bool, tag string, noColor bool) *Logger {
	logLevel := zerolog.InfoLevel
	if isDebug {
		logLevel = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	output := zerolog.ConsoleWriter{
		Out: os.Stdout, TimeFormat: "15:04:05.0000", NoColor: noColor,
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			"pid",
			zerolog.LevelFieldName,
			zerolog.CallerFieldName,
			"sid",
			"role",
			"dir",
			zerolog.MessageFieldName,
		},
		FieldsExclude: []string{"sid", "role", "dir", "pid"},
	}
	if output.NoColor {
		output.FormatMessage = func(i any) string {
			if i == nil {
				return ""
			}
			return fmt.Sprintf("%v", i)
		}
	}

	l := zerolog.New(output).With().
		Str("pid", fmt.Sprintf("%4x", pid)).
		Str("s", tag).
		Timestamp().Logger()
	return &Logger{logger: &l}
}

func Default() *Logger { return &Logger{logger: &log.Logger} }

func (l *Logger) GetLevel() Level                              { return Level(l.logger.GetLevel()) }
func (l *Logger) Output(w io.Writer) zerolog.Logger            { return l.logger.Output(w) }
func (l *Logger) With() zerolog.Context                        { return l.logger.With() }
func (l *Logger) Level(level zerolog.Level) zerolog.Logger     { return l.logger.Level(level) }
func (l *Logger) Sample(s zerolog.Sampler) zerolog.Logger      { return l.logger.Sample(s) }
func (l *Logger) Hook(h zerolog.Hook) zerolog.Logger           { return l.logger.Hook(h) }
func (l *Logger) Debug() *zerolog.Event                        { return l.logger.Debug() }
func (l *Logger) Info() *zerolog.Event                         { return l.logger.Info() }
func (l *Logger) Warn() *zerolog.Event                         { return l.logger.Warn() }
func (l *Logger) Error() *zerolog.Event                        { return l.logger.Error() }
func (l *Logger) Fatal() *zerolog.Event                        { return l.logger.Fatal() }
func (l *Logger) Panic() *zerolog.Event                        { return l.logger.Panic() }
func (l *Logger) WithLevel(level zerolog.Level) *zerolog.Event { return l.logger.WithLevel(level) }
func (l *Logger) Log() *zerolog.Event                          { return l.logger.Log() }
func (l *Logger) Print(v ...any)                               { l.logger.Print(v...) }
func (l *Logger) Printf(format string, v ...any)               { l.logger.Printf(format, v...) }
func (l *Logger) Ctx(ctx context.Context) *Logger              { return &Logger{logger: zerolog.Ctx(ctx)} }

// Extend returns a new Logger built from an enriched zerolog.Context,
// the way a session logger is derived from the hub's base logger.
func (l *Logger) Extend(ctx zerolog.Context) *Logger {
	lg := ctx.Logger()
	return &Logger{logger: &lg}
}

// Tagged returns a child logger carrying session-identifying fields,
// used for every per-session log line (read/write pump, router dispatch).
func (l *Logger) Tagged(sid, role, dir string) *Logger {
	return l.Extend(l.With().Str("sid", sid).Str("role", role).Str("dir", dir))
}
