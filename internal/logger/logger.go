// Package logger provides structured logging for tunneldump built on logrus,
// with a compact human-readable formatter and an optional JSON mode.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// Color printers shared by the CLI for consistent output
var (
	SuccessColor   = color.New(color.FgGreen, color.Bold)
	ErrorColor     = color.New(color.FgRed, color.Bold)
	WarnColor      = color.New(color.FgYellow, color.Bold)
	InfoColor      = color.New(color.FgCyan)
	DebugColor     = color.New(color.FgWhite)
	HighlightColor = color.New(color.FgMagenta, color.Bold)
	DimColor       = color.New(color.FgHiBlack)
)

// Logger is the logging interface used throughout tunneldump
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	WithField(key string, value interface{}) Logger

	// StartJob returns a logger tracking the duration of one backup/restore job
	StartJob(name string) JobLogger
}

// JobLogger tracks timing for a single job
type JobLogger interface {
	Update(msg string, args ...any)
	Complete(msg string, args ...any)
	Fail(msg string, args ...any)
}

type logger struct {
	logrus *logrus.Logger
}

type jobLogger struct {
	name    string
	started time.Time
	parent  *logger
}

// New creates a logger at the given level ("debug", "info", "warn", "error")
// and format ("text" or "json").
func New(level, format string) Logger {
	l := logrus.New()
	l.SetLevel(parseLevel(level))
	l.SetOutput(os.Stdout)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&compactFormatter{})
	}

	return &logger{logrus: l}
}

// NewSilent creates a logger that discards all output, for tests.
func NewSilent() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &logger{logrus: l}
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func (l *logger) Debug(msg string, args ...any) { l.log(logrus.DebugLevel, msg, args...) }
func (l *logger) Info(msg string, args ...any)  { l.log(logrus.InfoLevel, msg, args...) }
func (l *logger) Warn(msg string, args ...any)  { l.log(logrus.WarnLevel, msg, args...) }
func (l *logger) Error(msg string, args ...any) { l.log(logrus.ErrorLevel, msg, args...) }

func (l *logger) WithField(key string, value interface{}) Logger {
	return &logger{logrus: l.logrus.WithField(key, value).Logger}
}

func (l *logger) StartJob(name string) JobLogger {
	return &jobLogger{name: name, started: time.Now(), parent: l}
}

func (jl *jobLogger) Update(msg string, args ...any) {
	jl.parent.Info(fmt.Sprintf("[%s] %s", jl.name, msg),
		append(args, "elapsed", FormatDuration(time.Since(jl.started)))...)
}

func (jl *jobLogger) Complete(msg string, args ...any) {
	jl.parent.Info(fmt.Sprintf("[%s] COMPLETED: %s", jl.name, msg),
		append(args, "duration", FormatDuration(time.Since(jl.started)))...)
}

func (jl *jobLogger) Fail(msg string, args ...any) {
	jl.parent.Error(fmt.Sprintf("[%s] FAILED: %s", jl.name, msg),
		append(args, "duration", FormatDuration(time.Since(jl.started)))...)
}

// log forwards a message with variadic key/value pairs to logrus.
// Early exit when the level is disabled avoids field allocation.
func (l *logger) log(level logrus.Level, msg string, args ...any) {
	if l == nil || l.logrus == nil || !l.logrus.IsLevelEnabled(level) {
		return
	}

	fields := fieldsFromArgs(args...)
	var entry *logrus.Entry
	if fields != nil {
		entry = l.logrus.WithFields(fields)
	} else {
		entry = logrus.NewEntry(l.logrus)
	}

	switch level {
	case logrus.DebugLevel:
		entry.Debug(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	case logrus.ErrorLevel:
		entry.Error(msg)
	default:
		entry.Info(msg)
	}
}

func fieldsFromArgs(args ...any) logrus.Fields {
	if len(args) == 0 {
		return nil
	}

	fields := make(logrus.Fields, len(args)/2+1)
	for i := 0; i < len(args); {
		if i+1 < len(args) {
			if key, ok := args[i].(string); ok {
				fields[key] = args[i+1]
				i += 2
				continue
			}
		}
		fields[fmt.Sprintf("arg%d", i)] = args[i]
		i++
	}
	return fields
}

// FormatDuration renders a duration the way job summaries display it
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm %ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// compactFormatter renders entries as "LEVEL [timestamp] message key=value"
type compactFormatter struct {
	levelStrings     map[logrus.Level]string
	levelStringsOnce sync.Once
}

func (f *compactFormatter) getLevelStrings() map[logrus.Level]string {
	f.levelStringsOnce.Do(func() {
		f.levelStrings = map[logrus.Level]string{
			logrus.DebugLevel: DebugColor.Sprint("DEBUG"),
			logrus.InfoLevel:  SuccessColor.Sprint("INFO "),
			logrus.WarnLevel:  WarnColor.Sprint("WARN "),
			logrus.ErrorLevel: ErrorColor.Sprint("ERROR"),
			logrus.FatalLevel: ErrorColor.Sprint("FATAL"),
			logrus.PanicLevel: ErrorColor.Sprint("PANIC"),
			logrus.TraceLevel: DebugColor.Sprint("TRACE"),
		}
	})
	return f.levelStrings
}

// Format implements logrus.Formatter
func (f *compactFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	levelStrings := f.getLevelStrings()
	levelText, ok := levelStrings[entry.Level]
	if !ok {
		levelText = levelStrings[logrus.InfoLevel]
	}

	buf.WriteString(levelText)
	buf.WriteString(" [")
	buf.WriteString(entry.Time.Format("2006-01-02T15:04:05"))
	buf.WriteString("] ")
	buf.WriteString(entry.Message)

	for k, v := range entry.Data {
		switch k {
		case "elapsed", "timestamp", "message":
			continue
		case "duration":
			if str, ok := v.(string); ok {
				buf.WriteString(" (")
				buf.WriteString(str)
				buf.WriteByte(')')
			}
		default:
			buf.WriteByte(' ')
			buf.WriteString(k)
			buf.WriteByte('=')
			fmt.Fprint(buf, v)
		}
	}

	buf.WriteByte('\n')

	// Copy out; the buffer goes back to the pool
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
