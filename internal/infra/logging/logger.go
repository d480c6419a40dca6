// Package logging adapts logrus to the service's key/value Logger interface.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Format selects the log encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

const badKey = "!BADKEY"

// Logger writes structured entries through a logrus.Entry.
type Logger struct {
	entry *logrus.Entry
}

// Options configures New.
type Options struct {
	Level  string
	Format Format
	Output io.Writer
}

// New builds a logger. An unknown level falls back to info.
func New(opts Options) *Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	switch opts.Format {
	case FormatText:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	log.SetOutput(out)
	return &Logger{entry: logrus.NewEntry(log)}
}

// FromLogrus wraps an existing logrus logger.
func FromLogrus(log *logrus.Logger) *Logger {
	return &Logger{entry: logrus.NewEntry(log)}
}

// With returns a logger that adds kv to every entry.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{entry: l.entry.WithFields(fields(kv))}
}

// Entry exposes the underlying logrus entry.
func (l *Logger) Entry() *logrus.Entry { return l.entry }

func (l *Logger) Debug(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Debug(msg) }
func (l *Logger) Info(msg string, kv ...any)  { l.entry.WithFields(fields(kv)).Info(msg) }
func (l *Logger) Warn(msg string, kv ...any)  { l.entry.WithFields(fields(kv)).Warn(msg) }
func (l *Logger) Error(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Error(msg) }

// fields pairs up kv. A trailing value without a key is kept under !BADKEY
// and errors are rendered as strings so the JSON formatter keeps them.
func fields(kv []any) logrus.Fields {
	out := make(logrus.Fields, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		if i+1 >= len(kv) {
			out[badKey] = kv[i]
			break
		}
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		key = strings.TrimSpace(key)
		if key == "" {
			key = badKey
		}
		value := kv[i+1]
		if err, isErr := value.(error); isErr && err != nil {
			value = err.Error()
		}
		out[key] = value
	}
	return out
}
