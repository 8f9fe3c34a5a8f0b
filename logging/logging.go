// Package logging provides the leveled structured logger shared by the
// messaging engine.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger accepts a message plus alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// New builds a logger writing to stderr at the given level. Unknown levels
// fall back to info.
func New(level string) Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)

	return &logrusLogger{base: base}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &logrusLogger{base: base}
}

type logrusLogger struct {
	base *logrus.Logger
}

func (l *logrusLogger) Debug(msg string, args ...any) { l.entry(args).Debug(msg) }
func (l *logrusLogger) Info(msg string, args ...any)  { l.entry(args).Info(msg) }
func (l *logrusLogger) Warn(msg string, args ...any)  { l.entry(args).Warn(msg) }
func (l *logrusLogger) Error(msg string, args ...any) { l.entry(args).Error(msg) }

// entry folds alternating key/value args into logrus fields. A trailing key
// without a value is kept under "extra".
func (l *logrusLogger) entry(args []any) *logrus.Entry {
	if len(args) == 0 {
		return logrus.NewEntry(l.base)
	}
	fields := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "field"
		}
		fields[key] = args[i+1]
	}
	if len(args)%2 != 0 {
		fields["extra"] = args[len(args)-1]
	}
	return l.base.WithFields(fields)
}
