// Package obs supplies the structured logger used throughout the gateway,
// adapting github.com/sirupsen/logrus to internal/rfb's Logger interface so
// the same log stream covers the upstream RFB transport and the gateway
// logic above it.
package obs

import (
	"github.com/sirupsen/logrus"

	"github.com/coredesk/vncbridge/internal/rfb"
)

// Logger wraps a logrus.FieldLogger to implement rfb.Logger.
type Logger struct {
	entry *logrus.Entry
}

var _ rfb.Logger = (*Logger)(nil)

// New returns a Logger backed by a fresh logrus.Logger writing JSON, at the
// given level.
func New(level logrus.Level) *Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	base.SetLevel(level)
	return &Logger{entry: logrus.NewEntry(base)}
}

// Wrap adapts an existing *logrus.Logger, for callers that already manage
// logrus configuration (output destination, hooks) centrally.
func Wrap(l *logrus.Logger) *Logger {
	return &Logger{entry: logrus.NewEntry(l)}
}

func toFields(fields []rfb.Field) logrus.Fields {
	f := make(logrus.Fields, len(fields))
	for _, field := range fields {
		f[field.Key] = field.Value
	}
	return f
}

func (l *Logger) Debug(msg string, fields ...rfb.Field) {
	l.entry.WithFields(toFields(fields)).Debug(msg)
}

func (l *Logger) Info(msg string, fields ...rfb.Field) {
	l.entry.WithFields(toFields(fields)).Info(msg)
}

func (l *Logger) Warn(msg string, fields ...rfb.Field) {
	l.entry.WithFields(toFields(fields)).Warn(msg)
}

func (l *Logger) Error(msg string, fields ...rfb.Field) {
	l.entry.WithFields(toFields(fields)).Error(msg)
}

// With returns a Logger that always includes fields in subsequent calls.
func (l *Logger) With(fields ...rfb.Field) rfb.Logger {
	return &Logger{entry: l.entry.WithFields(toFields(fields))}
}
