// Package logging builds the process logger.
package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// New returns a logger configured from level ("debug", "info", ...) and
// format ("text" or "json").
func New(level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(lvl)

	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return log, nil
}

// Component returns an entry tagged with the component name.
func Component(log logrus.FieldLogger, name string) *logrus.Entry {
	return log.WithField("component", name)
}

// Discard returns an entry that writes nowhere, for tests.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(discard{})
	return logrus.NewEntry(log)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// WA adapts a logrus entry to whatsmeow's logger interface.
func WA(entry *logrus.Entry, module string) waLog.Logger {
	return waLogger{entry: entry.WithField("wa", module)}
}

type waLogger struct {
	entry *logrus.Entry
}

func (l waLogger) Warnf(msg string, args ...interface{})  { l.entry.Warnf(msg, args...) }
func (l waLogger) Errorf(msg string, args ...interface{}) { l.entry.Errorf(msg, args...) }
func (l waLogger) Infof(msg string, args ...interface{})  { l.entry.Infof(msg, args...) }
func (l waLogger) Debugf(msg string, args ...interface{}) { l.entry.Debugf(msg, args...) }

func (l waLogger) Sub(module string) waLog.Logger {
	return waLogger{entry: l.entry.WithField("wa", module)}
}
