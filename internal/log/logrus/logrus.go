package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/taskdock/taskdock/internal/log"
)

type logger struct {
	*logrus.Entry
}

// NewLogrus returns a log.Logger implementation backed by a logrus entry.
func NewLogrus(l *logrus.Entry) log.Logger {
	return logger{Entry: l}
}

func (l logger) WithValues(kv log.Kv) log.Logger {
	newLogger := l.Entry.WithFields(logrus.Fields(kv))
	return NewLogrus(newLogger)
}
