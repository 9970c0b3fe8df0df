package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/dvilelaf/tsunami/pkg/config"
)

// Logger represents a logger instance
type Logger = *logrus.Logger

// Fields represents structured logging fields
type Fields = logrus.Fields

// Entry is a logger with fields already attached.
type Entry = *logrus.Entry

// Log levels
const (
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
)

// NewLogger creates a JSON logger at the level named by LOG_LEVEL.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewLoggerWithService stamps every entry with a service field.
func NewLoggerWithService(serviceName string) *logrus.Logger {
	logger := NewLogger()
	logger.AddHook(fieldHook{key: "service", value: serviceName})
	return logger
}

// WithReplica stamps every entry with the replica identifier so logs from a
// fleet sharing one sink can be told apart.
func WithReplica(logger *logrus.Logger, replicaID string) *logrus.Logger {
	if replicaID != "" {
		logger.AddHook(fieldHook{key: "replica", value: replicaID})
	}
	return logger
}

type fieldHook struct {
	key   string
	value string
}

func (h fieldHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h fieldHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data[h.key]; !ok {
		entry.Data[h.key] = h.value
	}
	return nil
}
