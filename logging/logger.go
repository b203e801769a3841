package logging

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/warp/settlement-engine/config"
)

// Logger represents a logger instance
type Logger = *logrus.Logger

// Fields represents structured logging fields
type Fields = logrus.Fields

// NewLogger creates a JSON logger at the given level name.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.ParseLogLevel(level))
	return logger
}

// NewServiceLogger returns an entry that stamps the service name on every line.
func NewServiceLogger(serviceName, level string) *logrus.Entry {
	return NewLogger(level).WithField("service", serviceName)
}

// Discard returns a logger that writes nothing, for tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
