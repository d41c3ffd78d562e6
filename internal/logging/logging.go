package logging

import (
	"github.com/sirupsen/logrus"
)

// New builds the process logger: JSON in production, text with timestamps
// elsewhere. An unknown level falls back to info rather than failing startup.
func New(environment, level string) *logrus.Logger {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}
