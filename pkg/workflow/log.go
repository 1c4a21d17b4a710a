package workflow

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

// GetLogger returns the configured logger instance
func GetLogger() *logrus.Logger {
	return log
}

// SetLogLevel sets the logging level for every package
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	log.SetLevel(lvl)

	return nil
}
