// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package util

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Logger receives the log output of the library. Debug output is dropped unless the
// application raises its level.
var Logger = newDefaultLogger()

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLogger replaces the logger used by the library. A nil logger restores the default.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		l = newDefaultLogger()
	}
	Logger = l
}

// Log sends a debug message about item to the logger.
func Log(item interface{}, format string, args ...interface{}) {
	Logger.WithField("source", fmt.Sprintf("%T", item)).Debugf(format, args...)
}

// Warn sends a warning about item to the logger.
func Warn(item interface{}, format string, args ...interface{}) {
	Logger.WithField("source", fmt.Sprintf("%T", item)).Warnf(format, args...)
}
