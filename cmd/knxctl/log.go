// Licensed under the MIT license which can be found in the LICENSE file.

package main

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/LB-00/knx-secure/knx/util"
)

// setupLogging builds the logger described by config and hands it to the library.
func setupLogging(config LogConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)

	if strings.ToLower(config.Format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	writers := []io.Writer{os.Stderr}
	if config.File.Filename != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.File.Filename,
			MaxSize:    config.File.MaxSize,    // megabytes
			MaxBackups: config.File.MaxBackups, // number of backups
			MaxAge:     config.File.MaxAge,     // days
			Compress:   config.File.Compress,   // compress the backups
		})
	}
	logger.SetOutput(io.MultiWriter(writers...))

	util.SetLogger(logger)
	return logger, nil
}
