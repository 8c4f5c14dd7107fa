// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/grocky/ripeness-detector/internal/config"
)

// New returns a logger writing to stdout, and to cfg.File when set. debug
// forces debug level with colored text output; otherwise level and format
// come from cfg.
func New(debug bool, cfg config.LoggingConfig) *logrus.Logger {
	return newLogger(output(os.Stdout, cfg), debug, cfg)
}

func output(stdout io.Writer, cfg config.LoggingConfig) io.Writer {
	if cfg.File == "" {
		return stdout
	}
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return io.MultiWriter(stdout, &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	})
}

func newLogger(out io.Writer, debug bool, cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	if debug {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		logger.Debug("Debug logging enabled")
		return logger
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	if err != nil && cfg.Level != "" {
		logger.WithField("level", cfg.Level).Warn("unknown log level, using info")
	}
	return logger
}
