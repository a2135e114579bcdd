// Package logging builds the logrus logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tmater/pingsweep/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05.000"

type options struct {
	console   io.Writer
	noConsole bool
}

type Option func(*options)

// WithoutConsole keeps routine log lines off the terminal, for when it is
// busy drawing a progress bar. With a log file configured the console gets
// nothing; without one only warnings and errors reach it.
func WithoutConsole() Option {
	return func(o *options) { o.noConsole = true }
}

func withConsole(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// New returns a logger writing to stdout and, when cfg.File is set, to a
// size-rotated log file. The returned closer flushes and closes that file.
func New(cfg config.Log, opts ...Option) (*logrus.Logger, io.Closer, error) {
	o := options{console: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat})
	default:
		return nil, nil, fmt.Errorf("log format: unknown format %q", cfg.Format)
	}

	if cfg.File == "" {
		logger.SetOutput(o.console)
		if o.noConsole && level > logrus.WarnLevel {
			logger.SetLevel(logrus.WarnLevel)
		}
		return logger, io.NopCloser(nil), nil
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	if o.noConsole {
		logger.SetOutput(file)
	} else {
		logger.SetOutput(io.MultiWriter(o.console, file))
	}
	return logger, file, nil
}
