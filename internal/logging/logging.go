// Package logging builds the logrus logger used across roomlink.
package logging

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/nomy-av/roomlink/internal/config"
)

// New creates a logger writing to the configured output.
func New(cfg config.LoggingConfig) *logrus.Logger {
	var out io.Writer = os.Stderr
	if cfg.Output == "stdout" {
		out = os.Stdout
	}
	return NewWithWriter(cfg, out)
}

// NewWithWriter creates a logger writing to w. An unknown level falls back
// to info. The auto format picks text for terminals and JSON otherwise.
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch format(cfg.Format, w) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// Component returns an entry tagged with the component name.
func Component(l *logrus.Logger, name string) *logrus.Entry {
	return l.WithField("component", name)
}

func format(configured string, w io.Writer) string {
	if configured != "auto" && configured != "" {
		return configured
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return "text"
	}
	return "json"
}
