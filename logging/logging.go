// Package logging provides the structured logging ambient stack shared by
// every daemon and library component, following the pattern of the
// application's common/logger.go: a logrus.Logger configured from
// RuntimeConfig, with component-scoped entries handed to each subsystem.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/connectivityfoundry/lwm2m-runtime/config"
	"github.com/sirupsen/logrus"
)

// Config mirrors config.RuntimeConfig's logging-relevant fields plus the
// service identity stamped on every entry.
type Config struct {
	Level   config.LogLevel
	Format  string // "text" or "json"
	Service string
}

// New builds a *logrus.Logger from cfg. None disables all output, matching
// spec.md §6.3's log_level semantics.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&outputSplitter{stdout: os.Stdout, stderr: os.Stderr})

	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logger.SetLevel(toLogrusLevel(cfg.Level))
	return logger
}

func toLogrusLevel(l config.LogLevel) logrus.Level {
	switch l {
	case config.LogNone:
		return logrus.PanicLevel // nothing at or below panic is ever logged by this runtime
	case config.LogError:
		return logrus.ErrorLevel
	case config.LogWarning:
		return logrus.WarnLevel
	case config.LogDebug:
		return logrus.DebugLevel
	case config.LogInfo:
		fallthrough
	default:
		return logrus.InfoLevel
	}
}

// outputSplitter routes error-level entries to stderr and everything else
// to stdout, the way common/logging.go's OutputSplitter does.
type outputSplitter struct {
	stdout io.Writer
	stderr io.Writer
}

func (s *outputSplitter) Write(p []byte) (int, error) {
	if strings.Contains(string(p), "level=error") || strings.Contains(string(p), `"level":"error"`) {
		return s.stderr.Write(p)
	}
	return s.stdout.Write(p)
}

// Component returns a *logrus.Entry scoped to a named component, e.g.
// logging.Component(logger, "daemon").
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}
