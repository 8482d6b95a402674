// Package rudderlog provides the structured logger shared by every engine
// component. It is a thin wrapper around logrus, following the same
// pattern the teacher codebase uses in infrastructure/logging and
// pkg/logger: a named logger that stamps every entry with a component
// field and accepts ad-hoc structured fields from callers.
package rudderlog

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger scoped to one named component.
type Logger struct {
	*logrus.Logger
	component string
}

// Config controls how a Logger is constructed.
type Config struct {
	Level  string // logrus level name; defaults to "info"
	Format string // "json" (default) or "text"
}

// DefaultConfig returns the engine's default logging configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

// New creates a Logger for the given component name.
func New(component string, cfg Config) *Logger {
	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}

	base := logrus.New()
	base.SetLevel(parsed)
	base.SetOutput(os.Stdout)

	if strings.EqualFold(cfg.Format, "text") {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	return &Logger{Logger: base, component: component}
}

// NewFromEnv builds a Logger for component using LOG_LEVEL / LOG_FORMAT,
// defaulting to info/json when unset, matching logging.NewFromEnv.
func NewFromEnv(component string) *Logger {
	return New(component, Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	})
}

// With returns a logrus entry pre-populated with this logger's component
// field plus any extra fields supplied.
func (l *Logger) With(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError is a convenience for With(logrus.Fields{"error": err}).
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.With(logrus.Fields{"error": err.Error()})
}
