package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-annotate/pkg/activity"
)

// Config holds the settings of the annotation HTTP service.
type Config struct {
	// Addr is the listen address, for example ":8080".
	Addr string
	// DBPath is the SQLite database file; ":memory:" keeps documents in memory.
	DBPath string
	// LogLevel is a zerolog level name.
	LogLevel string
	// LogFile, when set, receives logs instead of stderr.
	LogFile string
	// ActivityChannel tags emitted activity events.
	ActivityChannel string
	// Engine selects the query evaluator: "expr" or "cel".
	Engine string
}

// Defaults used by ApplyDefaults.
const (
	DefaultAddr   = ":8080"
	DefaultDBPath = "annotate.db"
	DefaultLevel  = "info"
	DefaultEngine = "expr"
)

// ApplyDefaults fills empty fields.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	c.DBPath = strings.TrimSpace(c.DBPath)
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = DefaultLevel
	}
	c.ActivityChannel = strings.TrimSpace(c.ActivityChannel)
	if c.ActivityChannel == "" {
		c.ActivityChannel = activity.DefaultChannel
	}
	c.Engine = strings.ToLower(strings.TrimSpace(c.Engine))
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("server: addr is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("server: db path is required"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("server: log level %q: %w", c.LogLevel, err))
	}
	switch c.Engine {
	case "expr", "cel":
	default:
		errs = append(errs, fmt.Errorf("server: unsupported engine %q", c.Engine))
	}
	return errors.Join(errs...)
}
