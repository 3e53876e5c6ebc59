// Package logging builds the zerolog logger used by the command line tools and
// adapts it to the session, evaluator and activity logging interfaces.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	annotate "github.com/goliatone/go-annotate"
	"github.com/goliatone/go-annotate/pkg/activity"
)

const permission = 0664

// Build collects logger settings before Make opens the destination.
type Build struct {
	writer io.Writer
	path   string
	level  zerolog.Level
}

// Output is a ready logger and the file backing it, if any.
type Output struct {
	Logger  zerolog.Logger
	LogFile *os.File
}

// New starts a logger build writing to stderr at info level.
func New() *Build {
	return &Build{writer: os.Stderr, level: zerolog.InfoLevel}
}

// FromPath appends to the file at path instead of the writer.
func (b *Build) FromPath(path string) *Build {
	b.path = strings.TrimSpace(path)
	return b
}

// FromWriter writes to w.
func (b *Build) FromWriter(w io.Writer) *Build {
	if w != nil {
		b.writer = w
	}
	return b
}

// Level parses level ("debug", "info", ...). Unknown values keep the
// current level.
func (b *Build) Level(level string) *Build {
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && parsed != zerolog.NoLevel {
		b.level = parsed
	}
	return b
}

// Make opens the destination and builds the logger.
func (b *Build) Make() (*Output, error) {
	out := &Output{}
	writer := b.writer
	if b.path != "" {
		file, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		out.LogFile = file
		writer = zerolog.SyncWriter(file)
	}
	out.Logger = zerolog.New(writer).Level(b.level).With().Timestamp().Logger()
	return out, nil
}

// Close releases the log file.
func (o *Output) Close() error {
	if o == nil || o.LogFile == nil {
		return nil
	}
	return o.LogFile.Close()
}

// Adapter writes session, evaluator and activity records to a zerolog logger.
type Adapter struct {
	logger zerolog.Logger
}

// NewAdapter wraps logger.
func NewAdapter(logger zerolog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

// LogDispatch implements annotate.Logger. Applied transitions log at debug,
// ignored ones at trace and failures at warn.
func (a *Adapter) LogDispatch(event annotate.DispatchLogEvent) {
	var entry *zerolog.Event
	switch {
	case event.Err != nil:
		entry = a.logger.Warn().Err(event.Err)
	case event.ActivityErr != nil:
		entry = a.logger.Warn().AnErr("activity_error", event.ActivityErr)
	case event.Applied:
		entry = a.logger.Debug()
	default:
		entry = a.logger.Trace()
	}
	entry.
		Str("action", event.Action).
		Str("user", event.User).
		Str("document", event.Document).
		Str("from", string(event.From)).
		Str("to", string(event.To)).
		Bool("applied", event.Applied).
		Int("events", event.Events).
		Dur("duration", event.Duration).
		Msg("dispatch")
}

// LogEvaluation implements annotate.EvaluatorLogger.
func (a *Adapter) LogEvaluation(event annotate.EvaluatorLogEvent) {
	entry := a.logger.Debug()
	if event.Err != nil {
		entry = a.logger.Warn().Err(event.Err)
	}
	entry.
		Str("engine", event.Engine).
		Str("expr", event.Expr).
		Int("matched", event.Matched).
		Int("scanned", event.Scanned).
		Dur("duration", event.Duration).
		Msg("query")
}

// Hook returns an activity hook that logs every event at info level.
func (a *Adapter) Hook() activity.ActivityHook {
	return activity.HookFunc(func(_ context.Context, event activity.Event) error {
		a.logger.Info().
			Str("verb", event.Verb).
			Str("actor", event.ActorID).
			Str("object_type", event.ObjectType).
			Str("object_id", event.ObjectID).
			Str("channel", event.Channel).
			Str("document", event.Document).
			Time("occurred_at", event.OccurredAt).
			Msg("activity")
		return nil
	})
}
