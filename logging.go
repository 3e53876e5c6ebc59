package annotate

import "time"

// DispatchLogEvent describes one action handled by a Session.
type DispatchLogEvent struct {
	Action   string
	User     string
	Document string
	From     Phase
	To       Phase
	Applied  bool
	Events   int
	Duration time.Duration
	// Err is the reducer error, if any.
	Err error
	// ActivityErr is a hook failure. Transitions are not rolled back for it.
	ActivityErr error
}

// Logger records dispatch events.
type Logger interface {
	LogDispatch(DispatchLogEvent)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(DispatchLogEvent)

// LogDispatch implements Logger.
func (f LoggerFunc) LogDispatch(event DispatchLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopLogger struct{}

func (noopLogger) LogDispatch(DispatchLogEvent) {}

// WithLogger attaches a dispatch logger to the session.
func WithLogger(logger Logger) Option {
	return func(cfg *sessionConfig) {
		if logger == nil {
			cfg.logger = noopLogger{}
			return
		}
		cfg.logger = logger
	}
}

// EvaluatorLogEvent describes one query run.
type EvaluatorLogEvent struct {
	Engine   string
	Expr     string
	Matched  int
	Scanned  int
	Duration time.Duration
	Err      error
}

// EvaluatorLogger records query runs.
type EvaluatorLogger interface {
	LogEvaluation(EvaluatorLogEvent)
}

// EvaluatorLoggerFunc adapts a function to EvaluatorLogger.
type EvaluatorLoggerFunc func(EvaluatorLogEvent)

// LogEvaluation implements EvaluatorLogger.
func (f EvaluatorLoggerFunc) LogEvaluation(event EvaluatorLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopEvaluatorLogger struct{}

func (noopEvaluatorLogger) LogEvaluation(EvaluatorLogEvent) {}

// WithEvaluatorLogger attaches a query logger to the session.
func WithEvaluatorLogger(logger EvaluatorLogger) Option {
	return func(cfg *sessionConfig) {
		cfg.evaluatorLogger = logger
	}
}
