package annotate

import (
	"time"

	"github.com/goliatone/go-annotate/pkg/activity"
)

// RuleContext carries inputs needed when evaluating a query expression
// against one annotation.
type RuleContext struct {
	// Record is the variable set exposed to the expression, as built by
	// AnnotationRecord.
	Record   map[string]any
	Now      *time.Time
	Args     map[string]any
	Metadata map[string]any
	// Source labels the record in errors and logs, usually the annotation id.
	Source string
}

func (ctx RuleContext) withDefaults() RuleContext {
	return ctx.withDefaultNow().withDefaultMaps()
}

func (ctx RuleContext) withDefaultNow() RuleContext {
	if ctx.Now != nil {
		return ctx
	}
	now := time.Now()
	ctx.Now = &now
	return ctx
}

func (ctx RuleContext) timestamp() time.Time {
	ctx = ctx.withDefaultNow()
	return *ctx.Now
}

func (ctx RuleContext) withDefaultMaps() RuleContext {
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	if ctx.Record == nil {
		ctx.Record = map[string]any{}
	}
	return ctx
}

func (ctx RuleContext) sourceLabel() string {
	if ctx.Source != "" {
		return ctx.Source
	}
	if id, ok := ctx.Record["id"].(string); ok && id != "" {
		return id
	}
	return "unknown"
}

// Evaluator executes expressions against a rule context.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string, opts ...CompileOption) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}

// CompileOption configures evaluator compile behaviour.
type CompileOption interface {
	applyCompileOption(*compileConfig)
}

type compileConfig struct{}

// IDGenerator returns a fresh annotation id.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Option configures a Session.
type Option func(*sessionConfig)

type sessionConfig struct {
	user            string
	ids             IDGenerator
	clock           Clock
	logger          Logger
	evaluator       Evaluator
	programCache    ProgramCache
	functions       *FunctionRegistry
	evaluatorLogger EvaluatorLogger
	activityHooks   activity.Hooks
	activityChannel string
	activityTenant  string
}

func applyOptions(opts []Option) sessionConfig {
	cfg := sessionConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func (cfg *sessionConfig) nextID() string {
	if cfg.ids != nil {
		if id := cfg.ids(); id != "" {
			return id
		}
	}
	return defaultIDGenerator()
}

// now returns the clock reading at the persisted precision: milliseconds, UTC.
func (cfg *sessionConfig) now() time.Time {
	clock := cfg.clock
	if clock == nil {
		clock = time.Now
	}
	return clock().UTC().Truncate(time.Millisecond)
}

func (cfg *sessionConfig) dispatchLogger() Logger {
	if cfg.logger != nil {
		return cfg.logger
	}
	return noopLogger{}
}

func (cfg *sessionConfig) evalLogger() EvaluatorLogger {
	if cfg.evaluatorLogger != nil {
		return cfg.evaluatorLogger
	}
	return noopEvaluatorLogger{}
}
