package annotate

import (
	"fmt"
	"strings"
)

// Query engine names accepted by NewEvaluator.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJS   = "js"
)

// EngineOption configures a query engine.
type EngineOption func(*engineCore)

// WithEngineCache stores compiled programs in cache so an expression is
// compiled once per engine.
func WithEngineCache(cache ProgramCache) EngineOption {
	return func(c *engineCore) {
		c.programs = cache
	}
}

// WithEngineFunctions makes the functions of registry callable from
// expressions. The registry is copied.
func WithEngineFunctions(registry *FunctionRegistry) EngineOption {
	return func(c *engineCore) {
		if registry != nil {
			c.functions = registry.Clone()
		}
	}
}

// engineCore is the part every engine shares.
type engineCore struct {
	name      string
	programs  ProgramCache
	functions *FunctionRegistry
}

func newEngineCore(name string, opts []EngineOption) engineCore {
	core := engineCore{name: name}
	for _, opt := range opts {
		if opt != nil {
			opt(&core)
		}
	}
	return core
}

// Engine names the engine in errors and logs.
func (c engineCore) Engine() string { return c.name }

func (c engineCore) functionNames() []string {
	return c.functions.Names()
}

func (c engineCore) call(name string, args ...any) (any, error) {
	return c.functions.Call(name, args...)
}

// loadProgram returns the program cached under key, building and caching it
// on a miss. Entries of another type are rebuilt.
func loadProgram[P any](cache ProgramCache, key string, build func() (P, error)) (P, error) {
	if cache != nil {
		if cached, ok := cache.Get(key); ok {
			if program, ok := cached.(P); ok {
				return program, nil
			}
		}
	}
	program, err := build()
	if err != nil {
		return program, err
	}
	if cache != nil {
		cache.Set(key, program)
	}
	return program, nil
}

// cacheKey keeps programs of different engines apart in a shared cache.
func cacheKey(engine string, parts ...string) string {
	return engine + "\x00" + strings.Join(parts, "\x00")
}

// bindings are the variables one annotation exposes to an expression: the
// record plus now, args and metadata.
func bindings(ctx RuleContext) map[string]any {
	env := make(map[string]any, len(ctx.Record)+3)
	for key, value := range ctx.Record {
		env[key] = value
	}
	env["now"] = ctx.timestamp()
	env["args"] = ctx.Args
	env["metadata"] = ctx.Metadata
	return env
}

type engineNamer interface {
	Engine() string
}

func evaluatorEngineName(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	if named, ok := e.(engineNamer); ok {
		return named.Engine()
	}
	return "custom"
}

// NewEvaluator builds the engine registered under name ("expr", "cel" or
// "js") sharing cache and registry. "js" requires the js_eval build tag.
func NewEvaluator(engine string, cache ProgramCache, registry *FunctionRegistry) (Evaluator, error) {
	opts := []EngineOption{WithEngineCache(cache), WithEngineFunctions(registry)}
	switch engine {
	case "", EngineExpr:
		return NewExprEvaluator(opts...), nil
	case EngineCEL:
		return NewCELEvaluator(opts...), nil
	case EngineJS:
		if !jsEvaluatorAvailable() {
			return nil, fmt.Errorf("%w: js engine requires the js_eval build tag", ErrNoEvaluator)
		}
		return NewJSEvaluator(opts...), nil
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrNoEvaluator, engine)
	}
}
