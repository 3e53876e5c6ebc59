//go:build js_eval

package annotate

import (
	"fmt"

	"github.com/dop251/goja"
)

// jsEvaluator runs queries as JavaScript expressions with goja. Each
// evaluation gets a fresh runtime; compiled programs are shared.
type jsEvaluator struct {
	engineCore
}

// NewJSEvaluator constructs a goja backed query engine.
func NewJSEvaluator(opts ...EngineOption) Evaluator {
	return &jsEvaluator{engineCore: newEngineCore(EngineJS, opts)}
}

func (e *jsEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *jsEvaluator) Compile(expression string, _ ...CompileOption) (CompiledRule, error) {
	if expression == "" {
		return nil, wrapEvaluatorError(EngineJS, ErrEmptyExpression)
	}
	program, err := loadProgram(e.programs, cacheKey(EngineJS, expression), func() (*goja.Program, error) {
		return goja.Compile("query", "(function(){ return ("+expression+"); })()", true)
	})
	if err != nil {
		return nil, wrapEvaluationError(EngineJS, expression, "", err)
	}
	return jsRule{evaluator: e, program: program, expression: expression}, nil
}

type jsRule struct {
	evaluator  *jsEvaluator
	program    *goja.Program
	expression string
}

func (r jsRule) Evaluate(ctx RuleContext) (any, error) {
	ctx = ctx.withDefaults()
	vm := goja.New()
	if err := r.evaluator.bind(vm, bindings(ctx)); err != nil {
		return nil, wrapEvaluationError(EngineJS, r.expression, ctx.sourceLabel(), err)
	}
	value, err := vm.RunProgram(r.program)
	if err != nil {
		return nil, wrapEvaluationError(EngineJS, r.expression, ctx.sourceLabel(), err)
	}
	return value.Export(), nil
}

// bind exposes env and the registered functions as globals of vm.
func (e *jsEvaluator) bind(vm *goja.Runtime, env map[string]any) error {
	if e.functions != nil {
		env["call"] = e.call
		for _, name := range e.functionNames() {
			fn := name
			env[fn] = func(arguments ...any) (any, error) {
				return e.call(fn, arguments...)
			}
		}
	}
	for key, value := range env {
		if err := vm.Set(key, value); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func jsEvaluatorAvailable() bool {
	return true
}
