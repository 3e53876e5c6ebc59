package annotate

import (
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// exprEvaluator runs queries with github.com/expr-lang/expr. Registered
// functions are callable by name and through call("name", args...).
type exprEvaluator struct {
	engineCore
}

// NewExprEvaluator constructs the default query engine.
func NewExprEvaluator(opts ...EngineOption) Evaluator {
	return &exprEvaluator{engineCore: newEngineCore(EngineExpr, opts)}
}

// Evaluate compiles expression (or reuses the cached program) and runs it
// against ctx.
func (e *exprEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

// Compile checks expression and returns a rule bound to the compiled program.
func (e *exprEvaluator) Compile(expression string, _ ...CompileOption) (CompiledRule, error) {
	if expression == "" {
		return nil, wrapEvaluatorError(EngineExpr, ErrEmptyExpression)
	}
	key := cacheKey(EngineExpr, strings.Join(e.functionNames(), ","), expression)
	program, err := loadProgram(e.programs, key, func() (*exprvm.Program, error) {
		return exprlang.Compile(expression, e.compileOptions()...)
	})
	if err != nil {
		return nil, wrapEvaluationError(EngineExpr, expression, "", err)
	}
	return exprRule{evaluator: e, program: program, expression: expression}, nil
}

// compileOptions leaves record variables undeclared: an annotation record is
// a plain map and metadata keys vary per caller.
func (e *exprEvaluator) compileOptions() []exprlang.Option {
	options := []exprlang.Option{
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	}
	for _, name := range e.functionNames() {
		fn := name
		options = append(options, exprlang.Function(fn, func(arguments ...any) (any, error) {
			return e.call(fn, arguments...)
		}))
	}
	return options
}

type exprRule struct {
	evaluator  *exprEvaluator
	program    *exprvm.Program
	expression string
}

func (r exprRule) Evaluate(ctx RuleContext) (any, error) {
	ctx = ctx.withDefaults()
	env := bindings(ctx)
	if r.evaluator.functions != nil {
		env["call"] = r.evaluator.call
	}
	result, err := exprlang.Run(r.program, env)
	if err != nil {
		return nil, wrapEvaluationError(EngineExpr, r.expression, ctx.sourceLabel(), err)
	}
	return result, nil
}
