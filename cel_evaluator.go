package annotate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// celEvaluator runs queries with github.com/google/cel-go. Record variables
// are declared dynamically typed; registered functions are reachable through
// call("name", args...).
type celEvaluator struct {
	engineCore
}

// NewCELEvaluator constructs a cel-go backed query engine.
func NewCELEvaluator(opts ...EngineOption) Evaluator {
	return &celEvaluator{engineCore: newEngineCore(EngineCEL, opts)}
}

func (e *celEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

// Compile type-checks expression against the variables of an annotation
// record.
func (e *celEvaluator) Compile(expression string, _ ...CompileOption) (CompiledRule, error) {
	if expression == "" {
		return nil, wrapEvaluatorError(EngineCEL, ErrEmptyExpression)
	}
	if _, err := e.program(expression, recordVariables(AnnotationRecord(Annotation{}, ""))); err != nil {
		return nil, err
	}
	return celRule{evaluator: e, expression: expression}, nil
}

// program compiles expression for a record exposing variables. Programs are
// cached per variable set and function set.
func (e *celEvaluator) program(expression string, variables []string) (celgo.Program, error) {
	key := cacheKey(EngineCEL, strings.Join(variables, ","), strings.Join(e.functionNames(), ","), expression)
	prg, err := loadProgram(e.programs, key, func() (celgo.Program, error) {
		env, err := e.environment(variables)
		if err != nil {
			return nil, err
		}
		checked, issues := env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return nil, issues.Err()
		}
		return env.Program(checked)
	})
	if err != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, "", err)
	}
	return prg, nil
}

func (e *celEvaluator) environment(variables []string) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("args", celgo.DynType),
		celgo.Variable("metadata", celgo.DynType),
	}
	for _, name := range variables {
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	if e.functions != nil {
		opts = append(opts, celgo.Function("call", celgo.Overload(
			"call_dyn",
			[]*celgo.Type{celgo.StringType, celgo.DynType},
			celgo.DynType,
			celgo.FunctionBinding(e.callValues),
		)))
	}
	env, err := celgo.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("annotate: cel environment: %w", err)
	}
	return env, nil
}

// callValues bridges call("name", arg) to the function registry.
func (e *celEvaluator) callValues(values ...ref.Val) ref.Val {
	if len(values) == 0 {
		return types.NewErr("annotate: call requires a function name")
	}
	name, ok := values[0].Value().(string)
	if !ok {
		return types.NewErr("annotate: call name must be a string")
	}
	args := make([]any, 0, len(values)-1)
	for _, val := range values[1:] {
		args = append(args, val.Value())
	}
	result, err := e.call(name, args...)
	if err != nil {
		return types.NewErr("%s", err.Error())
	}
	if result == nil {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(result)
}

type celRule struct {
	evaluator  *celEvaluator
	expression string
}

func (r celRule) Evaluate(ctx RuleContext) (any, error) {
	if r.evaluator == nil {
		return nil, wrapEvaluatorError(EngineCEL, errors.New("compiled rule missing evaluator"))
	}
	ctx = ctx.withDefaults()
	prg, err := r.evaluator.program(r.expression, recordVariables(ctx.Record))
	if err != nil {
		return nil, err
	}
	out, _, err := prg.Eval(bindings(ctx))
	if err != nil {
		return nil, wrapEvaluationError(EngineCEL, r.expression, ctx.sourceLabel(), err)
	}
	return out.Value(), nil
}

// recordVariables lists the record keys in a stable order, leaving out the
// names the environment always declares.
func recordVariables(record map[string]any) []string {
	names := make([]string, 0, len(record))
	for name := range record {
		switch name {
		case "now", "args", "metadata":
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
