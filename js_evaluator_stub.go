//go:build !js_eval

package annotate

import "fmt"

// NewJSEvaluator returns an engine that rejects every expression; build with
// the js_eval tag for the goja backed one.
func NewJSEvaluator(opts ...EngineOption) Evaluator {
	return unavailableEvaluator{engineCore: newEngineCore(EngineJS, opts)}
}

type unavailableEvaluator struct {
	engineCore
}

func (u unavailableEvaluator) Evaluate(RuleContext, string) (any, error) {
	return nil, u.err()
}

func (u unavailableEvaluator) Compile(string, ...CompileOption) (CompiledRule, error) {
	return nil, u.err()
}

func (u unavailableEvaluator) err() error {
	return fmt.Errorf("%w: %s engine requires the js_eval build tag", ErrNoEvaluator, u.name)
}

func jsEvaluatorAvailable() bool {
	return false
}
