package annotate

import (
	"fmt"
	"time"
)

// QueryOption configures Query.
type QueryOption func(*queryConfig)

type queryConfig struct {
	evaluator Evaluator
	user      string
	now       *time.Time
	args      map[string]any
	metadata  map[string]any
	logger    EvaluatorLogger
}

// QueryWithEvaluator selects the evaluator. The default is an expr evaluator
// with DefaultFunctions.
func QueryWithEvaluator(e Evaluator) QueryOption {
	return func(cfg *queryConfig) {
		if e != nil {
			cfg.evaluator = e
		}
	}
}

// QueryWithUser sets the user the "mine" variable is computed for.
func QueryWithUser(user string) QueryOption {
	return func(cfg *queryConfig) {
		cfg.user = user
	}
}

// QueryWithNow pins the "now" variable.
func QueryWithNow(now time.Time) QueryOption {
	return func(cfg *queryConfig) {
		cfg.now = timePtr(now)
	}
}

// QueryWithArgs exposes args to the expression as "args".
func QueryWithArgs(args map[string]any) QueryOption {
	return func(cfg *queryConfig) {
		cfg.args = args
	}
}

// QueryWithMetadata exposes metadata to the expression as "metadata".
func QueryWithMetadata(metadata map[string]any) QueryOption {
	return func(cfg *queryConfig) {
		cfg.metadata = metadata
	}
}

// QueryWithLogger records the evaluation.
func QueryWithLogger(logger EvaluatorLogger) QueryOption {
	return func(cfg *queryConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// Query returns the annotations of c, in document order, for which expr
// evaluates to true. The expression is compiled once and evaluated against
// AnnotationRecord of each annotation. A non-boolean result is an
// *EvaluationError wrapping ErrNonBoolean.
func Query(c Collection, expr string, opts ...QueryOption) ([]Annotation, error) {
	cfg := queryConfig{logger: noopEvaluatorLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if expr == "" {
		return nil, ErrEmptyExpression
	}
	if cfg.evaluator == nil {
		cfg.evaluator = NewExprEvaluator(WithEngineFunctions(DefaultFunctions()))
	}
	if cfg.now == nil {
		cfg.now = timePtr(time.Now())
	}
	engine := evaluatorEngineName(cfg.evaluator)

	start := time.Now()
	matched, err := runQuery(c, expr, engine, cfg)
	cfg.logger.LogEvaluation(EvaluatorLogEvent{
		Engine:   engine,
		Expr:     expr,
		Matched:  len(matched),
		Scanned:  c.Len(),
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

func runQuery(c Collection, expr, engine string, cfg queryConfig) ([]Annotation, error) {
	rule, err := cfg.evaluator.Compile(expr)
	if err != nil {
		return nil, wrapEvaluationError(engine, expr, "", err)
	}
	out := make([]Annotation, 0, c.Len())
	for _, item := range c.items {
		ctx := RuleContext{
			Record:   AnnotationRecord(item, cfg.user),
			Now:      cfg.now,
			Args:     cfg.args,
			Metadata: cfg.metadata,
			Source:   item.ID,
		}
		value, err := rule.Evaluate(ctx)
		if err != nil {
			return nil, wrapEvaluationError(engine, expr, item.ID, err)
		}
		keep, ok := value.(bool)
		if !ok {
			return nil, wrapEvaluationError(engine, expr, item.ID, fmt.Errorf("%w: got %T", ErrNonBoolean, value))
		}
		if keep {
			out = append(out, item.clone())
		}
	}
	return out, nil
}

// Where is Query over c.
func (c Collection) Where(expr string, opts ...QueryOption) ([]Annotation, error) {
	return Query(c, expr, opts...)
}
