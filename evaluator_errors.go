package annotate

import (
	"errors"
	"fmt"
	"strings"
)

// EvaluationError reports a query expression that failed to compile or run,
// with the engine, the expression and the annotation being evaluated.
type EvaluationError struct {
	Engine string
	Expr   string
	// Record is the id of the annotation being evaluated, if any.
	Record string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "annotate: %s evaluator ", e.Engine)
	if e.Expr == "" {
		b.WriteString("expr=<empty>")
	} else {
		fmt.Fprintf(&b, "expr=%q", e.Expr)
	}
	if e.Record != "" {
		b.WriteString(" record=" + e.Record)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// wrapEvaluatorError prefixes engine failures that carry no expression.
// Errors already in the annotate namespace pass through.
func wrapEvaluatorError(engine string, err error) error {
	var evalErr *EvaluationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &evalErr), strings.HasPrefix(err.Error(), "annotate:"):
		return err
	default:
		return fmt.Errorf("annotate: %s evaluator: %w", engine, err)
	}
}

// wrapEvaluationError attaches engine, expression and record to err. An
// existing EvaluationError keeps the fields it already has.
func wrapEvaluationError(engine, expr, record string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		return &EvaluationError{Engine: engine, Expr: expr, Record: record, Err: err}
	}
	fill := func(field *string, value string) {
		if *field == "" {
			*field = value
		}
	}
	fill(&evalErr.Engine, engine)
	fill(&evalErr.Expr, expr)
	fill(&evalErr.Record, record)
	return evalErr
}
