package annotate

import (
	"time"
)

// resolveEvaluator returns the configured evaluator or lazily builds the
// default expr engine from the cache and function settings.
func (cfg *sessionConfig) resolveEvaluator() (Evaluator, error) {
	if cfg.evaluator != nil {
		return cfg.evaluator, nil
	}
	evaluator := NewExprEvaluator(
		WithEngineCache(cfg.programCache),
		WithEngineFunctions(DefaultFunctions().Merge(cfg.functions)),
	)
	if evaluator == nil {
		return nil, ErrNoEvaluator
	}
	cfg.evaluator = evaluator
	return evaluator, nil
}

// AnnotationRecord builds the variables a query sees for one annotation:
// id, user, comment, timestamp (nil until saved), saved, dirty, mine,
// start and end ({line, column}) and lines, the number of lines spanned.
func AnnotationRecord(a Annotation, user string) map[string]any {
	var timestamp any
	if a.Timestamp != nil {
		timestamp = a.Timestamp.UTC()
	}
	return map[string]any{
		"id":        a.ID,
		"user":      a.User,
		"comment":   a.Comment,
		"timestamp": timestamp,
		"saved":     a.Saved(),
		"dirty":     a.Dirty,
		"mine":      a.OwnedBy(user),
		"start":     positionRecord(a.Range.Start),
		"end":       positionRecord(a.Range.End),
		"lines":     a.Range.End.Line - a.Range.Start.Line + 1,
	}
}

func positionRecord(p Position) map[string]any {
	return map[string]any{"line": p.Line, "column": p.Column}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
