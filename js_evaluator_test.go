//go:build js_eval

package annotate

import (
	"errors"
	"strings"
	"testing"
)

func TestQueryWithJS(t *testing.T) {
	c := queryCollection(t)
	evaluator, err := NewEvaluator(EngineJS, nil, DefaultFunctions())
	if err != nil {
		t.Fatalf("NewEvaluator(js) returned error: %v", err)
	}
	if name := evaluatorEngineName(evaluator); name != EngineJS {
		t.Fatalf("expected js engine, got %q", name)
	}

	cases := []struct {
		expr string
		opts []QueryOption
		want []string
	}{
		{"mine && saved", []QueryOption{QueryWithUser("ann")}, []string{"a1"}},
		{`start.line === 3 && user === "bob"`, nil, []string{"b2"}},
		{"dirty && end.column === 2", nil, []string{"draft"}},
		{"timestamp === null", nil, []string{"draft"}},
		{"words(comment) >= 4", nil, []string{"a1"}},
		{`excerpt(comment, 5) === "Check"`, nil, []string{"a1"}},
		{`call("fold", user) === "bob"`, nil, []string{"b2"}},
		{`metadata.href === "notes.md" && id === "a1"`, []QueryOption{QueryWithMetadata(map[string]any{"href": "notes.md"})}, []string{"a1"}},
		{"user === args.owner", []QueryOption{QueryWithArgs(map[string]any{"owner": "bob"})}, []string{"b2"}},
	}
	for _, tc := range cases {
		got, err := Query(c, tc.expr, append([]QueryOption{QueryWithEvaluator(evaluator)}, tc.opts...)...)
		if err != nil {
			t.Fatalf("Query(%q) returned error: %v", tc.expr, err)
		}
		if !equalIDs(got, tc.want...) {
			t.Fatalf("Query(%q): want %v, got %v", tc.expr, tc.want, ids(got))
		}
	}
}

func TestQueryWithJSErrors(t *testing.T) {
	c := queryCollection(t)
	evaluator := NewJSEvaluator(WithEngineFunctions(DefaultFunctions()))

	_, err := Query(c, "mine &&", QueryWithEvaluator(evaluator))
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || evalErr.Engine != EngineJS {
		t.Fatalf("expected js EvaluationError for invalid syntax, got %v", err)
	}

	if _, err := Query(c, "comment", QueryWithEvaluator(evaluator)); !errors.Is(err, ErrNonBoolean) {
		t.Fatalf("expected ErrNonBoolean, got %v", err)
	}

	_, err = Query(c, "fold(1) === 'x'", QueryWithEvaluator(evaluator))
	if err == nil || !strings.Contains(err.Error(), "fold expects a string") {
		t.Fatalf("expected function error to surface, got %v", err)
	}

	if _, err := Query(c, "", QueryWithEvaluator(evaluator)); !errors.Is(err, ErrEmptyExpression) {
		t.Fatalf("expected ErrEmptyExpression, got %v", err)
	}
}

func TestQueryWithJSReusesCachedPrograms(t *testing.T) {
	cache := NewMemoryProgramCache()
	evaluator := NewJSEvaluator(WithEngineCache(cache), WithEngineFunctions(DefaultFunctions()))
	c := queryCollection(t)

	for i := 0; i < 3; i++ {
		got, err := Query(c, "saved", QueryWithEvaluator(evaluator))
		if err != nil {
			t.Fatalf("Query returned error: %v", err)
		}
		if !equalIDs(got, "a1", "b2") {
			t.Fatalf("expected saved annotations, got %v", ids(got))
		}
	}
	if cache.Len() != 1 {
		t.Fatalf("expected one cached program, got %d", cache.Len())
	}

	exprEvaluator := NewExprEvaluator(WithEngineCache(cache))
	if _, err := Query(c, "saved", QueryWithEvaluator(exprEvaluator)); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if cache.Len() != 2 {
		t.Fatalf("expected engines to keep separate programs, got %d", cache.Len())
	}
}
