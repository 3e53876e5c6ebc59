package annotate

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func queryCollection(t *testing.T) Collection {
	t.Helper()
	draft := Annotation{ID: "draft", User: "ann", Range: span(1, 0, 1, 2), Dirty: true}
	c, err := NewCollection(append(sessionAnnotations(), draft)...)
	if err != nil {
		t.Fatalf("NewCollection returned error: %v", err)
	}
	return c
}

func TestQueryWithExpr(t *testing.T) {
	c := queryCollection(t)

	cases := []struct {
		expr string
		opts []QueryOption
		want []string
	}{
		{"mine && saved", []QueryOption{QueryWithUser("ann")}, []string{"a1"}},
		{"mine", nil, nil},
		{"dirty", nil, []string{"draft"}},
		{"start.line == 3 && start.column > 0", nil, []string{"b2"}},
		{"words(comment) >= 4", nil, []string{"a1"}},
		{`fold(user) == "bob"`, nil, []string{"b2"}},
		{`excerpt(comment, 5) == "Check"`, nil, []string{"a1"}},
		{"timestamp != nil && lines == 1", nil, []string{"a1", "b2"}},
		{`metadata.href == "notes.md" && id == "a1"`, []QueryOption{QueryWithMetadata(map[string]any{"href": "notes.md"})}, []string{"a1"}},
		{"user == args.owner", []QueryOption{QueryWithArgs(map[string]any{"owner": "bob"})}, []string{"b2"}},
	}
	for _, tc := range cases {
		got, err := c.Where(tc.expr, tc.opts...)
		if err != nil {
			t.Fatalf("Where(%q) returned error: %v", tc.expr, err)
		}
		if !equalIDs(got, tc.want...) {
			t.Fatalf("Where(%q): want %v, got %v", tc.expr, tc.want, ids(got))
		}
	}
}

func TestQueryWithCEL(t *testing.T) {
	c := queryCollection(t)
	evaluator := NewCELEvaluator(WithEngineFunctions(DefaultFunctions()))

	cases := []struct {
		expr string
		want []string
	}{
		{"mine && saved", []string{"a1"}},
		{`start.line == 3 && user == "bob"`, []string{"b2"}},
		{`call("words", comment) > 3`, []string{"a1"}},
	}
	for _, tc := range cases {
		got, err := Query(c, tc.expr, QueryWithEvaluator(evaluator), QueryWithUser("ann"))
		if err != nil {
			t.Fatalf("Query(%q) returned error: %v", tc.expr, err)
		}
		if !equalIDs(got, tc.want...) {
			t.Fatalf("Query(%q): want %v, got %v", tc.expr, tc.want, ids(got))
		}
	}

	if _, err := Query(c, "mine &&", QueryWithEvaluator(evaluator)); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestQueryRejectsNonBoolean(t *testing.T) {
	_, err := Query(queryCollection(t), "comment")
	if !errors.Is(err, ErrNonBoolean) {
		t.Fatalf("expected ErrNonBoolean, got %v", err)
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || evalErr.Engine != "expr" || evalErr.Expr != "comment" {
		t.Fatalf("expected EvaluationError with metadata, got %v", err)
	}
	if evalErr.Record == "" {
		t.Fatalf("expected failing record id in error")
	}
}

func TestQueryErrors(t *testing.T) {
	c := queryCollection(t)

	if _, err := Query(c, ""); !errors.Is(err, ErrEmptyExpression) {
		t.Fatalf("expected ErrEmptyExpression, got %v", err)
	}
	_, err := Query(c, "mine &&")
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError for invalid syntax, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "annotate: expr evaluator") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestQueryReusesCachedPrograms(t *testing.T) {
	cache := NewMemoryProgramCache()
	evaluator := NewExprEvaluator(WithEngineCache(cache), WithEngineFunctions(DefaultFunctions()))
	c := queryCollection(t)

	for i := 0; i < 3; i++ {
		if _, err := Query(c, "saved", QueryWithEvaluator(evaluator)); err != nil {
			t.Fatalf("Query returned error: %v", err)
		}
	}
	if cache.Len() != 1 {
		t.Fatalf("expected one cached program, got %d", cache.Len())
	}
	if _, err := Query(c, "dirty", QueryWithEvaluator(evaluator)); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if cache.Len() != 2 {
		t.Fatalf("expected two cached programs, got %d", cache.Len())
	}
}

func TestQueryLogsEvaluation(t *testing.T) {
	var events []EvaluatorLogEvent
	logger := EvaluatorLoggerFunc(func(event EvaluatorLogEvent) {
		events = append(events, event)
	})

	if _, err := Query(queryCollection(t), "saved", QueryWithLogger(logger)); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one log event, got %d", len(events))
	}
	if events[0].Engine != "expr" || events[0].Matched != 2 || events[0].Scanned != 3 || events[0].Err != nil {
		t.Fatalf("unexpected log event %+v", events[0])
	}
}

func TestNewEvaluator(t *testing.T) {
	for _, engine := range []string{"", "expr", "cel"} {
		evaluator, err := NewEvaluator(engine, nil, DefaultFunctions())
		if err != nil {
			t.Fatalf("NewEvaluator(%q) returned error: %v", engine, err)
		}
		if engine != "" && evaluatorEngineName(evaluator) != engine {
			t.Fatalf("expected engine %q, got %q", engine, evaluatorEngineName(evaluator))
		}
	}
	if _, err := NewEvaluator("lua", nil, nil); !errors.Is(err, ErrNoEvaluator) {
		t.Fatalf("expected ErrNoEvaluator, got %v", err)
	}
	if !jsEvaluatorAvailable() {
		if _, err := NewEvaluator("js", nil, nil); !errors.Is(err, ErrNoEvaluator) {
			t.Fatalf("expected ErrNoEvaluator without js support, got %v", err)
		}
	}
}

func TestSessionQuery(t *testing.T) {
	cache := NewMemoryProgramCache()
	var logged []EvaluatorLogEvent
	s := newTestSession(t,
		WithProgramCache(cache),
		WithCustomFunction("initial", func(args ...any) (any, error) {
			text, err := stringArg("initial", args)
			if err != nil || text == "" {
				return "", err
			}
			return text[:1], nil
		}),
		WithEvaluatorLogger(EvaluatorLoggerFunc(func(event EvaluatorLogEvent) {
			logged = append(logged, event)
		})),
	)
	ctx := context.Background()

	mine, err := s.Query(ctx, "mine")
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if !equalIDs(mine, "a1") {
		t.Fatalf("expected a1 for ann, got %v", ids(mine))
	}

	got, err := s.Query(ctx, `initial(user) == "b" && words("a b") == 2 && metadata.href == "notes.md"`)
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if !equalIDs(got, "b2") {
		t.Fatalf("expected b2, got %v", ids(got))
	}
	if cache.Len() != 2 || len(logged) != 2 {
		t.Fatalf("expected shared cache and logger, got %d programs and %d events", cache.Len(), len(logged))
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.Query(cancelled, "mine"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
