package annotate

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Function is a helper callable from query expressions.
type Function func(args ...any) (any, error)

// Variadic marks a function that validates its own arguments.
const Variadic = -1

type queryFunction struct {
	arity int
	fn    Function
}

// FunctionRegistry holds the helpers a query may call, keyed by lower case
// name. Names must be identifiers and may not shadow an annotation field or
// one of the query bindings.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]queryFunction
}

// NewFunctionRegistry constructs an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{functions: make(map[string]queryFunction)}
}

// DefaultFunctions returns the helpers every query can use:
//
//	words(text)      number of whitespace separated words
//	fold(text)       lower cased text
//	excerpt(text, n) the first n characters of text
func DefaultFunctions() *FunctionRegistry {
	r := NewFunctionRegistry()
	_ = r.RegisterArity("words", 1, func(args ...any) (any, error) {
		text, err := stringArg("words", args)
		if err != nil {
			return nil, err
		}
		return len(strings.FieldsFunc(text, unicode.IsSpace)), nil
	})
	_ = r.RegisterArity("fold", 1, func(args ...any) (any, error) {
		text, err := stringArg("fold", args)
		if err != nil {
			return nil, err
		}
		return strings.ToLower(text), nil
	})
	_ = r.RegisterArity("excerpt", 2, func(args ...any) (any, error) {
		text, err := stringArg("excerpt", args[:1])
		if err != nil {
			return nil, err
		}
		n, ok := intArg(args[1])
		if !ok || n < 0 {
			return nil, fmt.Errorf("annotate: excerpt expects a non-negative length, got %v", args[1])
		}
		runes := []rune(text)
		if n < len(runes) {
			runes = runes[:n]
		}
		return string(runes), nil
	})
	return r
}

func stringArg(name string, args []any) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("annotate: %s expects 1 argument, got %d", name, len(args))
	}
	text, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("annotate: %s expects a string, got %T", name, args[0])
	}
	return text, nil
}

// intArg accepts the integer shapes the engines hand over: expr passes int,
// cel int64 and goja int64 or float64.
func intArg(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

// Register stores a variadic fn under name.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	return r.RegisterArity(name, Variadic, fn)
}

// RegisterArity stores fn under name. Calls with a different number of
// arguments fail before fn runs.
func (r *FunctionRegistry) RegisterArity(name string, arity int, fn Function) error {
	if fn == nil {
		return fmt.Errorf("annotate: function %q is nil", name)
	}
	key := strings.ToLower(name)
	if err := checkFunctionName(key); err != nil {
		return err
	}
	if arity < Variadic {
		return fmt.Errorf("annotate: function %q has invalid arity %d", name, arity)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.functions == nil {
		r.functions = make(map[string]queryFunction)
	}
	if _, exists := r.functions[key]; exists {
		return fmt.Errorf("annotate: function %q already registered", name)
	}
	r.functions[key] = queryFunction{arity: arity, fn: fn}
	return nil
}

func checkFunctionName(name string) error {
	if name == "" {
		return fmt.Errorf("annotate: function name must not be empty")
	}
	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return fmt.Errorf("annotate: function name %q is not an identifier", name)
	}
	switch name {
	case "now", "args", "metadata", "call":
		return fmt.Errorf("annotate: function name %q is a query binding", name)
	}
	if _, field := AnnotationRecord(Annotation{}, "")[name]; field {
		return fmt.Errorf("annotate: function name %q is an annotation field", name)
	}
	return nil
}

// Merge returns a copy of r extended with the functions of other that r does
// not define.
func (r *FunctionRegistry) Merge(other *FunctionRegistry) *FunctionRegistry {
	out := r.Clone()
	if out == nil {
		out = NewFunctionRegistry()
	}
	if other == nil {
		return out
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	for name, entry := range other.functions {
		if _, exists := out.functions[name]; !exists {
			out.functions[name] = entry
		}
	}
	return out
}

// Clone returns a copy sharing the registered functions.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &FunctionRegistry{functions: make(map[string]queryFunction, len(r.functions))}
	for name, entry := range r.functions {
		clone.functions[name] = entry
	}
	return clone
}

// Call runs the function registered for name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("annotate: function registry is nil")
	}
	r.mu.RLock()
	entry, ok := r.functions[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("annotate: function %q not registered", name)
	}
	if entry.arity != Variadic && len(args) != entry.arity {
		return nil, fmt.Errorf("annotate: %s expects %d argument(s), got %d", name, entry.arity, len(args))
	}
	return entry.fn(args...)
}

// Names lists registered names in sorted order.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// WithFunctionRegistry adds the functions of registry to Session.Query, on
// top of DefaultFunctions.
func WithFunctionRegistry(registry *FunctionRegistry) Option {
	return func(cfg *sessionConfig) {
		if registry == nil {
			return
		}
		cfg.functions = registry.Clone()
	}
}

// WithCustomFunction registers fn under name for Session.Query. Invalid or
// duplicate names are ignored.
func WithCustomFunction(name string, fn Function) Option {
	return func(cfg *sessionConfig) {
		if cfg.functions == nil {
			cfg.functions = NewFunctionRegistry()
		}
		_ = cfg.functions.Register(name, fn)
	}
}
