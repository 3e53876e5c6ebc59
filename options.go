package annotate

import (
	"strings"

	"github.com/google/uuid"
)

func defaultIDGenerator() string {
	return uuid.NewString()
}

// WithUser logs the session in as user from the start.
func WithUser(user string) Option {
	return func(cfg *sessionConfig) {
		cfg.user = strings.TrimSpace(user)
	}
}

// WithIDGenerator replaces the uuid-based annotation id generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(cfg *sessionConfig) {
		cfg.ids = ids
	}
}

// WithClock replaces time.Now as the source of save times.
func WithClock(clock Clock) Option {
	return func(cfg *sessionConfig) {
		cfg.clock = clock
	}
}

// WithEvaluator configures the evaluator used by Session.Query.
func WithEvaluator(e Evaluator) Option {
	return func(cfg *sessionConfig) {
		cfg.evaluator = e
	}
}
