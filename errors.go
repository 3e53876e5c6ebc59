// Package annotate anchors threaded comments to line/column ranges of a
// Markdown document, keeps them in a normalized document-ordered collection,
// drives the select/create/edit/save/cancel/delete lifecycle through a pure
// reducer, and round-trips the collection as a JSON block embedded in a
// Markdown comment.
package annotate

import "errors"

// Collection errors
var (
	// ErrMissingAnnotation indicates an upsert was attempted without an annotation.
	ErrMissingAnnotation = errors.New("annotate: missing annotation")

	// ErrMissingID indicates an annotation without an identifier was offered to the collection.
	ErrMissingID = errors.New("annotate: missing annotation id")

	// ErrDuplicateID indicates a collection was built from records sharing an id.
	ErrDuplicateID = errors.New("annotate: duplicate annotation id")
)

// Anchoring errors
var (
	// ErrOutsideDocument indicates a selection endpoint has no enclosing line container.
	ErrOutsideDocument = errors.New("annotate: node is outside the rendered document")

	// ErrNodeNotInLine indicates a node is neither a text node of its line nor the line container.
	ErrNodeNotInLine = errors.New("annotate: node is not part of its line")

	// ErrLineNotRendered indicates a range references a line the view does not render.
	ErrLineNotRendered = errors.New("annotate: line is not rendered")

	// ErrColumnOutOfRange indicates a column past the end of the line's text.
	ErrColumnOutOfRange = errors.New("annotate: column out of range")

	// ErrInvalidPosition indicates a position with a line below 1 or a negative column.
	ErrInvalidPosition = errors.New("annotate: invalid position")
)

// Codec errors
var (
	// ErrMalformedBlock indicates the annotation block sentinel was found but the
	// block could not be decomposed or decoded.
	ErrMalformedBlock = errors.New("annotate: malformed annotation block")
)

// Reducer errors
var (
	// ErrUnknownAction indicates the reducer received an action it does not handle.
	ErrUnknownAction = errors.New("annotate: unknown action")

	// ErrMissingTimestamp indicates a save was reduced without a save time.
	ErrMissingTimestamp = errors.New("annotate: missing save timestamp")
)

// Query errors
var (
	// ErrNoEvaluator indicates no evaluator could be resolved for a query.
	ErrNoEvaluator = errors.New("annotate: evaluator not configured")

	// ErrEmptyExpression indicates a query was run without an expression.
	ErrEmptyExpression = errors.New("annotate: expression must not be empty")

	// ErrNonBoolean indicates a query expression produced something other than a bool.
	ErrNonBoolean = errors.New("annotate: expression did not produce a bool")
)
