package annotate

import "fmt"

// Position is a stable document coordinate. Line is 1-based into the
// newline-split lines of the content; Column is a 0-based rune offset into the
// flattened rendered text of that line.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Compare orders positions lexicographically by (line, column), returning -1,
// 0 or 1.
func (p Position) Compare(other Position) int {
	switch {
	case p.Line < other.Line:
		return -1
	case p.Line > other.Line:
		return 1
	case p.Column < other.Column:
		return -1
	case p.Column > other.Column:
		return 1
	default:
		return 0
	}
}

// Before reports whether p occurs strictly before other in document order.
func (p Position) Before(other Position) bool {
	return p.Compare(other) < 0
}

// Valid reports whether p addresses a line (>= 1) and a non-negative column.
func (p Position) Valid() bool {
	return p.Line >= 1 && p.Column >= 0
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Range anchors an annotation. A normalized range never has Start after End.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// NewRange builds a normalized range from two endpoints given in either
// order, so the result does not depend on the direction of a drag.
func NewRange(a, b Position) Range {
	if b.Before(a) {
		return Range{Start: b, End: a}
	}
	return Range{Start: a, End: b}
}

// Normalized returns r with its endpoints ordered.
func (r Range) Normalized() Range {
	return NewRange(r.Start, r.End)
}

// IsNormalized reports whether Start <= End.
func (r Range) IsNormalized() bool {
	return r.Start.Compare(r.End) <= 0
}

// Collapsed reports whether the range covers no characters.
func (r Range) Collapsed() bool {
	return r.Start.Compare(r.End) == 0
}

// Valid reports whether both endpoints are valid and ordered.
func (r Range) Valid() bool {
	return r.Start.Valid() && r.End.Valid() && r.IsNormalized()
}

// Contains reports whether pos lies within r, inclusive of Start and
// exclusive of End. A collapsed range contains only its start.
func (r Range) Contains(pos Position) bool {
	if r.Collapsed() {
		return pos.Compare(r.Start) == 0
	}
	return r.Start.Compare(pos) <= 0 && pos.Before(r.End)
}

// Overlaps reports whether r and other share at least one character.
func (r Range) Overlaps(other Range) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

func (r Range) String() string {
	return r.Start.String() + "-" + r.End.String()
}
