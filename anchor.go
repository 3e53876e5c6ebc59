package annotate

import (
	"fmt"
	"unicode/utf8"
)

// View is the capability a rendering layer supplies so selections made on
// rendered nodes can be mapped to document coordinates and back. N identifies
// a rendered node (a line container or a text node). Implementations must
// flatten a line the same way on every render of the same content.
type View[N comparable] interface {
	// LineOf walks up from node to its enclosing line container and returns
	// that container's 1-based line number.
	LineOf(node N) (int, bool)
	// TextNodes returns the descendant text nodes of the line container in
	// document order.
	TextNodes(line int) ([]N, bool)
	// Text returns the text content of a text node.
	Text(node N) string
	// Container returns the line container node itself.
	Container(line int) (N, bool)
}

// Point is one end of a live selection: a rendered node and a character
// offset local to it. For a line container node the offset counts characters
// from the start of the line.
type Point[N comparable] struct {
	Node   N
	Offset int
}

// ToDocumentRange maps a live selection to a normalized document range. The
// result does not depend on whether the anchor precedes the focus.
func ToDocumentRange[N comparable](view View[N], anchor, focus Point[N]) (Range, error) {
	start, err := PositionOf(view, anchor)
	if err != nil {
		return Range{}, fmt.Errorf("anchor: %w", err)
	}
	end, err := PositionOf(view, focus)
	if err != nil {
		return Range{}, fmt.Errorf("focus: %w", err)
	}
	return NewRange(start, end), nil
}

// PositionOf maps a single selection endpoint to a document position.
func PositionOf[N comparable](view View[N], point Point[N]) (Position, error) {
	line, ok := view.LineOf(point.Node)
	if !ok || line < 1 {
		return Position{}, ErrOutsideDocument
	}
	if point.Offset < 0 {
		return Position{}, fmt.Errorf("%w: offset %d", ErrInvalidPosition, point.Offset)
	}
	if container, ok := view.Container(line); ok && container == point.Node {
		return Position{Line: line, Column: point.Offset}, nil
	}
	nodes, _ := view.TextNodes(line)
	column := 0
	for _, node := range nodes {
		if node == point.Node {
			return Position{Line: line, Column: column + point.Offset}, nil
		}
		column += textLength(view.Text(node))
	}
	return Position{}, fmt.Errorf("%w: line %d", ErrNodeNotInLine, line)
}

// FromDocumentRange maps a document range back to live selection endpoints.
// For any range whose lines are rendered by view,
// ToDocumentRange(view, FromDocumentRange(view, r)) yields r.
func FromDocumentRange[N comparable](view View[N], r Range) (Point[N], Point[N], error) {
	start, err := PointAt(view, r.Start)
	if err != nil {
		return Point[N]{}, Point[N]{}, fmt.Errorf("start: %w", err)
	}
	end, err := PointAt(view, r.End)
	if err != nil {
		return Point[N]{}, Point[N]{}, fmt.Errorf("end: %w", err)
	}
	return start, end, nil
}

// PointAt locates the text node holding pos and the offset local to it. A
// column equal to the line length lands at the end of the last text node;
// lines without text fall back to their container.
func PointAt[N comparable](view View[N], pos Position) (Point[N], error) {
	if !pos.Valid() {
		return Point[N]{}, fmt.Errorf("%w: %s", ErrInvalidPosition, pos)
	}
	container, ok := view.Container(pos.Line)
	if !ok {
		return Point[N]{}, fmt.Errorf("%w: %d", ErrLineNotRendered, pos.Line)
	}
	nodes, _ := view.TextNodes(pos.Line)
	if len(nodes) == 0 {
		if pos.Column != 0 {
			return Point[N]{}, fmt.Errorf("%w: %s", ErrColumnOutOfRange, pos)
		}
		return Point[N]{Node: container, Offset: 0}, nil
	}

	consumed := 0
	for _, node := range nodes {
		length := textLength(view.Text(node))
		if consumed+length > pos.Column {
			return Point[N]{Node: node, Offset: pos.Column - consumed}, nil
		}
		consumed += length
	}
	if pos.Column == consumed {
		last := nodes[len(nodes)-1]
		return Point[N]{Node: last, Offset: textLength(view.Text(last))}, nil
	}
	return Point[N]{}, fmt.Errorf("%w: %s exceeds %d", ErrColumnOutOfRange, pos, consumed)
}

func textLength(text string) int {
	return utf8.RuneCountInString(text)
}
