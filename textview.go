package annotate

import (
	"fmt"
	"regexp"
	"strings"
)

// TextNode addresses a node of a TextView: a text node of a line, or the line
// container itself when Index is ContainerIndex.
type TextNode struct {
	Line  int
	Index int
}

// ContainerIndex marks a TextNode that addresses a line container.
const ContainerIndex = -1

// IsContainer reports whether n addresses a line container.
func (n TextNode) IsContainer() bool {
	return n.Index == ContainerIndex
}

// Segmenter splits one line of Markdown into the text nodes a renderer would
// produce for it. Concatenating the returned segments must reproduce the line.
type Segmenter func(line string) []string

// LineInfo carries the presentation hints a renderer derives per line.
type LineInfo struct {
	Number  int
	Text    string
	Heading bool
	Quote   bool
	// Indent is the hanging indent, in characters, of list items and quotes.
	Indent int
}

var (
	inlineMarkup = regexp.MustCompile("`[^`]*`|\\*\\*[^*]+\\*\\*|\\*[^*\\s][^*]*\\*|_[^_\\s][^_]*_|\\[[^\\]]*\\]\\([^)]*\\)")
	listMatcher  = regexp.MustCompile(`^(\s*)(\*|-|\d+\.|>) `)
	headingMatch = regexp.MustCompile(`^#+ `)
	quoteMatch   = regexp.MustCompile(`^>+ `)
)

// DefaultSegmenter splits code spans, emphasis and links into their own text
// nodes. Characters are never altered, so columns address the raw line.
func DefaultSegmenter(line string) []string {
	if line == "" {
		return nil
	}
	matches := inlineMarkup.FindAllStringIndex(line, -1)
	segments := make([]string, 0, len(matches)*2+1)
	cursor := 0
	for _, match := range matches {
		if match[0] > cursor {
			segments = append(segments, line[cursor:match[0]])
		}
		segments = append(segments, line[match[0]:match[1]])
		cursor = match[1]
	}
	if cursor < len(line) {
		segments = append(segments, line[cursor:])
	}
	return segments
}

// TextView is an in-memory View over Markdown content split into lines and
// text nodes. It is immutable once built.
type TextView struct {
	lines    []LineInfo
	segments [][]string
}

// TextViewOption configures a TextView.
type TextViewOption func(*textViewConfig)

type textViewConfig struct {
	segmenter Segmenter
}

// WithSegmenter replaces DefaultSegmenter.
func WithSegmenter(segmenter Segmenter) TextViewOption {
	return func(cfg *textViewConfig) {
		if segmenter != nil {
			cfg.segmenter = segmenter
		}
	}
}

// NewTextView renders content into lines and text nodes. Empty content
// renders as a single empty line.
func NewTextView(content string, opts ...TextViewOption) *TextView {
	cfg := textViewConfig{segmenter: DefaultSegmenter}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	view := &TextView{}
	for i, line := range strings.Split(content, "\n") {
		view.lines = append(view.lines, describeLine(i+1, line))
		view.segments = append(view.segments, segmentLine(cfg.segmenter, line))
	}
	return view
}

func segmentLine(segmenter Segmenter, line string) []string {
	segments := segmenter(line)
	if strings.Join(segments, "") != line {
		if line == "" {
			return nil
		}
		return []string{line}
	}
	return segments
}

func describeLine(number int, line string) LineInfo {
	info := LineInfo{Number: number, Text: line}
	if m := listMatcher.FindStringSubmatch(line); m != nil {
		info.Indent = len(m[1]) + len(m[2]) + 1
	}
	info.Heading = headingMatch.MatchString(line)
	info.Quote = quoteMatch.MatchString(line)
	return info
}

// Len returns the number of rendered lines.
func (v *TextView) Len() int {
	return len(v.lines)
}

// Line returns presentation hints for a 1-based line number.
func (v *TextView) Line(number int) (LineInfo, bool) {
	if number < 1 || number > len(v.lines) {
		return LineInfo{}, false
	}
	return v.lines[number-1], true
}

// LineOf implements View.
func (v *TextView) LineOf(node TextNode) (int, bool) {
	if node.Line < 1 || node.Line > len(v.lines) {
		return 0, false
	}
	if node.Index != ContainerIndex && (node.Index < 0 || node.Index >= len(v.segments[node.Line-1])) {
		return 0, false
	}
	return node.Line, true
}

// TextNodes implements View.
func (v *TextView) TextNodes(line int) ([]TextNode, bool) {
	if line < 1 || line > len(v.lines) {
		return nil, false
	}
	segments := v.segments[line-1]
	nodes := make([]TextNode, len(segments))
	for i := range segments {
		nodes[i] = TextNode{Line: line, Index: i}
	}
	return nodes, true
}

// Text implements View.
func (v *TextView) Text(node TextNode) string {
	if node.Line < 1 || node.Line > len(v.lines) {
		return ""
	}
	if node.IsContainer() {
		return v.lines[node.Line-1].Text
	}
	segments := v.segments[node.Line-1]
	if node.Index < 0 || node.Index >= len(segments) {
		return ""
	}
	return segments[node.Index]
}

// Container implements View.
func (v *TextView) Container(line int) (TextNode, bool) {
	if line < 1 || line > len(v.lines) {
		return TextNode{}, false
	}
	return TextNode{Line: line, Index: ContainerIndex}, true
}

// Excerpt returns the rendered text covered by r, joining lines with "\n".
func (v *TextView) Excerpt(r Range) (string, error) {
	r = r.Normalized()
	if !r.Start.Valid() {
		return "", fmt.Errorf("%w: %s", ErrInvalidPosition, r.Start)
	}
	var b strings.Builder
	for line := r.Start.Line; line <= r.End.Line; line++ {
		info, ok := v.Line(line)
		if !ok {
			return "", fmt.Errorf("%w: %d", ErrLineNotRendered, line)
		}
		runes := []rune(info.Text)
		from, to := 0, len(runes)
		if line == r.Start.Line {
			from = r.Start.Column
		}
		if line == r.End.Line {
			to = r.End.Column
		}
		if from > len(runes) || to > len(runes) {
			return "", fmt.Errorf("%w: line %d", ErrColumnOutOfRange, line)
		}
		if line > r.Start.Line {
			b.WriteByte('\n')
		}
		if from < to {
			b.WriteString(string(runes[from:to]))
		}
	}
	return b.String(), nil
}
