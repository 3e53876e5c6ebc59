package annotate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/goliatone/go-annotate/internal/hydrate"
)

// Namespace tags the comment block that carries annotations inside a
// Markdown document.
const Namespace = "http://marklogic.com/annotations"

const (
	blockOpen  = "\n\n<!--- " + Namespace + "\n\n"
	blockClose = "\n\n--->"
)

var annotatedDocument = regexp.MustCompile(`(?s)^(.*)\n\n<!--- ` + regexp.QuoteMeta(Namespace) + `\n\n(.+)\n\n--->(.*)$`)

// Document is a parsed annotated Markdown file.
type Document struct {
	Content     string
	Annotations []Annotation
}

// Serialize renders the document back into annotated Markdown.
func (d Document) Serialize() (string, error) {
	return Serialize(d.Content, d.Annotations)
}

// ParseError reports an annotation block that could not be decoded. It always
// matches ErrMalformedBlock.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("annotate: malformed annotation block: %s: %v", e.Reason, e.Err)
	}
	return "annotate: malformed annotation block: " + e.Reason
}

func (e *ParseError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err != nil {
		return []error{ErrMalformedBlock, e.Err}
	}
	return []error{ErrMalformedBlock}
}

// Serialize appends the persistable annotations to content as an embedded
// comment block. Dirty annotations are dropped. Content is returned unchanged
// when nothing is persistable.
func Serialize(content string, annotations []Annotation) (string, error) {
	persistable := make([]Annotation, 0, len(annotations))
	for _, a := range annotations {
		if !a.Dirty {
			persistable = append(persistable, a)
		}
	}
	if len(persistable) == 0 {
		return content, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(persistable); err != nil {
		return "", fmt.Errorf("annotate: encode annotations: %w", err)
	}
	payload := strings.TrimSuffix(buf.String(), "\n")

	var b strings.Builder
	b.Grow(len(content) + len(blockOpen) + len(payload) + len(blockClose))
	b.WriteString(content)
	b.WriteString(blockOpen)
	b.WriteString(payload)
	b.WriteString(blockClose)
	return b.String(), nil
}

// Parse splits raw into Markdown content and its embedded annotations. Text
// without an annotation block is returned whole as content. Text following the
// block is reattached to the content.
func Parse(raw string) (Document, error) {
	return ParseSource("", raw)
}

// ParseSource is Parse with a source name used in error messages.
func ParseSource(source, raw string) (Document, error) {
	if !strings.Contains(raw, "<!--- "+Namespace) {
		return Document{Content: raw}, nil
	}
	match := annotatedDocument.FindStringSubmatch(raw)
	if match == nil {
		return Document{}, &ParseError{Reason: "block is not delimited by blank lines"}
	}

	annotations, err := recordDecoder.DecodeBlock(source, []byte(match[2]))
	if err != nil {
		return Document{}, &ParseError{Reason: "invalid records", Err: err}
	}
	if _, err := NewCollection(annotations...); err != nil {
		return Document{}, &ParseError{Reason: "invalid records", Err: err}
	}
	return Document{
		Content:     match[1] + match[3],
		Annotations: annotations,
	}, nil
}

var recordDecoder = hydrate.NewDecoder(decodeRecord, hydrate.WithCheck(validateRecord))

func decodeRecord(_ hydrate.Position, raw json.RawMessage) (Annotation, error) {
	var wire annotationJSON
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return Annotation{}, err
	}
	return wire.annotation()
}

// validateRecord checks the structural contract. Stored records are never
// dirty.
func validateRecord(_ hydrate.Position, a *Annotation) error {
	if a == nil {
		return ErrMissingAnnotation
	}
	a.Dirty = false
	return a.Validate()
}
