package annotate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the ISO-8601 layout used for persisted save times:
// millisecond precision in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Annotation is a user comment anchored to a document range.
//
// ID and Range are fixed at creation. Timestamp is nil until the first save.
// Dirty is true only for an annotation created but never saved.
type Annotation struct {
	ID        string
	User      string
	Comment   string
	Range     Range
	Timestamp *time.Time
	Dirty     bool
}

// Saved reports whether the annotation has been saved at least once.
func (a Annotation) Saved() bool {
	return a.Timestamp != nil
}

// OwnedBy reports whether user authored the annotation. An empty user owns
// nothing.
func (a Annotation) OwnedBy(user string) bool {
	return user != "" && a.User == user
}

// clone detaches the timestamp pointer so copies never alias.
func (a Annotation) clone() Annotation {
	if a.Timestamp != nil {
		ts := *a.Timestamp
		a.Timestamp = &ts
	}
	return a
}

// Validate checks the structural contract of a persisted record.
func (a Annotation) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return ErrMissingID
	}
	if !a.Range.Start.Valid() || !a.Range.End.Valid() {
		return fmt.Errorf("%w: annotation %q range %s", ErrInvalidPosition, a.ID, a.Range)
	}
	if !a.Range.IsNormalized() {
		return fmt.Errorf("%w: annotation %q range %s ends before it starts", ErrInvalidPosition, a.ID, a.Range)
	}
	return nil
}

type annotationJSON struct {
	ID        string  `json:"id"`
	User      string  `json:"user"`
	Comment   string  `json:"comment"`
	Range     Range   `json:"range"`
	Timestamp *string `json:"timestamp"`
	Dirty     bool    `json:"isDirty,omitempty"`
}

// MarshalJSON encodes the persisted record shape.
func (a Annotation) MarshalJSON() ([]byte, error) {
	wire := annotationJSON{
		ID:      a.ID,
		User:    a.User,
		Comment: a.Comment,
		Range:   a.Range,
		Dirty:   a.Dirty,
	}
	if a.Timestamp != nil {
		formatted := FormatTimestamp(*a.Timestamp)
		wire.Timestamp = &formatted
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(wire); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON decodes the persisted record shape.
func (a *Annotation) UnmarshalJSON(data []byte) error {
	var wire annotationJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out, err := wire.annotation()
	if err != nil {
		return err
	}
	*a = out
	return nil
}

func (w annotationJSON) annotation() (Annotation, error) {
	out := Annotation{
		ID:      w.ID,
		User:    w.User,
		Comment: w.Comment,
		Range:   w.Range,
		Dirty:   w.Dirty,
	}
	if w.Timestamp != nil {
		ts, err := ParseTimestamp(*w.Timestamp)
		if err != nil {
			return Annotation{}, fmt.Errorf("annotation %q: %w", w.ID, err)
		}
		out.Timestamp = &ts
	}
	return out, nil
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts any RFC 3339 timestamp and returns it in UTC.
func ParseTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", value, err)
	}
	return ts.UTC(), nil
}
