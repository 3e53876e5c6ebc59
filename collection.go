package annotate

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Collection is an immutable set of annotations keyed by id and kept in
// document order. Every operation returns a new Collection; the receiver is
// never modified, so a held value is a consistent snapshot.
type Collection struct {
	items []Annotation
}

// DocumentOrder compares annotations by range start. Ties fall back to the
// range end and then the id so ordering is total and deterministic.
func DocumentOrder(a, b Annotation) int {
	if c := a.Range.Start.Compare(b.Range.Start); c != 0 {
		return c
	}
	if c := a.Range.End.Compare(b.Range.End); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

// NewCollection builds a document-ordered collection, rejecting records
// without an id and records that share one.
func NewCollection(items ...Annotation) (Collection, error) {
	seen := make(map[string]struct{}, len(items))
	out := make([]Annotation, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			return Collection{}, ErrMissingID
		}
		if _, dup := seen[item.ID]; dup {
			return Collection{}, fmt.Errorf("%w: %q", ErrDuplicateID, item.ID)
		}
		seen[item.ID] = struct{}{}
		item = item.clone()
		if item.Timestamp != nil {
			item.Timestamp = saveTime(*item.Timestamp)
		}
		out = append(out, item)
	}
	slices.SortStableFunc(out, DocumentOrder)
	return Collection{items: out}, nil
}

// Len returns the number of annotations.
func (c Collection) Len() int {
	return len(c.items)
}

// All returns a copy of the annotations in document order.
func (c Collection) All() []Annotation {
	return cloneAnnotations(c.items)
}

// FindByID returns the annotation with id. A missing id is a normal outcome.
func (c Collection) FindByID(id string) (Annotation, bool) {
	if i := c.indexOf(id); i >= 0 {
		return c.items[i].clone(), true
	}
	return Annotation{}, false
}

// FilterByUser returns the annotations authored by user in document order.
// An empty user returns the whole collection.
func (c Collection) FilterByUser(user string) []Annotation {
	if user == "" {
		return c.All()
	}
	out := make([]Annotation, 0, len(c.items))
	for _, item := range c.items {
		if item.User == user {
			out = append(out, item.clone())
		}
	}
	return out
}

// IsMine reports whether the annotation with id exists and is authored by
// user. Unlike FilterByUser, an empty user owns nothing.
func (c Collection) IsMine(id, user string) bool {
	item, ok := c.FindByID(id)
	return ok && item.OwnedBy(user)
}

// Upsert inserts annotation or fully replaces the one sharing its id, then
// restores document order. When timestamp is non-nil it becomes the saved
// time; an annotation carrying a save time is never dirty. Save times are
// stored in UTC at millisecond precision, the precision they serialize at.
func (c Collection) Upsert(annotation Annotation, timestamp *time.Time) (Collection, error) {
	if annotation.ID == "" {
		return c, ErrMissingID
	}
	next := annotation.clone()
	if timestamp == nil {
		timestamp = next.Timestamp
	}
	if timestamp != nil {
		next.Timestamp = saveTime(*timestamp)
		next.Dirty = false
	}

	items := make([]Annotation, 0, len(c.items)+1)
	for _, item := range c.items {
		if item.ID != next.ID {
			items = append(items, item)
		}
	}
	items = append(items, next)
	slices.SortStableFunc(items, DocumentOrder)
	return Collection{items: items}, nil
}

func saveTime(t time.Time) *time.Time {
	ts := t.UTC().Truncate(time.Millisecond)
	return &ts
}

// UpsertRef is Upsert for callers holding an optional annotation.
func (c Collection) UpsertRef(annotation *Annotation, timestamp *time.Time) (Collection, error) {
	if annotation == nil {
		return c, ErrMissingAnnotation
	}
	return c.Upsert(*annotation, timestamp)
}

// Remove drops the annotation with id. Removing an absent id is a no-op.
func (c Collection) Remove(id string) Collection {
	i := c.indexOf(id)
	if i < 0 {
		return c
	}
	items := make([]Annotation, 0, len(c.items)-1)
	items = append(items, c.items[:i]...)
	items = append(items, c.items[i+1:]...)
	return Collection{items: items}
}

// PruneUnsaved keeps only annotations that have been saved.
func (c Collection) PruneUnsaved() Collection {
	items := make([]Annotation, 0, len(c.items))
	for _, item := range c.items {
		if item.Saved() {
			items = append(items, item)
		}
	}
	if len(items) == len(c.items) {
		return c
	}
	return Collection{items: items}
}

// Persistable returns the annotations that may be serialized: everything not
// marked dirty.
func (c Collection) Persistable() []Annotation {
	out := make([]Annotation, 0, len(c.items))
	for _, item := range c.items {
		if !item.Dirty {
			out = append(out, item.clone())
		}
	}
	return out
}

// Dirty returns the annotations created but never saved.
func (c Collection) Dirty() []Annotation {
	var out []Annotation
	for _, item := range c.items {
		if item.Dirty {
			out = append(out, item.clone())
		}
	}
	return out
}

// At returns the annotations whose range contains pos, in document order.
func (c Collection) At(pos Position) []Annotation {
	var out []Annotation
	for _, item := range c.items {
		if item.Range.Contains(pos) {
			out = append(out, item.clone())
		}
	}
	return out
}

// MarshalJSON encodes the full collection, dirty records included, for state
// snapshots. Use Persistable for anything written to a document.
func (c Collection) MarshalJSON() ([]byte, error) {
	if c.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.items)
}

func (c Collection) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(c.items, func(a Annotation) bool { return a.ID == id })
}

func cloneAnnotations(items []Annotation) []Annotation {
	out := make([]Annotation, len(items))
	for i, item := range items {
		out[i] = item.clone()
	}
	return out
}
