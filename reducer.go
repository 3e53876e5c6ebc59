package annotate

import (
	"fmt"
)

// DefaultMime is recorded for documents loaded without a media type.
const DefaultMime = "text/markdown"

// Reduce applies action to s and returns the next state. It is pure: s is
// never modified and the result shares no mutable data with it.
//
// Ownership and existence checks that fail are silent no-ops: the input state
// is returned unchanged with a nil error, because such conditions are reachable
// through ordinary UI races. Structural mistakes (an annotation without an id,
// a save without a time, an unknown action) return an error together with the
// unchanged state.
func Reduce(s State, action Action) (State, error) {
	next, _, err := reduce(s, action)
	return next, err
}

// reduce also reports whether the transition applied.
func reduce(s State, action Action) (State, bool, error) {
	switch a := action.(type) {
	case Login:
		return reduceLogin(s, a.User)
	case Logout:
		return reduceLogout(s)
	case LoadDocument:
		return reduceLoad(s, a)
	case ChangeSelection:
		return reduceChangeSelection(s, a)
	case CancelSelection:
		return reduceCancelSelection(s)
	case CreateAnnotation:
		return reduceCreate(s, a.ID)
	case SelectAnnotation:
		return reduceSelect(s, a.ID)
	case BeginEdit:
		return reduceBeginEdit(s)
	case SaveAnnotation:
		return reduceSave(s, a)
	case CancelEdit:
		return reduceCancelEdit(s)
	case DeleteAnnotation:
		return reduceDelete(s)
	case nil:
		return s, false, fmt.Errorf("%w: nil", ErrUnknownAction)
	default:
		return s, false, fmt.Errorf("%w: %T", ErrUnknownAction, action)
	}
}

func reduceLogin(s State, user string) (State, bool, error) {
	if user == s.UI.User {
		return s, false, nil
	}
	if s.UI.User != "" {
		// switching users must not leave the previous user's draft editable
		next, _, _ := reduceLogout(s)
		s = next
	}
	s.UI.User = user
	return s, true, nil
}

func reduceLogout(s State) (State, bool, error) {
	if s.UI.User == "" && s.UI.ActiveAnnotationID == "" && !s.UI.IsEditing && len(s.Model.Annotations.Dirty()) == 0 {
		return s, false, nil
	}
	s.UI.User = ""
	s.UI.ActiveAnnotationID = ""
	s.UI.IsEditing = false
	s.Model.Annotations = s.Model.Annotations.PruneUnsaved()
	return s, true, nil
}

func reduceLoad(s State, a LoadDocument) (State, bool, error) {
	annotations, err := NewCollection(a.Annotations...)
	if err != nil {
		return s, false, err
	}
	mime := a.Mime
	if mime == "" {
		mime = DefaultMime
	}
	s.Model = Model{
		Content:     a.Content,
		Href:        a.Href,
		Mime:        mime,
		Annotations: annotations,
	}
	s.UI = UI{User: s.UI.User}
	return s, true, nil
}

func reduceChangeSelection(s State, a ChangeSelection) (State, bool, error) {
	if !a.Range.Start.Valid() || !a.Range.End.Valid() {
		return s, false, fmt.Errorf("%w: selection %s", ErrInvalidPosition, a.Range)
	}
	if s.UI.IsEditing {
		return s, false, nil
	}
	if a.Range.Collapsed() {
		return reduceCancelSelection(s)
	}
	selection := a.Range.Normalized()
	s.UI.Selection = &selection
	s.UI.CursorPosition = nil
	if a.Cursor != nil {
		cursor := *a.Cursor
		s.UI.CursorPosition = &cursor
	}
	return s, true, nil
}

func reduceCancelSelection(s State) (State, bool, error) {
	if s.UI.Selection == nil && s.UI.CursorPosition == nil {
		return s, false, nil
	}
	s.UI.Selection = nil
	s.UI.CursorPosition = nil
	return s, true, nil
}

func reduceCreate(s State, id string) (State, bool, error) {
	if id == "" {
		return s, false, ErrMissingID
	}
	if s.UI.Selection == nil || s.UI.User == "" {
		return s, false, nil
	}
	annotations := s.Model.Annotations.PruneUnsaved()
	if _, exists := annotations.FindByID(id); exists {
		return s, false, fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}

	created := Annotation{
		ID:    id,
		User:  s.UI.User,
		Range: *s.UI.Selection,
		Dirty: true,
	}
	annotations, err := annotations.Upsert(created, nil)
	if err != nil {
		return s, false, err
	}
	s.Model.Annotations = annotations
	s.UI.Selection = nil
	s.UI.CursorPosition = nil
	s.UI.ActiveAnnotationID = id
	s.UI.IsEditing = created.OwnedBy(s.UI.User)
	return s, true, nil
}

func reduceSelect(s State, id string) (State, bool, error) {
	if _, ok := s.Model.Annotations.FindByID(id); !ok {
		return s, false, nil
	}
	s.UI.ActiveAnnotationID = id
	s.UI.IsEditing = false
	s.UI.Selection = nil
	s.UI.CursorPosition = nil
	return s, true, nil
}

func reduceBeginEdit(s State) (State, bool, error) {
	if s.UI.IsEditing || !s.Model.Annotations.IsMine(s.UI.ActiveAnnotationID, s.UI.User) {
		return s, false, nil
	}
	s.UI.IsEditing = true
	s.UI.Selection = nil
	s.UI.CursorPosition = nil
	return s, true, nil
}

func reduceSave(s State, a SaveAnnotation) (State, bool, error) {
	if a.At.IsZero() {
		return s, false, ErrMissingTimestamp
	}
	id := a.ID
	if id == "" {
		id = s.UI.ActiveAnnotationID
	}
	if id == "" || id != s.UI.ActiveAnnotationID {
		return s, false, nil
	}
	current, ok := s.Model.Annotations.FindByID(id)
	if !ok || !current.OwnedBy(s.UI.User) {
		return s, false, nil
	}

	current.Comment = a.Comment
	at := a.At
	annotations, err := s.Model.Annotations.Upsert(current, &at)
	if err != nil {
		return s, false, err
	}
	s.Model.Annotations = annotations
	s.UI.IsEditing = false
	return s, true, nil
}

func reduceCancelEdit(s State) (State, bool, error) {
	if s.UI.ActiveAnnotationID == "" || !s.UI.IsEditing {
		return s, false, nil
	}
	s.Model.Annotations = s.Model.Annotations.PruneUnsaved()
	s.UI.IsEditing = false
	if _, ok := s.Model.Annotations.FindByID(s.UI.ActiveAnnotationID); !ok {
		s.UI.ActiveAnnotationID = ""
	}
	return s, true, nil
}

func reduceDelete(s State) (State, bool, error) {
	id := s.UI.ActiveAnnotationID
	if id == "" {
		return s, false, nil
	}
	s.Model.Annotations = s.Model.Annotations.Remove(id)
	s.UI.ActiveAnnotationID = ""
	s.UI.IsEditing = false
	return s, true, nil
}
