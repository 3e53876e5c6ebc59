package annotate

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is a user intent handed to Reduce. The set is closed.
type Action interface {
	Type() string
	isAction()
}

// Action type names, also used as the "type" field of encoded actions.
const (
	TypeLogin            = "login"
	TypeLogout           = "logout"
	TypeLoadDocument     = "load_document"
	TypeChangeSelection  = "change_selection"
	TypeCancelSelection  = "cancel_selection"
	TypeCreateAnnotation = "create_annotation"
	TypeSelectAnnotation = "select_annotation"
	TypeBeginEdit        = "begin_edit"
	TypeSaveAnnotation   = "save_annotation"
	TypeCancelEdit       = "cancel_edit"
	TypeDeleteAnnotation = "delete_annotation"
)

// Login sets the session user.
type Login struct {
	User string `json:"user"`
}

// Logout clears the session user and discards unsaved work.
type Logout struct{}

// LoadDocument replaces the model with a parsed document.
type LoadDocument struct {
	Href        string       `json:"href,omitempty"`
	Mime        string       `json:"mime,omitempty"`
	Content     string       `json:"content"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// ChangeSelection records a finalized text selection.
type ChangeSelection struct {
	Range  Range        `json:"range"`
	Cursor *ScreenPoint `json:"cursor,omitempty"`
}

// CancelSelection drops the pending selection.
type CancelSelection struct{}

// CreateAnnotation turns the pending selection into a new annotation. An
// empty ID is filled by Session.
type CreateAnnotation struct {
	ID string `json:"id,omitempty"`
}

// SelectAnnotation makes an annotation active for viewing.
type SelectAnnotation struct {
	ID string `json:"id"`
}

// BeginEdit opens the active annotation for editing.
type BeginEdit struct{}

// SaveAnnotation stores a comment on the active annotation. An empty ID means
// the active annotation; a zero At is filled by Session.
type SaveAnnotation struct {
	ID      string    `json:"id,omitempty"`
	Comment string    `json:"comment"`
	At      time.Time `json:"at,omitempty"`
}

// CancelEdit leaves edit mode and discards unsaved annotations.
type CancelEdit struct{}

// DeleteAnnotation removes the active annotation.
type DeleteAnnotation struct{}

func (Login) Type() string            { return TypeLogin }
func (Logout) Type() string           { return TypeLogout }
func (LoadDocument) Type() string     { return TypeLoadDocument }
func (ChangeSelection) Type() string  { return TypeChangeSelection }
func (CancelSelection) Type() string  { return TypeCancelSelection }
func (CreateAnnotation) Type() string { return TypeCreateAnnotation }
func (SelectAnnotation) Type() string { return TypeSelectAnnotation }
func (BeginEdit) Type() string        { return TypeBeginEdit }
func (SaveAnnotation) Type() string   { return TypeSaveAnnotation }
func (CancelEdit) Type() string       { return TypeCancelEdit }
func (DeleteAnnotation) Type() string { return TypeDeleteAnnotation }

func (Login) isAction()            {}
func (Logout) isAction()           {}
func (LoadDocument) isAction()     {}
func (ChangeSelection) isAction()  {}
func (CancelSelection) isAction()  {}
func (CreateAnnotation) isAction() {}
func (SelectAnnotation) isAction() {}
func (BeginEdit) isAction()        {}
func (SaveAnnotation) isAction()   {}
func (CancelEdit) isAction()       {}
func (DeleteAnnotation) isAction() {}

// DecodeAction decodes a JSON object of the form {"type": "...", ...fields}.
func DecodeAction(data []byte) (Action, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("annotate: decode action: %w", err)
	}

	var action Action
	switch envelope.Type {
	case TypeLogin:
		action = &Login{}
	case TypeLogout:
		return Logout{}, nil
	case TypeLoadDocument:
		action = &LoadDocument{}
	case TypeChangeSelection:
		action = &ChangeSelection{}
	case TypeCancelSelection:
		return CancelSelection{}, nil
	case TypeCreateAnnotation:
		action = &CreateAnnotation{}
	case TypeSelectAnnotation:
		action = &SelectAnnotation{}
	case TypeBeginEdit:
		return BeginEdit{}, nil
	case TypeSaveAnnotation:
		action = &SaveAnnotation{}
	case TypeCancelEdit:
		return CancelEdit{}, nil
	case TypeDeleteAnnotation:
		return DeleteAnnotation{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, envelope.Type)
	}

	if err := json.Unmarshal(data, action); err != nil {
		return nil, fmt.Errorf("annotate: decode %s: %w", envelope.Type, err)
	}
	return deref(action), nil
}

func deref(action Action) Action {
	switch a := action.(type) {
	case *Login:
		return *a
	case *LoadDocument:
		return *a
	case *ChangeSelection:
		return *a
	case *CreateAnnotation:
		return *a
	case *SelectAnnotation:
		return *a
	case *SaveAnnotation:
		return *a
	default:
		return action
	}
}
