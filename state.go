package annotate

// ScreenPoint is where a rendering layer anchors UI for a pending selection.
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UI is the interaction half of State.
type UI struct {
	User               string       `json:"user,omitempty"`
	ActiveAnnotationID string       `json:"activeAnnotationId,omitempty"`
	IsEditing          bool         `json:"isEditing"`
	Selection          *Range       `json:"selection,omitempty"`
	CursorPosition     *ScreenPoint `json:"cursorPosition,omitempty"`
}

// Model is the document half of State.
type Model struct {
	Content     string     `json:"content"`
	Href        string     `json:"href,omitempty"`
	Mime        string     `json:"mime,omitempty"`
	Annotations Collection `json:"annotations"`
}

// State is a read-only snapshot of one annotation session. Reduce never
// modifies a State it is given.
type State struct {
	UI    UI    `json:"ui"`
	Model Model `json:"model"`
}

// Phase names the interaction state derived from UI.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSelecting Phase = "selecting"
	PhaseViewing   Phase = "viewing"
	PhaseEditing   Phase = "editing"
)

// Phase derives the interaction state.
func (s State) Phase() Phase {
	switch {
	case s.UI.IsEditing && s.UI.ActiveAnnotationID != "":
		return PhaseEditing
	case s.UI.Selection != nil:
		return PhaseSelecting
	case s.UI.ActiveAnnotationID != "":
		return PhaseViewing
	default:
		return PhaseIdle
	}
}

// Active returns the active annotation, if any.
func (s State) Active() (Annotation, bool) {
	if s.UI.ActiveAnnotationID == "" {
		return Annotation{}, false
	}
	return s.Model.Annotations.FindByID(s.UI.ActiveAnnotationID)
}

// Mine returns the annotations visible as the session user's own. With no
// user logged in this is every annotation.
func (s State) Mine() []Annotation {
	return s.Model.Annotations.FilterByUser(s.UI.User)
}

// Document returns the persistable document held by the state.
func (s State) Document() Document {
	return Document{
		Content:     s.Model.Content,
		Annotations: s.Model.Annotations.Persistable(),
	}
}
