package annotate

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func mustReduce(t *testing.T, s State, actions ...Action) State {
	t.Helper()
	for _, action := range actions {
		next, err := Reduce(s, action)
		if err != nil {
			t.Fatalf("Reduce(%s) returned error: %v", actionName(action), err)
		}
		s = next
	}
	return s
}

func loadedState(t *testing.T, user string) State {
	t.Helper()
	s := mustReduce(t, State{}, LoadDocument{
		Href:        "notes.md",
		Content:     "# Notes\n\nFirst line.\nSecond line.",
		Annotations: sessionAnnotations(),
	})
	if user != "" {
		s = mustReduce(t, s, Login{User: user})
	}
	return s
}

// sessionAnnotations are both saved, so pruning never removes them.
func sessionAnnotations() []Annotation {
	first := savedAt("a1", "ann", span(3, 0, 3, 5), baseTime)
	first.Comment = "Check <this> & that"
	return []Annotation{first, savedAt("b2", "bob", span(3, 6, 3, 10), baseTime)}
}

func selection(r Range) ChangeSelection {
	return ChangeSelection{Range: r, Cursor: &ScreenPoint{X: 10, Y: 20}}
}

func TestLoadDocumentResetsUI(t *testing.T) {
	s := State{UI: UI{User: "ann", ActiveAnnotationID: "gone", IsEditing: true}}
	s = mustReduce(t, s, LoadDocument{Content: "body", Annotations: sessionAnnotations()})

	if s.UI != (UI{User: "ann"}) {
		t.Fatalf("expected UI reset with user kept, got %+v", s.UI)
	}
	if s.Model.Mime != DefaultMime || s.Model.Annotations.Len() != 2 {
		t.Fatalf("unexpected model %+v", s.Model)
	}

	dup := append(sessionAnnotations(), sessionAnnotations()[0])
	if _, err := Reduce(s, LoadDocument{Content: "x", Annotations: dup}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestChangeSelectionNormalizes(t *testing.T) {
	s := loadedState(t, "ann")
	s = mustReduce(t, s, selection(span(4, 2, 3, 1)))

	if s.Phase() != PhaseSelecting {
		t.Fatalf("expected selecting phase, got %s", s.Phase())
	}
	if *s.UI.Selection != span(3, 1, 4, 2) {
		t.Fatalf("expected normalized selection, got %s", s.UI.Selection)
	}
	if s.UI.CursorPosition == nil || *s.UI.CursorPosition != (ScreenPoint{X: 10, Y: 20}) {
		t.Fatalf("cursor not recorded: %+v", s.UI.CursorPosition)
	}

	s = mustReduce(t, s, ChangeSelection{Range: span(3, 3, 3, 3)})
	if s.UI.Selection != nil || s.UI.CursorPosition != nil {
		t.Fatalf("collapsed selection should clear the pending selection")
	}

	if _, err := Reduce(s, ChangeSelection{Range: span(0, 0, 1, 0)}); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
}

func TestCreateAnnotationOpensEditor(t *testing.T) {
	s := loadedState(t, "ann")
	s = mustReduce(t, s, selection(span(4, 0, 4, 6)), CreateAnnotation{ID: "new"})

	if s.Phase() != PhaseEditing || s.UI.ActiveAnnotationID != "new" {
		t.Fatalf("expected editing new annotation, got %s %q", s.Phase(), s.UI.ActiveAnnotationID)
	}
	if s.UI.Selection != nil || s.UI.CursorPosition != nil {
		t.Fatalf("selection should be consumed")
	}
	created, ok := s.Active()
	if !ok || !created.Dirty || created.Saved() || created.User != "ann" || created.Range != span(4, 0, 4, 6) {
		t.Fatalf("unexpected created annotation %+v", created)
	}
}

func TestCreateAnnotationRequiresSelectionAndUser(t *testing.T) {
	anonymous := mustReduce(t, loadedState(t, ""), selection(span(4, 0, 4, 6)))
	if next := mustReduce(t, anonymous, CreateAnnotation{ID: "x"}); next.Model.Annotations.Len() != 2 {
		t.Fatalf("anonymous create should be ignored")
	}

	noSelection := loadedState(t, "ann")
	if next := mustReduce(t, noSelection, CreateAnnotation{ID: "x"}); next.Model.Annotations.Len() != 2 {
		t.Fatalf("create without selection should be ignored")
	}

	selecting := mustReduce(t, noSelection, selection(span(4, 0, 4, 6)))
	if _, err := Reduce(selecting, CreateAnnotation{}); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
	if _, err := Reduce(selecting, CreateAnnotation{ID: "a1"}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestAtMostOneDirtyAnnotation(t *testing.T) {
	s := loadedState(t, "ann")
	s = mustReduce(t, s, selection(span(4, 0, 4, 3)), CreateAnnotation{ID: "first"})
	// editing blocks new selections, so leave the editor the way a UI would
	s = mustReduce(t, s, SelectAnnotation{ID: "a1"})
	s = mustReduce(t, s, selection(span(4, 4, 4, 6)), CreateAnnotation{ID: "second"})

	dirty := s.Model.Annotations.Dirty()
	if len(dirty) != 1 || dirty[0].ID != "second" {
		t.Fatalf("expected only the newest draft, got %v", ids(dirty))
	}
}

func TestSaveAnnotation(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s := loadedState(t, "ann")
	s = mustReduce(t, s, selection(span(4, 0, 4, 6)), CreateAnnotation{ID: "new"})
	s = mustReduce(t, s, SaveAnnotation{Comment: "looks good", At: at})

	saved, ok := s.Model.Annotations.FindByID("new")
	if !ok || saved.Dirty || saved.Comment != "looks good" || !saved.Timestamp.Equal(at) {
		t.Fatalf("unexpected saved annotation %+v", saved)
	}
	if s.Phase() != PhaseViewing {
		t.Fatalf("expected viewing after save, got %s", s.Phase())
	}
	if len(s.Document().Annotations) != 3 {
		t.Fatalf("saved annotation should be persistable")
	}
}

func TestSaveAnnotationGuards(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s := loadedState(t, "ann")
	s = mustReduce(t, s, SelectAnnotation{ID: "b2"})

	if _, err := Reduce(s, SaveAnnotation{Comment: "x"}); !errors.Is(err, ErrMissingTimestamp) {
		t.Fatalf("expected ErrMissingTimestamp, got %v", err)
	}

	next := mustReduce(t, s, SaveAnnotation{Comment: "not mine", At: at})
	if got, _ := next.Model.Annotations.FindByID("b2"); got.Comment != "" {
		t.Fatalf("saving another user's annotation should be ignored")
	}

	next = mustReduce(t, s, SaveAnnotation{ID: "a1", Comment: "not active", At: at})
	if got, _ := next.Model.Annotations.FindByID("a1"); got.Comment != "Check <this> & that" {
		t.Fatalf("saving an inactive annotation should be ignored")
	}
}

func TestBeginEditRequiresOwnership(t *testing.T) {
	s := loadedState(t, "ann")

	viewingOther := mustReduce(t, s, SelectAnnotation{ID: "b2"}, BeginEdit{})
	if viewingOther.UI.IsEditing {
		t.Fatalf("should not edit another user's annotation")
	}

	editing := mustReduce(t, s, SelectAnnotation{ID: "a1"}, BeginEdit{})
	if editing.Phase() != PhaseEditing {
		t.Fatalf("expected editing phase, got %s", editing.Phase())
	}
	if mustReduce(t, editing, selection(span(1, 0, 1, 2))).UI.Selection != nil {
		t.Fatalf("selection changes are ignored while editing")
	}
}

func TestCancelEditDiscardsDraft(t *testing.T) {
	s := loadedState(t, "ann")
	s = mustReduce(t, s, selection(span(4, 0, 4, 6)), CreateAnnotation{ID: "new"}, CancelEdit{})

	if _, ok := s.Model.Annotations.FindByID("new"); ok {
		t.Fatalf("draft should be discarded")
	}
	if s.Phase() != PhaseIdle {
		t.Fatalf("expected idle after cancelling a draft, got %s", s.Phase())
	}

	s = mustReduce(t, s, SelectAnnotation{ID: "a1"}, BeginEdit{}, CancelEdit{})
	if s.Phase() != PhaseViewing || s.UI.ActiveAnnotationID != "a1" {
		t.Fatalf("cancelling an edit of a saved annotation keeps it active, got %s", s.Phase())
	}
}

func TestDeleteAnnotation(t *testing.T) {
	s := loadedState(t, "ann")
	s = mustReduce(t, s, SelectAnnotation{ID: "b2"}, DeleteAnnotation{})

	if _, ok := s.Model.Annotations.FindByID("b2"); ok {
		t.Fatalf("annotation should be deleted")
	}
	if s.Phase() != PhaseIdle {
		t.Fatalf("expected idle after delete, got %s", s.Phase())
	}

	unchanged := mustReduce(t, s, DeleteAnnotation{})
	if !reflect.DeepEqual(unchanged, s) {
		t.Fatalf("delete without an active annotation should be a no-op")
	}
}

func TestLogoutPrunesDrafts(t *testing.T) {
	s := loadedState(t, "ann")
	s = mustReduce(t, s, selection(span(4, 0, 4, 6)), CreateAnnotation{ID: "new"}, Logout{})

	if s.UI != (UI{}) {
		t.Fatalf("expected cleared UI, got %+v", s.UI)
	}
	if len(s.Model.Annotations.Dirty()) != 0 || s.Model.Annotations.Len() != 2 {
		t.Fatalf("drafts should be discarded on logout")
	}
}

func TestLoginSwitchDiscardsPreviousDraft(t *testing.T) {
	s := loadedState(t, "ann")
	s = mustReduce(t, s, selection(span(4, 0, 4, 6)), CreateAnnotation{ID: "new"}, Login{User: "bob"})

	if s.UI.User != "bob" || s.UI.IsEditing || s.UI.ActiveAnnotationID != "" {
		t.Fatalf("unexpected UI after switching user %+v", s.UI)
	}
	if _, ok := s.Model.Annotations.FindByID("new"); ok {
		t.Fatalf("previous user's draft should be discarded")
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	s := mustReduce(t, loadedState(t, "ann"), selection(span(4, 0, 4, 6)))
	before := s.Model.Annotations.All()
	selectionBefore := *s.UI.Selection

	next := mustReduce(t, s, CreateAnnotation{ID: "new"}, SaveAnnotation{Comment: "x", At: baseTime})
	if next.Model.Annotations.Len() != 3 {
		t.Fatalf("expected new annotation in next state")
	}
	if !reflect.DeepEqual(before, s.Model.Annotations.All()) || *s.UI.Selection != selectionBefore {
		t.Fatalf("input state was modified")
	}
}

func TestReduceRejectsUnknownActions(t *testing.T) {
	if _, err := Reduce(State{}, nil); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction for nil, got %v", err)
	}
	if _, err := Reduce(State{}, &Login{User: "ann"}); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction for pointer action, got %v", err)
	}
}

func TestDecodeAction(t *testing.T) {
	cases := map[string]Action{
		`{"type":"login","user":"ann"}`:                       Login{User: "ann"},
		`{"type":"logout"}`:                                   Logout{},
		`{"type":"select_annotation","id":"a1"}`:              SelectAnnotation{ID: "a1"},
		`{"type":"create_annotation"}`:                        CreateAnnotation{},
		`{"type":"save_annotation","comment":"ok","id":"a1"}`: SaveAnnotation{ID: "a1", Comment: "ok"},
		`{"type":"delete_annotation"}`:                        DeleteAnnotation{},
		`{"type":"cancel_edit"}`:                              CancelEdit{},
		`{"type":"begin_edit"}`:                               BeginEdit{},
		`{"type":"cancel_selection"}`:                         CancelSelection{},
	}
	for payload, want := range cases {
		got, err := DecodeAction([]byte(payload))
		if err != nil {
			t.Fatalf("DecodeAction(%s) returned error: %v", payload, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("DecodeAction(%s): want %#v, got %#v", payload, want, got)
		}
	}

	got, err := DecodeAction([]byte(`{"type":"change_selection","range":{"start":{"line":2,"column":4},"end":{"line":1,"column":0}}}`))
	if err != nil {
		t.Fatalf("DecodeAction returned error: %v", err)
	}
	change, ok := got.(ChangeSelection)
	if !ok || change.Range != span(2, 4, 1, 0) {
		t.Fatalf("unexpected change selection %#v", got)
	}

	if _, err := DecodeAction([]byte(`{"type":"explode"}`)); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if _, err := DecodeAction([]byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
