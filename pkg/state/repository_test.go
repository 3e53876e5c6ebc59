package state_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	annotate "github.com/goliatone/go-annotate"
	"github.com/goliatone/go-annotate/pkg/state"
)

type recordingStore struct {
	raw     string
	meta    state.Meta
	ok      bool
	loadErr error

	saveCalls int
	savedRaw  string
	savedMeta state.Meta
	savedWant state.Precondition
	saveErr   error
}

func (s *recordingStore) Load(_ context.Context, _ state.Ref) (string, state.Meta, bool, error) {
	if s.loadErr != nil {
		return "", state.Meta{}, false, s.loadErr
	}
	return s.raw, s.meta, s.ok, nil
}

func (s *recordingStore) Save(_ context.Context, _ state.Ref, raw string, meta state.Meta, want state.Precondition) (state.Meta, error) {
	s.saveCalls++
	s.savedRaw = raw
	s.savedMeta = meta
	s.savedWant = want
	if s.saveErr != nil {
		return state.Meta{}, s.saveErr
	}
	return meta, nil
}

func (s *recordingStore) Delete(context.Context, state.Ref) error { return nil }

var fixedNow = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }

func savedAnnotation(id string, line int, comment string) annotate.Annotation {
	ts := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	return annotate.Annotation{
		ID:        id,
		User:      "ana",
		Comment:   comment,
		Range:     annotate.NewRange(annotate.Position{Line: line, Column: 0}, annotate.Position{Line: line, Column: 3}),
		Timestamp: &ts,
	}
}

func TestRepositoryOpenParsesStoredDocument(t *testing.T) {
	raw, err := annotate.Serialize("# Title\nbody", []annotate.Annotation{savedAnnotation("a1", 1, "hello")})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	store := &recordingStore{raw: raw, ok: true, meta: state.Meta{ETag: state.ETag(raw)}}
	repo := state.Repository{Store: store}

	doc, meta, err := repo.Open(context.Background(), state.Ref{Document: "notes.md"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if doc.Content != "# Title\nbody" {
		t.Fatalf("unexpected content %q", doc.Content)
	}
	if len(doc.Annotations) != 1 || doc.Annotations[0].Comment != "hello" {
		t.Fatalf("unexpected annotations %+v", doc.Annotations)
	}
	if meta.ETag != state.ETag(raw) {
		t.Fatalf("expected stored etag, got %q", meta.ETag)
	}
}

func TestRepositoryOpenMissingDocument(t *testing.T) {
	repo := state.Repository{Store: &recordingStore{}}
	_, _, err := repo.Open(context.Background(), state.Ref{Document: "missing.md"})
	if !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepositoryOpenMalformedBlock(t *testing.T) {
	raw := "text\n\n<!--- " + annotate.Namespace + "\n\n[{\"id\": \n\n--->"
	repo := state.Repository{Store: &recordingStore{raw: raw, ok: true}}
	_, _, err := repo.Open(context.Background(), state.Ref{Document: "broken.md"})
	if !errors.Is(err, annotate.ErrMalformedBlock) {
		t.Fatalf("expected ErrMalformedBlock, got %v", err)
	}
}

func TestRepositoryMutateSerializesAndStampsMeta(t *testing.T) {
	store := &recordingStore{raw: "# Title", ok: true, meta: state.Meta{SnapshotID: "snap-old", ETag: state.ETag("# Title")}}
	repo := state.Repository{Store: store, Now: fixedNow}

	doc, meta, err := repo.Mutate(context.Background(), state.Ref{Document: "notes.md"}, state.Meta{ETag: state.ETag("# Title")}, func(d *annotate.Document) error {
		d.Annotations = append(d.Annotations, savedAnnotation("a1", 1, "first"))
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if len(doc.Annotations) != 1 {
		t.Fatalf("expected mutated document returned, got %+v", doc)
	}
	if store.saveCalls != 1 {
		t.Fatalf("expected 1 save call, got %d", store.saveCalls)
	}
	if store.savedWant != state.Match(state.ETag("# Title")) {
		t.Fatalf("expected save conditioned on the loaded etag, got %+v", store.savedWant)
	}
	if !strings.HasPrefix(store.savedRaw, "# Title\n\n<!--- "+annotate.Namespace) {
		t.Fatalf("expected serialized block, got %q", store.savedRaw)
	}
	if meta.ETag != state.ETag(store.savedRaw) {
		t.Fatalf("expected etag of saved text, got %q", meta.ETag)
	}
	if meta.SnapshotID == "" || meta.SnapshotID == "snap-old" {
		t.Fatalf("expected fresh snapshot id, got %q", meta.SnapshotID)
	}
	if !meta.UpdatedAt.Equal(fixedNow()) {
		t.Fatalf("expected updated_at from clock, got %v", meta.UpdatedAt)
	}
}

func TestRepositoryMutateETagMismatch(t *testing.T) {
	store := &recordingStore{raw: "# Title", ok: true, meta: state.Meta{ETag: "v2"}}
	repo := state.Repository{Store: store}

	_, meta, err := repo.Mutate(context.Background(), state.Ref{Document: "notes.md"}, state.Meta{ETag: "v1"}, func(*annotate.Document) error {
		t.Fatalf("mutator must not run on etag mismatch")
		return nil
	})
	if !errors.Is(err, state.ErrETagMismatch) {
		t.Fatalf("expected ErrETagMismatch, got %v", err)
	}
	if meta.ETag != "v2" {
		t.Fatalf("expected loaded meta returned, got %+v", meta)
	}
	if store.saveCalls != 0 {
		t.Fatalf("expected no save calls, got %d", store.saveCalls)
	}
}

func TestRepositoryMutateErrorDoesNotSave(t *testing.T) {
	store := &recordingStore{}
	repo := state.Repository{Store: store}
	boom := errors.New("boom")

	_, _, err := repo.Mutate(context.Background(), state.Ref{Document: "new.md"}, state.Meta{}, func(d *annotate.Document) error {
		if d.Content != "" || len(d.Annotations) != 0 {
			t.Fatalf("expected empty document for missing ref, got %+v", d)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	if store.saveCalls != 0 {
		t.Fatalf("expected no save calls, got %d", store.saveCalls)
	}
}

func TestRepositoryPutValidatesBeforeSaving(t *testing.T) {
	store := state.NewMemoryStore()
	repo := state.Repository{Store: store, Now: fixedNow}
	ref := state.Ref{Document: "notes.md"}

	bad := "x\n\n<!--- " + annotate.Namespace + "\n\nnot json\n\n--->"
	if _, err := repo.Put(context.Background(), ref, bad, state.Meta{}); !errors.Is(err, annotate.ErrMalformedBlock) {
		t.Fatalf("expected malformed block error, got %v", err)
	}

	meta, err := repo.Put(context.Background(), ref, "# Fresh", state.Meta{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := repo.Put(context.Background(), ref, "# Stale", state.Meta{ETag: "stale"}); !errors.Is(err, state.ErrETagMismatch) {
		t.Fatalf("expected ErrETagMismatch, got %v", err)
	}
	if _, err := repo.Put(context.Background(), ref, "# Next", state.Meta{ETag: meta.ETag}); err != nil {
		t.Fatalf("put with current etag: %v", err)
	}

	raw, _, err := repo.Raw(context.Background(), ref)
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	if raw != "# Next" {
		t.Fatalf("expected latest text, got %q", raw)
	}

	if err := repo.Delete(context.Background(), ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := repo.Raw(context.Background(), ref); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

// lockstepStore holds every Load until all expected loads arrived, so the
// callers work from the same version.
type lockstepStore struct {
	*state.MemoryStore
	loads sync.WaitGroup
}

func (s *lockstepStore) Load(ctx context.Context, ref state.Ref) (string, state.Meta, bool, error) {
	raw, meta, ok, err := s.MemoryStore.Load(ctx, ref)
	s.loads.Done()
	s.loads.Wait()
	return raw, meta, ok, err
}

func TestRepositoryConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	ref := state.Ref{Document: "notes.md"}
	memory := state.NewMemoryStore()
	base, err := state.Repository{Store: memory}.Put(ctx, ref, "# Base", state.Meta{})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	writes := map[string]func(repo state.Repository, text string) error{
		"put": func(repo state.Repository, text string) error {
			_, err := repo.Put(ctx, ref, text, state.Meta{ETag: base.ETag})
			return err
		},
		"mutate": func(repo state.Repository, text string) error {
			_, _, err := repo.Mutate(ctx, ref, state.Meta{}, func(d *annotate.Document) error {
				d.Content = text
				return nil
			})
			return err
		},
	}
	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			if _, err := (state.Repository{Store: memory}).Put(ctx, ref, "# Base", state.Meta{}); err != nil {
				t.Fatalf("reset: %v", err)
			}
			store := &lockstepStore{MemoryStore: memory}
			store.loads.Add(2)
			repo := state.Repository{Store: store}

			texts := []string{"# From A", "# From B"}
			errs := make([]error, len(texts))
			var wg sync.WaitGroup
			for i, text := range texts {
				wg.Add(1)
				go func(i int, text string) {
					defer wg.Done()
					errs[i] = write(repo, text)
				}(i, text)
			}
			wg.Wait()

			winner := -1
			for i, err := range errs {
				switch {
				case err == nil:
					if winner != -1 {
						t.Fatalf("both writers succeeded")
					}
					winner = i
				case !errors.Is(err, state.ErrETagMismatch):
					t.Fatalf("expected ErrETagMismatch for the loser, got %v", err)
				}
			}
			if winner == -1 {
				t.Fatalf("expected one writer to succeed, got %v", errs)
			}
			raw, _, _, _ := memory.Load(ctx, ref)
			if raw != texts[winner] {
				t.Fatalf("expected %q stored, got %q", texts[winner], raw)
			}
		})
	}
}

func TestPreconditionCheck(t *testing.T) {
	cases := []struct {
		name    string
		want    state.Precondition
		current string
		exists  bool
		ok      bool
	}{
		{"any over existing", state.Unconditional, "e1", true, true},
		{"any over missing", state.Unconditional, "", false, true},
		{"create", state.Match(""), "", false, true},
		{"create over existing", state.Match(""), "e1", true, false},
		{"match", state.Match("e1"), "e1", true, true},
		{"stale", state.Match("e1"), "e2", true, false},
		{"deleted meanwhile", state.Match("e1"), "", false, false},
	}
	for _, tc := range cases {
		err := tc.want.Check(tc.current, tc.exists)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, state.ErrETagMismatch) {
			t.Fatalf("%s: expected ErrETagMismatch, got %v", tc.name, err)
		}
	}
}
