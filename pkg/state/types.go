package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	annotate "github.com/goliatone/go-annotate"
	"github.com/google/uuid"
)

var ErrETagMismatch = errors.New("state: etag mismatch")

var ErrNotFound = errors.New("state: document not found")

var ErrInvalidRef = errors.New("state: invalid document ref")

// Ref identifies one persisted annotated document.
type Ref struct {
	Workspace string
	Document  string
}

// Meta is storage-owned metadata used for audit and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Store loads/saves the raw text of one document. Save must evaluate want
// against the stored version and write in one atomic step.
type Store interface {
	Load(ctx context.Context, ref Ref) (raw string, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, raw string, meta Meta, want Precondition) (Meta, error)
	Delete(ctx context.Context, ref Ref) error
}

// Precondition names the version a write replaces.
type Precondition struct {
	// ETag is the stored version the write is based on. Empty means the
	// document must not exist yet.
	ETag string
	// Any writes regardless of the stored version.
	Any bool
}

// Unconditional is the Precondition of a blind write.
var Unconditional = Precondition{Any: true}

// Match returns the Precondition of a write based on etag.
func Match(etag string) Precondition {
	return Precondition{ETag: etag}
}

// Check reports ErrETagMismatch unless the stored version satisfies p.
// current is ignored when exists is false.
func (p Precondition) Check(current string, exists bool) error {
	switch {
	case p.Any:
		return nil
	case !exists && p.ETag == "":
		return nil
	case !exists:
		return fmt.Errorf("%w: expected %q, document is gone", ErrETagMismatch, p.ETag)
	case p.ETag == "":
		return fmt.Errorf("%w: document already exists with %q", ErrETagMismatch, current)
	case p.ETag != current:
		return fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, p.ETag, current)
	}
	return nil
}

// Mutator edits a parsed document in place.
type Mutator func(*annotate.Document) error

// Identifier returns the canonical storage key for r. Document names are
// cleaned slash paths and may not escape their workspace.
func (r Ref) Identifier() (string, error) {
	doc := strings.TrimSpace(r.Document)
	if doc == "" {
		return "", fmt.Errorf("%w: document is required", ErrInvalidRef)
	}
	cleaned := path.Clean("/" + doc)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(doc, "/") {
		return "", fmt.Errorf("%w: %q is not a clean path", ErrInvalidRef, r.Document)
	}
	workspace := strings.TrimSpace(r.Workspace)
	if strings.Contains(workspace, "/") {
		return "", fmt.Errorf("%w: workspace %q contains a slash", ErrInvalidRef, r.Workspace)
	}
	if workspace == "" {
		return cleaned, nil
	}
	return workspace + "/" + cleaned, nil
}

// ETag returns the content hash used for optimistic concurrency.
func ETag(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Repository parses and serializes documents held by a Store.
type Repository struct {
	Store Store
	// Now stamps Meta.UpdatedAt. Defaults to time.Now.
	Now func() time.Time
}

// Open loads and parses the document at ref. Missing documents report
// ErrNotFound.
func (r Repository) Open(ctx context.Context, ref Ref) (annotate.Document, Meta, error) {
	raw, meta, err := r.Raw(ctx, ref)
	if err != nil {
		return annotate.Document{}, Meta{}, err
	}
	doc, err := annotate.ParseSource(ref.Document, raw)
	if err != nil {
		return annotate.Document{}, meta, fmt.Errorf("state: parse %q: %w", ref.Document, err)
	}
	return doc, meta, nil
}

// Raw returns the stored text at ref without parsing it.
func (r Repository) Raw(ctx context.Context, ref Ref) (string, Meta, error) {
	if r.Store == nil {
		return "", Meta{}, fmt.Errorf("state: store is required")
	}
	raw, meta, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return "", Meta{}, fmt.Errorf("state: load %q: %w", ref.Document, err)
	}
	if !ok {
		return "", Meta{}, fmt.Errorf("%w: %q", ErrNotFound, ref.Document)
	}
	return raw, meta, nil
}

// Put validates raw as an annotated document and stores it. A non-empty
// meta.ETag must match the stored version at the moment of the write; an empty
// one overwrites whatever is stored.
func (r Repository) Put(ctx context.Context, ref Ref, raw string, meta Meta) (Meta, error) {
	if r.Store == nil {
		return Meta{}, fmt.Errorf("state: store is required")
	}
	if _, err := annotate.ParseSource(ref.Document, raw); err != nil {
		return Meta{}, fmt.Errorf("state: parse %q: %w", ref.Document, err)
	}
	_, loadedMeta, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return Meta{}, fmt.Errorf("state: load %q: %w", ref.Document, err)
	}
	want := Unconditional
	if meta.ETag != "" {
		want = Match(meta.ETag)
		if err := want.Check(loadedMeta.ETag, ok); err != nil {
			return loadedMeta, err
		}
	}
	return r.save(ctx, ref, raw, mergeMeta(loadedMeta, meta), want)
}

// Mutate loads one document, applies fn, serializes it and saves the result.
// A missing document starts out empty. The save only succeeds if nobody wrote
// the document since it was loaded.
func (r Repository) Mutate(ctx context.Context, ref Ref, meta Meta, fn Mutator) (annotate.Document, Meta, error) {
	if r.Store == nil {
		return annotate.Document{}, Meta{}, fmt.Errorf("state: store is required")
	}
	if fn == nil {
		return annotate.Document{}, Meta{}, fmt.Errorf("state: mutator is required")
	}

	raw, loadedMeta, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return annotate.Document{}, Meta{}, fmt.Errorf("state: load %q: %w", ref.Document, err)
	}
	if !ok {
		raw = ""
		loadedMeta = Meta{}
	}
	if meta.ETag != "" {
		if err := Match(meta.ETag).Check(loadedMeta.ETag, ok); err != nil {
			return annotate.Document{}, loadedMeta, err
		}
	}

	doc, err := annotate.ParseSource(ref.Document, raw)
	if err != nil {
		return annotate.Document{}, loadedMeta, fmt.Errorf("state: parse %q: %w", ref.Document, err)
	}
	if err := fn(&doc); err != nil {
		return annotate.Document{}, loadedMeta, err
	}

	next, err := doc.Serialize()
	if err != nil {
		return annotate.Document{}, loadedMeta, fmt.Errorf("state: serialize %q: %w", ref.Document, err)
	}
	savedMeta, err := r.save(ctx, ref, next, mergeMeta(loadedMeta, meta), Match(loadedMeta.ETag))
	if err != nil {
		return annotate.Document{}, loadedMeta, err
	}
	return doc, savedMeta, nil
}

// Delete removes the document at ref.
func (r Repository) Delete(ctx context.Context, ref Ref) error {
	if r.Store == nil {
		return fmt.Errorf("state: store is required")
	}
	if err := r.Store.Delete(ctx, ref); err != nil {
		return fmt.Errorf("state: delete %q: %w", ref.Document, err)
	}
	return nil
}

func (r Repository) save(ctx context.Context, ref Ref, raw string, meta Meta, want Precondition) (Meta, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	meta.SnapshotID = uuid.NewString()
	meta.ETag = ETag(raw)
	meta.UpdatedAt = now().UTC()
	saved, err := r.Store.Save(ctx, ref, raw, meta, want)
	if err != nil {
		return Meta{}, fmt.Errorf("state: save %q: %w", ref.Document, err)
	}
	return saved, nil
}

func mergeMeta(base, override Meta) Meta {
	out := base
	if override.Extra != nil {
		out.Extra = override.Extra
	}
	return out
}
