package activity

import (
	"strings"
	"time"
)

// Verbs emitted for the annotation lifecycle.
const (
	VerbAnnotationCreated   = "annotation.created"
	VerbAnnotationSaved     = "annotation.saved"
	VerbAnnotationDeleted   = "annotation.deleted"
	VerbAnnotationDiscarded = "annotation.discarded"
	VerbDocumentLoaded      = "document.loaded"
)

// Object types carried by lifecycle events.
const (
	ObjectAnnotation = "annotation"
	ObjectDocument   = "document"
)

// RangeContext mirrors an annotation range without importing the root
// package.
type RangeContext struct {
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// AnnotationEventInput describes the common fields for annotation lifecycle
// events.
type AnnotationEventInput struct {
	ActorID      string
	UserID       string
	TenantID     string
	AnnotationID string
	Author       string
	Document     string
	Channel      string
	Comment      string
	Range        *RangeContext
	Count        int
	Metadata     map[string]any
	OccurredAt   time.Time
}

// BuildAnnotationCreatedEvent constructs an event for a new, unsaved annotation.
func BuildAnnotationCreatedEvent(input AnnotationEventInput) Event {
	return buildAnnotationEvent(VerbAnnotationCreated, ObjectAnnotation, input)
}

// BuildAnnotationSavedEvent constructs an event for a saved comment.
func BuildAnnotationSavedEvent(input AnnotationEventInput) Event {
	return buildAnnotationEvent(VerbAnnotationSaved, ObjectAnnotation, input)
}

// BuildAnnotationDeletedEvent constructs an event for a removed annotation.
func BuildAnnotationDeletedEvent(input AnnotationEventInput) Event {
	return buildAnnotationEvent(VerbAnnotationDeleted, ObjectAnnotation, input)
}

// BuildAnnotationDiscardedEvent constructs an event for an unsaved annotation
// pruned by cancel, logout or a newer creation.
func BuildAnnotationDiscardedEvent(input AnnotationEventInput) Event {
	return buildAnnotationEvent(VerbAnnotationDiscarded, ObjectAnnotation, input)
}

// BuildDocumentLoadedEvent constructs an event for a document load. Count is
// reported as the number of annotations found.
func BuildDocumentLoadedEvent(input AnnotationEventInput) Event {
	input.AnnotationID = ""
	event := buildAnnotationEvent(VerbDocumentLoaded, ObjectDocument, input)
	event.Metadata = ensureMetadata(event.Metadata)
	event.Metadata["annotations"] = input.Count
	return event
}

func buildAnnotationEvent(verb, objectType string, input AnnotationEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if author := strings.TrimSpace(input.Author); author != "" {
		metadata = ensureMetadata(metadata)
		metadata["author"] = author
	}
	if input.Comment != "" {
		metadata = ensureMetadata(metadata)
		metadata["comment"] = input.Comment
	}
	if input.Range != nil {
		metadata = ensureMetadata(metadata)
		metadata["range"] = map[string]any{
			"start_line":   input.Range.StartLine,
			"start_column": input.Range.StartColumn,
			"end_line":     input.Range.EndLine,
			"end_column":   input.Range.EndColumn,
		}
	}

	document := strings.TrimSpace(input.Document)
	objectID := strings.TrimSpace(input.AnnotationID)
	if objectID == "" {
		objectID = document
	}
	if objectID == "" {
		objectID = objectType
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		UserID:     strings.TrimSpace(input.UserID),
		TenantID:   strings.TrimSpace(input.TenantID),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Document:   document,
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
