package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is one annotation lifecycle occurrence: a user created, saved,
// deleted or discarded an annotation, or loaded a document. Actor and user
// ids are session user names; sinks map them to their own id space.
type Event struct {
	Verb       string
	ActorID    string
	UserID     string
	TenantID   string
	ObjectType string
	ObjectID   string
	Channel    string
	// Document is the href of the annotated document the event belongs to.
	Document   string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivityHook receives normalized activity events.
type ActivityHook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc allows plain functions to satisfy ActivityHook.
type HookFunc func(ctx context.Context, event Event) error

// Notify dispatches to the underlying function.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks fans out events to zero or more hooks.
type Hooks []ActivityHook

// Enabled reports whether there are any hooks to notify.
func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Notify normalizes event and hands it to every hook. Incomplete events are
// dropped. Hook failures do not stop the fan-out; they are returned joined,
// each tagged with the verb and the hook position.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	event = NormalizeEvent(event)
	if len(h) == 0 || !event.Complete() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for i, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("activity: %s hook %d: %w", event.Verb, i, err))
		}
	}
	return errors.Join(errs...)
}

// Complete reports whether the event names a verb and an object.
func (e Event) Complete() bool {
	return e.Verb != "" && e.ObjectType != "" && e.ObjectID != ""
}

// NormalizeEvent trims the identifying fields, detaches the metadata and
// stamps a missing OccurredAt with the current time.
func NormalizeEvent(event Event) Event {
	for _, field := range []*string{
		&event.Verb, &event.ActorID, &event.UserID, &event.TenantID,
		&event.ObjectType, &event.ObjectID, &event.Channel, &event.Document,
	} {
		*field = strings.TrimSpace(*field)
	}
	event.Metadata = cloneMap(event.Metadata)
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	return event
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
