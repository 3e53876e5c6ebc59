package annotate

import (
	"strings"
	"time"

	"github.com/goliatone/go-annotate/pkg/activity"
)

// WithActivityHooks attaches activity hooks notified after each applied
// transition. Hooks are cloned and nil entries dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := cloneActivityHooks(hooks)
	return func(cfg *sessionConfig) {
		cfg.activityHooks = normalized
	}
}

// WithActivityChannel overrides activity.DefaultChannel for session events.
func WithActivityChannel(channel string) Option {
	return func(cfg *sessionConfig) {
		cfg.activityChannel = strings.TrimSpace(channel)
	}
}

// WithActivityTenant tags session events with the workspace of the document.
func WithActivityTenant(tenant string) Option {
	return func(cfg *sessionConfig) {
		cfg.activityTenant = strings.TrimSpace(tenant)
	}
}

// ActivityHooks returns a cloned slice of the hooks configured on the
// session. The returned slice can be safely mutated by the caller.
func (s *Session) ActivityHooks() activity.Hooks {
	if s == nil {
		return nil
	}
	return cloneActivityHooks(s.cfg.activityHooks)
}

func cloneActivityHooks(hooks activity.Hooks) activity.Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]activity.ActivityHook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	if len(normalized) == 0 {
		return nil
	}
	return activity.Hooks(normalized)
}

func rangeContext(r Range) *activity.RangeContext {
	return &activity.RangeContext{
		StartLine:   r.Start.Line,
		StartColumn: r.Start.Column,
		EndLine:     r.End.Line,
		EndColumn:   r.End.Column,
	}
}

// transitionEvents describes what an applied action changed.
func transitionEvents(prev, next State, action Action, at time.Time) []activity.Event {
	user := next.UI.User
	if user == "" {
		user = prev.UI.User
	}
	input := func(a Annotation) activity.AnnotationEventInput {
		return activity.AnnotationEventInput{
			ActorID:      user,
			UserID:       user,
			AnnotationID: a.ID,
			Author:       a.User,
			Document:     next.Model.Href,
			Comment:      a.Comment,
			Range:        rangeContext(a.Range),
			OccurredAt:   at,
		}
	}

	var events []activity.Event
	deleted := ""
	switch action.(type) {
	case LoadDocument:
		return []activity.Event{activity.BuildDocumentLoadedEvent(activity.AnnotationEventInput{
			ActorID:    user,
			UserID:     user,
			Document:   next.Model.Href,
			Count:      next.Model.Annotations.Len(),
			OccurredAt: at,
		})}
	case CreateAnnotation:
		if created, ok := next.Active(); ok {
			events = append(events, activity.BuildAnnotationCreatedEvent(input(created)))
		}
	case SaveAnnotation:
		if saved, ok := next.Model.Annotations.FindByID(prev.UI.ActiveAnnotationID); ok {
			events = append(events, activity.BuildAnnotationSavedEvent(input(saved)))
		}
	case DeleteAnnotation:
		if removed, ok := prev.Active(); ok {
			deleted = removed.ID
			events = append(events, activity.BuildAnnotationDeletedEvent(input(removed)))
		}
	}

	for _, dirty := range prev.Model.Annotations.Dirty() {
		if dirty.ID == deleted {
			continue
		}
		if _, still := next.Model.Annotations.FindByID(dirty.ID); !still {
			events = append(events, activity.BuildAnnotationDiscardedEvent(input(dirty)))
		}
	}
	return events
}
