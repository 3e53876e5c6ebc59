// Package usersink forwards annotation activity to a go-users ActivitySink.
package usersink

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-annotate/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook adapts annotation activity events to a go-users ActivitySink.
//
// Session user names and workspaces are not go-users ids. Resolve and
// ResolveTenant map them; when nil, values are parsed as UUIDs. A name that
// does not resolve is kept in the record data under "actor", "user" or
// "workspace".
type Hook struct {
	Sink          usertypes.ActivitySink
	Resolve       func(user string) uuid.UUID
	ResolveTenant func(workspace string) uuid.UUID
}

var _ activity.ActivityHook = Hook{}

// Notify maps a complete event into an ActivityRecord and logs it.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}
	event = activity.NormalizeEvent(event)
	if !event.Complete() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return h.Sink.Log(ctx, h.record(event))
}

func (h Hook) record(event activity.Event) usertypes.ActivityRecord {
	data := recordData{values: event.Metadata}
	if event.Document != "" {
		data.set("document", event.Document)
	}

	record := usertypes.ActivityRecord{
		ActorID:    data.resolve("actor", event.ActorID, h.Resolve),
		UserID:     data.resolve("user", event.UserID, h.Resolve),
		TenantID:   data.resolve("workspace", event.TenantID, h.ResolveTenant),
		Verb:       event.Verb,
		ObjectType: event.ObjectType,
		ObjectID:   event.ObjectID,
		Channel:    event.Channel,
		OccurredAt: event.OccurredAt,
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}
	record.Data = data.values
	return record
}

// recordData builds ActivityRecord.Data lazily from the event metadata,
// which NormalizeEvent already detached from the caller.
type recordData struct {
	values map[string]any
}

func (d *recordData) set(key string, value any) {
	if d.values == nil {
		d.values = map[string]any{}
	}
	d.values[key] = value
}

// resolve maps name to an id, recording name under key when it maps to
// uuid.Nil.
func (d *recordData) resolve(key, name string, resolver func(string) uuid.UUID) uuid.UUID {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil
	}
	id := parseUUID(name)
	if resolver != nil {
		id = resolver(name)
	}
	if id == uuid.Nil {
		d.set(key, name)
	}
	return id
}

func parseUUID(input string) uuid.UUID {
	id, err := uuid.Parse(input)
	if err != nil {
		return uuid.Nil
	}
	return id
}
