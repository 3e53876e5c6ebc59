package activity

import (
	"context"
	"strings"
)

// DefaultChannel is applied to events emitted without a channel.
const DefaultChannel = "annotations"

// Config holds the defaults a session stamps on its events.
type Config struct {
	Enabled bool
	// Channel groups events, DefaultChannel when empty.
	Channel string
	// Tenant is the workspace of the annotated document, copied into
	// Event.TenantID when the event has none.
	Tenant string
}

// Emitter sends one session's lifecycle events to its hooks.
type Emitter struct {
	hooks   Hooks
	enabled bool
	channel string
	tenant  string
}

// NewEmitter drops nil hooks and resolves the defaults of cfg. An emitter
// without hooks is disabled whatever cfg says.
func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	e := &Emitter{
		channel: strings.TrimSpace(cfg.Channel),
		tenant:  strings.TrimSpace(cfg.Tenant),
	}
	if e.channel == "" {
		e.channel = DefaultChannel
	}
	for _, hook := range hooks {
		if hook != nil {
			e.hooks = append(e.hooks, hook)
		}
	}
	e.enabled = cfg.Enabled && len(e.hooks) > 0
	return e
}

// Enabled reports whether Emit reaches any hook.
func (e *Emitter) Enabled() bool {
	return e != nil && e.enabled
}

// Channel returns the channel applied to events that carry none.
func (e *Emitter) Channel() string {
	if e == nil {
		return DefaultChannel
	}
	return e.channel
}

// Emit stamps the channel and tenant defaults on event and notifies the hooks.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	if strings.TrimSpace(event.Channel) == "" {
		event.Channel = e.channel
	}
	if strings.TrimSpace(event.TenantID) == "" {
		event.TenantID = e.tenant
	}
	return e.hooks.Notify(ctx, event)
}
