package activity

import (
	"context"
	"sync"
)

// CaptureHook keeps every normalized event it receives. Tests and examples
// use it to assert on what a session emitted. Err, when set, is returned from
// every Notify after the event is kept.
type CaptureHook struct {
	Events []Event
	Err    error
	mu     sync.Mutex
}

func (h *CaptureHook) Notify(_ context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Events = append(h.Events, NormalizeEvent(event))
	return h.Err
}

// Snapshot copies the events kept so far.
func (h *CaptureHook) Snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.Events...)
}

// Verbs lists the kept verbs in emission order.
func (h *CaptureHook) Verbs() []string {
	events := h.Snapshot()
	verbs := make([]string, len(events))
	for i, event := range events {
		verbs[i] = event.Verb
	}
	return verbs
}

// ForDocument keeps only the events about document.
func (h *CaptureHook) ForDocument(document string) []Event {
	var out []Event
	for _, event := range h.Snapshot() {
		if event.Document == document {
			out = append(out, event)
		}
	}
	return out
}
