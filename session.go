package annotate

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/goliatone/go-annotate/pkg/activity"
)

// Session owns the current State of one user's view of one document and
// serializes actions against it. It fills the impure inputs the reducer
// refuses to invent (annotation ids and save times), notifies activity hooks
// and subscribers after every applied transition, and logs each dispatch.
//
// A Session is safe for concurrent use; dispatches run one at a time.
type Session struct {
	mu          sync.Mutex
	state       State
	cfg         sessionConfig
	emitter     *activity.Emitter
	subscribers map[int]func(State)
	nextSub     int
}

// NewSession constructs a session with an empty document.
func NewSession(opts ...Option) *Session {
	cfg := applyOptions(opts)
	s := &Session{
		cfg: cfg,
		emitter: activity.NewEmitter(cfg.activityHooks, activity.Config{
			Enabled: len(cfg.activityHooks) > 0,
			Channel: cfg.activityChannel,
			Tenant:  cfg.activityTenant,
		}),
		subscribers: map[int]func(State){},
	}
	s.state.UI.User = cfg.user
	s.state.Model.Mime = DefaultMime
	return s
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies action and returns the resulting state. Disallowed actions
// leave the state unchanged and return a nil error.
func (s *Session) Dispatch(ctx context.Context, action Action) (State, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	prev := s.state
	action = s.complete(action)
	start := time.Now()
	next, applied, err := reduce(prev, action)

	event := DispatchLogEvent{
		Action:   actionName(action),
		User:     prev.UI.User,
		Document: prev.Model.Href,
		From:     prev.Phase(),
		To:       prev.Phase(),
		Err:      err,
	}
	if err != nil || !applied {
		s.mu.Unlock()
		event.Duration = time.Since(start)
		s.cfg.dispatchLogger().LogDispatch(event)
		return prev, err
	}

	s.state = next
	subscribers := s.subscriberList()
	s.mu.Unlock()

	events := transitionEvents(prev, next, action, s.cfg.now())
	var activityErr error
	for _, evt := range events {
		if err := s.emitter.Emit(ctx, evt); err != nil && activityErr == nil {
			activityErr = err
		}
	}

	event.Applied = true
	event.To = next.Phase()
	event.Events = len(events)
	event.ActivityErr = activityErr
	event.Duration = time.Since(start)
	s.cfg.dispatchLogger().LogDispatch(event)

	for _, fn := range subscribers {
		fn(next)
	}
	return next, nil
}

// Load parses raw and replaces the session document with it.
func (s *Session) Load(ctx context.Context, href, raw string) (State, error) {
	doc, err := ParseSource(href, raw)
	if err != nil {
		return s.State(), err
	}
	return s.Dispatch(ctx, LoadDocument{
		Href:        href,
		Content:     doc.Content,
		Annotations: doc.Annotations,
	})
}

// Export serializes the document content with its persistable annotations.
func (s *Session) Export() (string, error) {
	return s.State().Document().Serialize()
}

// Query evaluates expr against the session's annotations using the
// configured evaluator, with "mine" computed for the session user.
func (s *Session) Query(ctx context.Context, expr string, opts ...QueryOption) ([]Annotation, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	current := s.state
	evaluator, err := s.cfg.resolveEvaluator()
	logger := s.cfg.evalLogger()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	base := []QueryOption{
		QueryWithEvaluator(evaluator),
		QueryWithUser(current.UI.User),
		QueryWithLogger(logger),
		QueryWithMetadata(map[string]any{"href": current.Model.Href}),
	}
	return Query(current.Model.Annotations, expr, append(base, opts...)...)
}

// Subscribe registers fn to receive every state produced by an applied
// transition. Subscribers run synchronously after the transition commits and
// may dispatch further actions. The returned function unsubscribes.
func (s *Session) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// complete fills the id of a new annotation and the time of a save.
func (s *Session) complete(action Action) Action {
	switch a := action.(type) {
	case CreateAnnotation:
		if a.ID == "" {
			a.ID = s.cfg.nextID()
		}
		return a
	case SaveAnnotation:
		if a.At.IsZero() {
			a.At = s.cfg.now()
		}
		return a
	default:
		return action
	}
}

func (s *Session) subscriberList() []func(State) {
	if len(s.subscribers) == 0 {
		return nil
	}
	ids := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(State), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subscribers[id])
	}
	return out
}

func actionName(action Action) string {
	if action == nil {
		return "<nil>"
	}
	return action.Type()
}
