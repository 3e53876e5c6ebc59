// Package server exposes annotated documents and per-user annotation
// sessions over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	annotate "github.com/goliatone/go-annotate"
	"github.com/goliatone/go-annotate/internal/logging"
	"github.com/goliatone/go-annotate/pkg/activity"
	"github.com/goliatone/go-annotate/pkg/state"
)

const maxBodyBytes = 4 << 20

type sessionKey struct {
	document string
	user     string
}

// hostedSession is one user's session on one document. mu serializes
// dispatches; etag is the stored version the session was loaded from or last
// saved as and is guarded by the server mutex.
type hostedSession struct {
	mu      sync.Mutex
	session *annotate.Session
	etag    string
}

type lister interface {
	List(ctx context.Context) ([]string, error)
}

// Server routes HTTP requests to the repository and to in-memory sessions.
type Server struct {
	cfg       Config
	repo      state.Repository
	logger    zerolog.Logger
	adapter   *logging.Adapter
	hooks     activity.Hooks
	evaluator annotate.Evaluator
	router    *mux.Router

	mu       sync.Mutex
	sessions map[sessionKey]*hostedSession
}

// New builds a server over repo. Extra hooks receive every activity event
// next to the logging hook.
func New(cfg Config, repo state.Repository, logger zerolog.Logger, hooks ...activity.ActivityHook) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if repo.Store == nil {
		return nil, errors.New("server: store is required")
	}
	evaluator, err := annotate.NewEvaluator(cfg.Engine, annotate.NewMemoryProgramCache(), annotate.DefaultFunctions())
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	adapter := logging.NewAdapter(logger)
	s := &Server{
		cfg:       cfg,
		repo:      repo,
		logger:    logger,
		adapter:   adapter,
		hooks:     append(activity.Hooks{adapter.Hook()}, hooks...),
		evaluator: evaluator,
		sessions:  map[sessionKey]*hostedSession{},
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestLoggerMiddleware)

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/documents", s.listDocumentsHandler).Methods("GET")
	r.HandleFunc("/documents/{ref:.+}/state", s.stateHandler).Methods("GET")
	r.HandleFunc("/documents/{ref:.+}/actions", s.actionHandler).Methods("POST")
	r.HandleFunc("/documents/{ref:.+}/annotations", s.annotationsHandler).Methods("GET")
	r.HandleFunc("/documents/{ref:.+}", s.getDocumentHandler).Methods("GET")
	r.HandleFunc("/documents/{ref:.+}", s.putDocumentHandler).Methods("PUT")
	r.HandleFunc("/documents/{ref:.+}", s.deleteDocumentHandler).Methods("DELETE")
	return r
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	l, ok := s.repo.Store.(lister)
	if !ok {
		jsonError(w, http.StatusNotImplemented, "store cannot list documents")
		return
	}
	keys, err := l.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	jsonResponse(w, http.StatusOK, map[string]any{"documents": keys})
}

func (s *Server) getDocumentHandler(w http.ResponseWriter, r *http.Request) {
	ref := refFromRequest(r)
	raw, meta, err := s.repo.Raw(r.Context(), ref)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", annotate.DefaultMime+"; charset=utf-8")
	w.Header().Set("ETag", quoteETag(meta.ETag))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, raw)
}

func (s *Server) putDocumentHandler(w http.ResponseWriter, r *http.Request) {
	ref := refFromRequest(r)
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	_, _, loadErr := s.repo.Raw(r.Context(), ref)
	created := errors.Is(loadErr, state.ErrNotFound)

	meta, err := s.repo.Put(r.Context(), ref, string(body), state.Meta{ETag: unquoteETag(r.Header.Get("If-Match"))})
	if err != nil {
		s.fail(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("ETag", quoteETag(meta.ETag))
	jsonResponse(w, status, meta)
}

func (s *Server) deleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	ref := refFromRequest(r)
	if err := s.repo.Delete(r.Context(), ref); err != nil {
		s.fail(w, err)
		return
	}
	s.forget(ref)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	hosted, err := s.session(r.Context(), refFromRequest(r), userFromRequest(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, hosted.session.State())
}

func (s *Server) actionHandler(w http.ResponseWriter, r *http.Request) {
	ref := refFromRequest(r)
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	action, err := annotate.DecodeAction(body)
	if err != nil {
		s.fail(w, err)
		return
	}
	switch action.(type) {
	case annotate.LoadDocument, annotate.Login, annotate.Logout:
		jsonError(w, http.StatusBadRequest, fmt.Sprintf("action %q is managed by the server", action.Type()))
		return
	}

	hosted, err := s.session(r.Context(), ref, userFromRequest(r))
	if err != nil {
		s.fail(w, err)
		return
	}

	hosted.mu.Lock()
	defer hosted.mu.Unlock()

	before, err := hosted.session.Export()
	if err != nil {
		s.fail(w, err)
		return
	}
	next, err := hosted.session.Dispatch(r.Context(), action)
	if err != nil {
		s.fail(w, err)
		return
	}
	after, err := hosted.session.Export()
	if err != nil {
		s.fail(w, err)
		return
	}

	if after != before {
		meta, err := s.repo.Put(r.Context(), ref, after, state.Meta{ETag: s.etagOf(hosted)})
		if err != nil {
			if errors.Is(err, state.ErrETagMismatch) {
				s.forget(ref)
			}
			s.fail(w, err)
			return
		}
		s.setETag(hosted, meta.ETag)
		w.Header().Set("ETag", quoteETag(meta.ETag))
	}
	jsonResponse(w, http.StatusOK, next)
}

func (s *Server) annotationsHandler(w http.ResponseWriter, r *http.Request) {
	hosted, err := s.session(r.Context(), refFromRequest(r), userFromRequest(r))
	if err != nil {
		s.fail(w, err)
		return
	}

	where := strings.TrimSpace(r.URL.Query().Get("where"))
	var results []annotate.Annotation
	if where == "" {
		results = hosted.session.State().Model.Annotations.All()
	} else {
		results, err = hosted.session.Query(r.Context(), where)
		if err != nil {
			s.fail(w, err)
			return
		}
	}
	if results == nil {
		results = []annotate.Annotation{}
	}
	jsonResponse(w, http.StatusOK, map[string]any{"annotations": results})
}

// session returns the cached session for (ref, user), loading a fresh one
// when none exists or the stored document changed since it was loaded.
func (s *Server) session(ctx context.Context, ref state.Ref, user string) (*hostedSession, error) {
	document, err := ref.Identifier()
	if err != nil {
		return nil, err
	}
	raw, meta, err := s.repo.Raw(ctx, ref)
	if err != nil {
		return nil, err
	}

	key := sessionKey{document: document, user: user}
	s.mu.Lock()
	defer s.mu.Unlock()
	if hosted, ok := s.sessions[key]; ok && hosted.etag == meta.ETag {
		return hosted, nil
	}

	session := annotate.NewSession(
		annotate.WithUser(user),
		annotate.WithLogger(s.adapter),
		annotate.WithEvaluatorLogger(s.adapter),
		annotate.WithEvaluator(s.evaluator),
		annotate.WithActivityHooks(s.hooks),
		annotate.WithActivityChannel(s.cfg.ActivityChannel),
		annotate.WithActivityTenant(ref.Workspace),
	)
	if _, err := session.Load(ctx, ref.Document, raw); err != nil {
		return nil, err
	}
	hosted := &hostedSession{session: session, etag: meta.ETag}
	s.sessions[key] = hosted
	return hosted, nil
}

func (s *Server) etagOf(hosted *hostedSession) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hosted.etag
}

func (s *Server) setETag(hosted *hostedSession, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hosted.etag = etag
}

// forget drops every session on the document at ref.
func (s *Server) forget(ref state.Ref) {
	document, err := ref.Identifier()
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.sessions {
		if key.document == document {
			delete(s.sessions, key)
		}
	}
}

// readBody reads at most maxBodyBytes. Larger bodies are rejected with 413
// instead of being cut short.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err == nil {
		return body, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		jsonError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Body exceeds %d bytes", tooLarge.Limit))
		return nil, false
	}
	jsonError(w, http.StatusBadRequest, "Failed to read body")
	return nil, false
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	jsonError(w, status, err.Error())
}

func statusFor(err error) int {
	var evalErr *annotate.EvaluationError
	switch {
	case errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrETagMismatch):
		return http.StatusPreconditionFailed
	case errors.Is(err, state.ErrInvalidRef),
		errors.Is(err, annotate.ErrUnknownAction),
		errors.Is(err, annotate.ErrEmptyExpression),
		errors.As(err, &evalErr):
		return http.StatusBadRequest
	case errors.Is(err, annotate.ErrMalformedBlock),
		errors.Is(err, annotate.ErrMissingID),
		errors.Is(err, annotate.ErrDuplicateID),
		errors.Is(err, annotate.ErrInvalidPosition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}

func refFromRequest(r *http.Request) state.Ref {
	return state.Ref{
		Workspace: r.URL.Query().Get("workspace"),
		Document:  mux.Vars(r)["ref"],
	}
}

func userFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("user"))
}

func quoteETag(etag string) string {
	if etag == "" {
		return ""
	}
	return `"` + etag + `"`
}

func unquoteETag(etag string) string {
	return strings.Trim(strings.TrimSpace(etag), `"`)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		entry := s.logger.Info()
		if rw.statusCode >= http.StatusInternalServerError {
			entry = s.logger.Error()
		} else if rw.statusCode >= http.StatusBadRequest {
			entry = s.logger.Warn()
		}
		entry.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}
