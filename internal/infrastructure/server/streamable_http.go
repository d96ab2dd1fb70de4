package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"

	"github.com/seekhub/knowledge-mcp-server/internal/domain"
	"github.com/seekhub/knowledge-mcp-server/internal/infrastructure/logging"
)

// SessionIDHeader carries the session id on both requests and responses.
const SessionIDHeader = "Mcp-Session-Id"

// lastEventIDHeader is sent by SSE clients resuming a dropped stream.
const lastEventIDHeader = "Last-Event-ID"

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")

	jsonMediaTypes        = []contenttype.MediaType{jsonMediaType}
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// MessageHandler processes one classified message and returns a response
// when one is owed, nil otherwise.
type MessageHandler func(ctx context.Context, msg domain.Message) *domain.JSONRPCResponse

// StreamableHTTPServer serves the session-oriented streamable HTTP
// transport: JSON-RPC over POST with JSON or SSE replies, a standing SSE
// push channel over GET, and session teardown over DELETE.
type StreamableHTTPServer struct {
	endpointPath   string
	allowedOrigins []string
	store          *SessionStore
	handler        MessageHandler
	logger         *logging.Logger
	router         chi.Router
	srv            *http.Server
}

// StreamableHTTPOption configures a StreamableHTTPServer.
type StreamableHTTPOption func(*StreamableHTTPServer)

// WithEndpointPath sets the single HTTP path the transport serves.
func WithEndpointPath(path string) StreamableHTTPOption {
	return func(s *StreamableHTTPServer) {
		if path != "" {
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			s.endpointPath = path
		}
	}
}

// WithAllowedOrigins sets the Origin allow-list. Entries may be exact
// origins, "*", or a prefix ending in "*". An empty list allows any origin.
func WithAllowedOrigins(origins []string) StreamableHTTPOption {
	return func(s *StreamableHTTPServer) {
		s.allowedOrigins = origins
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *logging.Logger) StreamableHTTPOption {
	return func(s *StreamableHTTPServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStreamableHTTPServer creates the transport over the given session store
// and message handler.
func NewStreamableHTTPServer(store *SessionStore, handler MessageHandler, opts ...StreamableHTTPOption) *StreamableHTTPServer {
	s := &StreamableHTTPServer{
		endpointPath: "/mcp",
		store:        store,
		handler:      handler,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
	r.MethodFunc(http.MethodOptions, s.endpointPath, s.handleOptions)
	r.MethodFunc(http.MethodPost, s.endpointPath, s.handlePost)
	r.MethodFunc(http.MethodGet, s.endpointPath, s.handleGet)
	r.MethodFunc(http.MethodDelete, s.endpointPath, s.handleDelete)
	s.router = r

	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *StreamableHTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start begins serving on the given address. It blocks until the listener
// fails or Shutdown is called.
func (s *StreamableHTTPServer) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s,
	}
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "listening")
	}
	return nil
}

// Shutdown gracefully stops the server, closing every session and stream.
func (s *StreamableHTTPServer) Shutdown(ctx context.Context) error {
	s.store.Close()
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// SendToSession pushes a server-initiated message to every open stream of
// the session.
func (s *StreamableHTTPServer) SendToSession(sessionID string, message interface{}) error {
	sess := s.store.Get(sessionID)
	if sess == nil {
		return ErrSessionNotFound
	}
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "marshalling message")
	}
	return sess.Publish("message", data)
}

// recoverer converts panics into a generic InternalError envelope without
// leaking stack traces, and never double-writes once headers have been sent.
func (s *StreamableHTTPServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in handler", logging.Fields{
					"panic": fmt.Sprint(rec),
					"path":  r.URL.Path,
				})
				if ww.Status() == 0 {
					s.writeErrorEnvelope(ww, http.StatusInternalServerError, nil, domain.ErrCodeInternal, "internal server error")
				}
			}
		}()
		next.ServeHTTP(ww, r)
	})
}

// originAllowed validates the Origin header against the allow-list to block
// DNS-rebinding style cross-origin access. Requests without an Origin header
// (non-browser clients) are always allowed, as is everything when the list
// is empty.
func (s *StreamableHTTPServer) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if strings.HasSuffix(allowed, "*") && strings.HasPrefix(origin, strings.TrimSuffix(allowed, "*")) {
			return true
		}
	}
	return false
}

func (s *StreamableHTTPServer) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Expose-Headers", SessionIDHeader)
}

func (s *StreamableHTTPServer) handleOptions(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	s.setCORSHeaders(w, r)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, "+SessionIDHeader+", "+lastEventIDHeader)
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes client-to-server messages: requests, notifications,
// and responses, singly or batched.
func (s *StreamableHTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	s.setCORSHeaders(w, r)

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		http.Error(w, "content type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		s.writeErrorEnvelope(w, http.StatusBadRequest, nil, domain.ErrCodeParse, "parse error")
		return
	}
	envelopes, isBatch, ok := domain.SplitBatch(raw)
	if !ok {
		s.writeErrorEnvelope(w, http.StatusBadRequest, nil, domain.ErrCodeParse, "parse error")
		return
	}
	if len(envelopes) == 0 {
		s.writeErrorEnvelope(w, http.StatusBadRequest, nil, domain.ErrCodeInvalidRequest, "empty batch")
		return
	}

	msgs := make([]domain.Message, len(envelopes))
	hasRequest := false
	owesReply := false
	for i, env := range envelopes {
		msgs[i] = domain.ClassifyMessage(env)
		switch msgs[i].Kind {
		case domain.KindRequest:
			hasRequest = true
			owesReply = true
		case domain.KindMalformed:
			owesReply = true
		}
	}

	sess := s.store.Get(r.Header.Get(SessionIDHeader))
	if sess == nil {
		// An initialize request with no valid bound session mints one; its id
		// is surfaced via the response header.
		for _, m := range msgs {
			if m.Kind != domain.KindRequest || m.Request.Method != domain.MethodInitialize {
				continue
			}
			created, err := s.store.Create(clientInfoFromParams(m.Request.Params))
			if err != nil {
				s.logger.Error("creating session", logging.Fields{"error": err.Error()})
				s.writeErrorEnvelope(w, http.StatusInternalServerError, m.Request.ID, domain.ErrCodeInternal, "internal server error")
				return
			}
			sess = created
			break
		}
	}
	if sess == nil && hasRequest {
		http.Error(w, "session required", http.StatusUnauthorized)
		return
	}
	if sess != nil {
		w.Header().Set(SessionIDHeader, sess.ID())
	}

	if !owesReply {
		// Notifications and client responses owe no reply and open no stream.
		for _, m := range msgs {
			s.handler(r.Context(), m)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if s.accepts(r, eventStreamMediaTypes) {
		s.respondSSE(w, r, sess, msgs)
		return
	}
	if s.accepts(r, jsonMediaTypes) {
		s.respondJSON(w, r, msgs, isBatch)
		return
	}
	http.Error(w, "not acceptable", http.StatusNotAcceptable)
}

// respondJSON dispatches every envelope synchronously and writes the replies
// as one JSON body: a bare object when the client sent a bare object, an
// array otherwise.
func (s *StreamableHTTPServer) respondJSON(w http.ResponseWriter, r *http.Request, msgs []domain.Message, isBatch bool) {
	responses := make([]*domain.JSONRPCResponse, 0, len(msgs))
	for _, m := range msgs {
		if resp := s.handler(r.Context(), m); resp != nil {
			responses = append(responses, resp)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	var err error
	if isBatch {
		err = json.NewEncoder(w).Encode(responses)
	} else {
		err = json.NewEncoder(w).Encode(responses[0])
	}
	if err != nil {
		s.logger.Warn("writing JSON reply", logging.Fields{"error": err.Error()})
	}
}

// respondSSE opens a reply stream scoped to this POST, pushes one event per
// response, and closes once every expected reply has been delivered.
func (s *StreamableHTTPServer) respondSSE(w http.ResponseWriter, r *http.Request, sess *Session, msgs []domain.Message) {
	stream, err := NewSSEStream(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	if sess != nil {
		if err := sess.RegisterStream(stream); err == nil {
			defer sess.DeregisterStream(stream.ID())
		}
	}

	writeSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	stream.Flush()

	// Every envelope is dispatched, reply-bearing or not; the stream closes
	// only once the whole batch has been worked through.
	ctx := r.Context()
	for _, m := range msgs {
		if ctx.Err() != nil {
			// Client disconnected; discard remaining work rather than write
			// to a dead socket.
			return
		}
		resp := s.handler(ctx, m)
		if resp == nil {
			continue
		}
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("marshalling response", logging.Fields{"error": err.Error()})
			continue
		}
		if err := stream.WriteEvent("message", data); err != nil {
			s.logger.Warn("writing SSE reply", logging.Fields{"error": err.Error()})
			return
		}
	}
}

// handleGet opens the standing server-to-client push stream for a session.
func (s *StreamableHTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	s.setCORSHeaders(w, r)

	if !s.accepts(r, eventStreamMediaTypes) {
		http.Error(w, "accept must include text/event-stream", http.StatusNotAcceptable)
		return
	}

	sess := s.store.Get(r.Header.Get(SessionIDHeader))
	if sess == nil {
		http.Error(w, "valid session required", http.StatusUnauthorized)
		return
	}

	stream, err := NewSSEStream(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	if err := sess.RegisterStream(stream); err != nil {
		http.Error(w, "valid session required", http.StatusUnauthorized)
		return
	}
	defer sess.DeregisterStream(stream.ID())

	// Replay of missed events is not implemented; a resuming client starts
	// from the live stream.
	if lastID := r.Header.Get(lastEventIDHeader); lastID != "" {
		s.logger.Info("client resumed stream", logging.Fields{
			"session_id":    sess.ID(),
			"last_event_id": lastID,
		})
	}

	writeSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := stream.WriteEvent("connected", []byte(fmt.Sprintf(`{"sessionId":%q}`, sess.ID()))); err != nil {
		return
	}

	stream.Run(r.Context())
}

// handleDelete ends a session, closing every stream registered to it.
func (s *StreamableHTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	s.setCORSHeaders(w, r)

	id := r.Header.Get(SessionIDHeader)
	if id == "" {
		http.Error(w, "missing "+SessionIDHeader+" header", http.StatusBadRequest)
		return
	}
	if !s.store.Delete(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// accepts reports whether the request's Accept header admits one of the
// available media types. A missing Accept header admits anything.
func (s *StreamableHTTPServer) accepts(r *http.Request, available []contenttype.MediaType) bool {
	_, _, err := contenttype.GetAcceptableMediaType(r, available)
	return err == nil
}

func (s *StreamableHTTPServer) writeErrorEnvelope(w http.ResponseWriter, status int, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(domain.CreateErrorResponse(id, code, message)); err != nil {
		s.logger.Warn("writing error envelope", logging.Fields{"error": err.Error()})
	}
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func clientInfoFromParams(params json.RawMessage) domain.ClientInfo {
	var p domain.InitializeParams
	// Client info is opaque; a malformed payload simply yields empty info.
	_ = json.Unmarshal(params, &p)
	return p.ClientInfo
}
